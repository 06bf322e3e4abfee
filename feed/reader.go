/*
Package feed decodes the batch input into ledger events.

PURPOSE:
  Reads `kind, client, tx, amount` records in file order and hands them to
  the engine one at a time (ledger.EventSource). Decoding is the only place
  a record can be malformed; the engine only ever sees well-formed events.

RECORD SHAPE:
  deposit,    1, 1, 1.0
  withdrawal, 1, 4, 1.5
  dispute,    1, 4
  resolve,    1, 4,
  chargeback, 1, 4

  - Whitespace around fields is ignored; kind is matched case-insensitively.
  - client is an unsigned 16-bit integer, tx an unsigned 32-bit integer.
  - amount is a decimal, required and non-negative for deposit and
    withdrawal, ignored for the dispute family (it may be empty or absent).
    At most MaxScale fractional and MaxIntegerDigits integer digits.
  - A UTF-8 byte order mark before the first record is dropped.
  - An optional header line is skipped when WithHeader(true) is given.

ERRORS:
  A record that cannot be decoded yields *MalformedRecordError, which
  matches both ErrMalformedRecord and ledger.ErrMalformedEvent. Any other
  error is an I/O failure of the underlying reader.
*/
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/warp/settlement-engine/ledger"
)

var ErrMalformedRecord = errors.New("malformed record")

// Amount precision accepted from the input.
const (
	MaxScale         = 28
	MaxIntegerDigits = 28
)

const bom = "\ufeff"

// MalformedRecordError reports the input line of a record that could not
// be decoded.
type MalformedRecordError struct {
	Line int
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("line %d: %s: %v", e.Line, ErrMalformedRecord, e.Err)
}

func (e *MalformedRecordError) Unwrap() []error {
	return []error{ErrMalformedRecord, ledger.ErrMalformedEvent, e.Err}
}

// IsMalformed reports whether err came from a record that could not be decoded.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedRecord)
}

// Option configures a Reader.
type Option func(*Reader)

// WithHeader skips the first record when has is true.
func WithHeader(has bool) Option {
	return func(r *Reader) { r.skipHeader = has }
}

// Reader is a ledger.EventSource over CSV input.
type Reader struct {
	csv        *csv.Reader
	fold       cases.Caser
	skipHeader bool
	started    bool
	line       int
}

var _ ledger.EventSource = (*Reader)(nil)

func NewReader(r io.Reader, opts ...Option) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // amount is optional
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	reader := &Reader{csv: cr, fold: cases.Fold()}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// Line returns the input line of the last record read.
func (r *Reader) Line() int { return r.line }

// Next returns the next event, io.EOF once the input is drained, or a
// *MalformedRecordError for a record that cannot be decoded. A malformed
// record does not stop the reader; calling Next again moves on.
func (r *Reader) Next() (ledger.TransactionEvent, error) {
	for {
		fields, err := r.csv.Read()
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				r.line = pe.StartLine
				return ledger.TransactionEvent{}, &MalformedRecordError{Line: pe.StartLine, Err: pe.Err}
			}
			return ledger.TransactionEvent{}, err
		}
		r.line, _ = r.csv.FieldPos(0)

		if !r.started {
			r.started = true
			fields[0] = strings.TrimPrefix(fields[0], bom)
		}
		if r.skipHeader {
			r.skipHeader = false
			continue
		}

		ev, err := r.decode(fields)
		if err != nil {
			return ledger.TransactionEvent{}, &MalformedRecordError{Line: r.line, Err: err}
		}
		return ev, nil
	}
}

func (r *Reader) decode(fields []string) (ledger.TransactionEvent, error) {
	if len(fields) < 3 || len(fields) > 4 {
		return ledger.TransactionEvent{}, fmt.Errorf("want 3 or 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	kind := ledger.Kind(r.fold.String(fields[0]))
	if !kind.Valid() {
		return ledger.TransactionEvent{}, fmt.Errorf("unknown kind %q", fields[0])
	}

	client, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return ledger.TransactionEvent{}, fmt.Errorf("client %q: %w", fields[1], numErr(err))
	}
	tx, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return ledger.TransactionEvent{}, fmt.Errorf("tx %q: %w", fields[2], numErr(err))
	}

	ev := ledger.TransactionEvent{
		Kind:     kind,
		ClientID: ledger.ClientID(client),
		EventID:  ledger.EventID(tx),
	}
	if !kind.Settles() {
		return ev, nil
	}

	if len(fields) < 4 || fields[3] == "" {
		return ledger.TransactionEvent{}, fmt.Errorf("%s requires an amount", kind)
	}
	amount, err := decimal.NewFromString(fields[3])
	if err != nil {
		return ledger.TransactionEvent{}, fmt.Errorf("amount %q: not a decimal", fields[3])
	}
	if amount.IsNegative() {
		return ledger.TransactionEvent{}, fmt.Errorf("amount %s is negative", fields[3])
	}
	// Bounded before any arithmetic; "1e-50000000" is short but unbounded.
	exp := int(amount.Exponent())
	if exp < -MaxScale {
		return ledger.TransactionEvent{}, fmt.Errorf("amount %q: more than %d fractional digits", fields[3], MaxScale)
	}
	if amount.NumDigits()+exp > MaxIntegerDigits {
		return ledger.TransactionEvent{}, fmt.Errorf("amount %q: more than %d integer digits", fields[3], MaxIntegerDigits)
	}
	ev.Amount = amount
	return ev, nil
}

// numErr drops strconv's function prefix, keeping "value out of range" or
// "invalid syntax".
func numErr(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return ne.Err
	}
	return err
}
