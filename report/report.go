/*
Package report renders the final account snapshot.

PURPOSE:
  After the last event the ledger is written once, ordered by client id,
  to stdout. Amounts are rendered with exactly four decimal places; the
  ledger itself keeps full precision.

FORMATS:
  csv:  client,available,held,total,locked
        1,1.5000,0.0000,1.5000,false
  json: [{"client":1,"available":"1.5000","held":"0.0000","total":"1.5000","locked":false}]

  JSON amounts are strings so no consumer parses them back into floats.
*/
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/warp/settlement-engine/ledger"
)

// Places is the number of decimal places in rendered amounts.
const Places = 4

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Header is the CSV header line.
var Header = []string{"client", "available", "held", "total", "locked"}

// Renderer writes a snapshot of accounts to w.
type Renderer interface {
	Render(w io.Writer, accounts []ledger.Account) error
}

// New returns the renderer for format.
func New(format string) (Renderer, error) {
	switch format {
	case FormatCSV:
		return CSV{}, nil
	case FormatJSON:
		return JSON{Indent: "  "}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// Row is one rendered account.
type Row struct {
	Client    ledger.ClientID `json:"client"`
	Available string          `json:"available"`
	Held      string          `json:"held"`
	Total     string          `json:"total"`
	Locked    bool            `json:"locked"`
}

// NewRow renders acct's amounts at Places decimal places.
func NewRow(acct ledger.Account) Row {
	return Row{
		Client:    acct.ClientID,
		Available: acct.Available.StringFixed(Places),
		Held:      acct.Held.StringFixed(Places),
		Total:     acct.Total.StringFixed(Places),
		Locked:    acct.Locked,
	}
}

// CSV renders the header followed by one line per account.
type CSV struct{}

func (CSV) Render(w io.Writer, accounts []ledger.Account) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, acct := range accounts {
		r := NewRow(acct)
		record := []string{
			strconv.FormatUint(uint64(r.Client), 10),
			r.Available,
			r.Held,
			r.Total,
			strconv.FormatBool(r.Locked),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// JSON renders an array of rows. An empty ledger is [].
type JSON struct {
	Indent string
}

func (j JSON) Render(w io.Writer, accounts []ledger.Account) error {
	rows := make([]Row, 0, len(accounts))
	for _, acct := range accounts {
		rows = append(rows, NewRow(acct))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", j.Indent)
	return enc.Encode(rows)
}
