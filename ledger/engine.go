/*
engine.go - Per-event settlement state machine

PURPOSE:
  The Engine applies one TransactionEvent at a time to the ledger. Each
  event re-reads current state through the repositories, computes the
  next state and writes it, all inside one atomic unit (TxStore.WithTx).
  No account state is cached between events.

RULES (in order):
  1. Locked account: every event for the client is discarded.
  2. Deposit:    opens the account, or available += amount, total += amount.
  3. Withdrawal: needs an open account and available >= amount;
                 available -= amount, total -= amount.
  4. Dispute:    the referenced settled withdrawal moves into held;
                 held += amount, total += amount, record -> disputed.
  5. Resolve:    active dispute only; held -= amount, total -= amount,
                 record -> resolved. The withdrawal stands.
  6. Chargeback: active dispute only; held -= amount, available += amount,
                 account locked, record -> chargedback.
  7. Accepted deposits and withdrawals are appended to the event log. A
     reused event id is a rule violation and the whole event is discarded.

  Deposits can never be disputed: a dispute, resolve or chargeback that
  references one has no effect.

FAILURE POLICY:
  A rule violation discards the event and is logged. A storage error or
  an unbalanced account rolls back every write of the event, is logged at
  error level, and processing continues with the next event. Apply never
  returns an error and never panics on a store failure.

SEE ALSO:
  - replay.go: Drives the engine over an EventSource
  - store.go: Repository contracts
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is not safe for concurrent use: events must be applied one at a
// time, in input order.
type Engine struct {
	session *Session
	log     *zap.Logger
	stats   Stats
}

func NewEngine(session *Session) *Engine {
	return &Engine{
		session: session,
		log:     session.Logger,
	}
}

// Stats returns the counters accumulated so far.
func (e *Engine) Stats() Stats { return e.stats }

// Apply settles a single event. Outcomes are visible only through the
// store, the logger and Stats.
func (e *Engine) Apply(ctx context.Context, ev TransactionEvent) {
	e.stats.Read++

	err := e.session.Store.WithTx(ctx, func(s Store) error {
		return e.apply(ctx, s, ev)
	})

	log := e.log.With(
		zap.String("kind", string(ev.Kind)),
		zap.Uint16("client", uint16(ev.ClientID)),
		zap.Uint32("tx", uint32(ev.EventID)),
	)

	switch {
	case err == nil:
		e.stats.Applied++
		log.Debug("event applied")
	case IsRuleViolation(err):
		e.stats.Discarded++
		if IsQuiet(err) {
			log.Debug("event discarded", zap.Error(unwrapViolation(err)))
		} else {
			log.Warn("event discarded", zap.Error(unwrapViolation(err)))
		}
	default:
		e.stats.Failed++
		log.Error("event rolled back", zap.Error(err))
	}
}

func unwrapViolation(err error) error {
	var rv *RuleViolation
	if errors.As(err, &rv) {
		return rv.Err
	}
	return err
}

func (e *Engine) apply(ctx context.Context, s Store, ev TransactionEvent) error {
	acct, err := s.GetAccount(ctx, ev.ClientID)
	if err != nil {
		return storageErr("get account", err)
	}
	if acct != nil && acct.Locked {
		return violation(ev, ErrAccountLocked)
	}
	if acct == nil && ev.Kind != KindDeposit {
		return violation(ev, ErrAccountNotOpen)
	}

	switch ev.Kind {
	case KindDeposit:
		err = e.deposit(ctx, s, acct, ev)
	case KindWithdrawal:
		err = e.withdraw(ctx, s, *acct, ev)
	case KindDispute:
		err = e.dispute(ctx, s, *acct, ev)
	case KindResolve:
		err = e.resolve(ctx, s, *acct, ev)
	case KindChargeback:
		err = e.chargeback(ctx, s, *acct, ev)
	default:
		return violation(ev, fmt.Errorf("unknown kind %q", ev.Kind))
	}
	if err != nil {
		return err
	}

	if ev.Kind.Settles() {
		entry := EventLogEntry{
			EventID:  ev.EventID,
			ClientID: ev.ClientID,
			Kind:     ev.Kind,
			Amount:   ev.Amount,
		}
		if err := s.InsertEvent(ctx, entry); err != nil {
			if errors.Is(err, ErrDuplicateEvent) {
				return violation(ev, ErrDuplicateEvent)
			}
			return storageErr("insert event", err)
		}
	}
	return nil
}

// =============================================================================
// DEPOSIT / WITHDRAWAL
// =============================================================================

func (e *Engine) deposit(ctx context.Context, s Store, acct *Account, ev TransactionEvent) error {
	if acct == nil {
		opened := OpenAccount(ev.ClientID, ev.Amount)
		if err := opened.Check(); err != nil {
			return err
		}
		if err := s.CreateAccount(ctx, opened); err != nil {
			return storageErr("create account", err)
		}
		return nil
	}

	next := *acct
	next.Available = next.Available.Add(ev.Amount)
	next.Total = next.Total.Add(ev.Amount)
	return update(ctx, s, next)
}

func (e *Engine) withdraw(ctx context.Context, s Store, acct Account, ev TransactionEvent) error {
	available := acct.Available.Sub(ev.Amount)
	if available.IsNegative() {
		return violation(ev, ErrInsufficientFunds)
	}

	next := acct
	next.Available = available
	next.Total = next.Total.Sub(ev.Amount)
	return update(ctx, s, next)
}

// =============================================================================
// DISPUTE LIFECYCLE
// =============================================================================

func (e *Engine) dispute(ctx context.Context, s Store, acct Account, ev TransactionEvent) error {
	entry, err := settled(ctx, s, ev)
	if err != nil {
		return err
	}
	if entry.Kind != KindWithdrawal {
		return violation(ev, ErrNotDisputable)
	}

	existing, err := s.GetDispute(ctx, ev.ClientID, ev.EventID)
	if err != nil {
		return storageErr("get dispute", err)
	}
	if existing != nil {
		return violation(ev, fmt.Errorf("%w (status %s)", ErrAlreadyDisputed, existing.Status))
	}

	next := acct
	next.Held = next.Held.Add(entry.Amount)
	next.Total = next.Total.Add(entry.Amount)
	if err := update(ctx, s, next); err != nil {
		return err
	}

	rec := DisputeRecord{
		ClientID: ev.ClientID,
		EventID:  ev.EventID,
		Amount:   entry.Amount,
		Status:   StatusDisputed,
	}
	if err := s.InsertDispute(ctx, rec); err != nil {
		return storageErr("insert dispute", err)
	}
	return nil
}

func (e *Engine) resolve(ctx context.Context, s Store, acct Account, ev TransactionEvent) error {
	hold, err := activeHold(ctx, s, ev)
	if err != nil {
		return err
	}

	next := acct
	next.Held = next.Held.Sub(hold.Amount)
	next.Total = next.Total.Sub(hold.Amount)
	if err := update(ctx, s, next); err != nil {
		return err
	}
	return setStatus(ctx, s, ev, hold, StatusResolved)
}

func (e *Engine) chargeback(ctx context.Context, s Store, acct Account, ev TransactionEvent) error {
	hold, err := activeHold(ctx, s, ev)
	if err != nil {
		return err
	}

	next := acct
	next.Held = next.Held.Sub(hold.Amount)
	next.Available = next.Available.Add(hold.Amount)
	next.Locked = true
	if err := update(ctx, s, next); err != nil {
		return err
	}
	return setStatus(ctx, s, ev, hold, StatusChargedBack)
}

// settled finds the event log entry referenced by a dispute-lifecycle
// event. Entries are keyed by event id alone, but only the client that
// settled an event may reference it.
func settled(ctx context.Context, s Store, ev TransactionEvent) (*EventLogEntry, error) {
	entry, err := s.FindEvent(ctx, ev.EventID)
	if err != nil {
		return nil, storageErr("find event", err)
	}
	if entry == nil {
		return nil, violation(ev, ErrUnknownEvent)
	}
	if entry.ClientID != ev.ClientID {
		return nil, violation(ev, fmt.Errorf("%w (owner %d)", ErrForeignEvent, entry.ClientID))
	}
	return entry, nil
}

// activeHold returns the active dispute on ev's referenced withdrawal.
func activeHold(ctx context.Context, s Store, ev TransactionEvent) (*DisputeRecord, error) {
	entry, err := settled(ctx, s, ev)
	if err != nil {
		return nil, err
	}

	active, err := s.FindActiveDispute(ctx, ev.ClientID, ev.EventID)
	if err != nil {
		return nil, storageErr("find dispute", err)
	}
	if active == nil {
		return nil, violation(ev, ErrNoActiveDispute)
	}
	if entry.Kind != KindWithdrawal {
		return nil, violation(ev, ErrNotDisputable)
	}
	return active, nil
}

func update(ctx context.Context, s Store, next Account) error {
	if err := next.Check(); err != nil {
		return err
	}
	if err := s.UpdateAccount(ctx, next); err != nil {
		return storageErr("update account", err)
	}
	return nil
}

// setStatus closes the dispute held by rec. A closed dispute never reopens.
func setStatus(ctx context.Context, s Store, ev TransactionEvent, rec *DisputeRecord, status DisputeStatus) error {
	if rec.Status.Terminal() {
		return violation(ev, fmt.Errorf("%w (status %s)", ErrNoActiveDispute, rec.Status))
	}
	if err := s.SetDisputeStatus(ctx, ev.ClientID, ev.EventID, status); err != nil {
		return storageErr("set dispute status", err)
	}
	return nil
}
