package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ledger/store"
)

// sliceSource yields prepared events; a non-nil err entry is returned
// in place of an event.
type sliceSource struct {
	items []sourceItem
	pos   int
}

type sourceItem struct {
	ev  ledger.TransactionEvent
	err error
}

func (s *sliceSource) Next() (ledger.TransactionEvent, error) {
	if s.pos >= len(s.items) {
		return ledger.TransactionEvent{}, io.EOF
	}
	it := s.items[s.pos]
	s.pos++
	return it.ev, it.err
}

func source(t *testing.T, lines ...string) *sliceSource {
	src := &sliceSource{}
	for _, l := range lines {
		if l == "!malformed" {
			src.items = append(src.items, sourceItem{err: fmt.Errorf("line %d: %w", len(src.items)+1, ledger.ErrMalformedEvent)})
			continue
		}
		src.items = append(src.items, sourceItem{ev: event(t, l)})
	}
	return src
}

func TestReplay_DrainsSourceAndRecordsRun(t *testing.T) {
	st := store.NewMemory()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := ledger.NewSession(st, ledger.WithRunID("run-1"), ledger.WithClock(func() time.Time { return clock }))
	eng := ledger.NewEngine(session)

	run, err := eng.Replay(context.Background(), source(t,
		"deposit 1 1 100",
		"withdrawal 1 2 40",
		"withdrawal 1 3 400",
		"dispute 1 2",
		"resolve 1 2",
	), ledger.AbortOnMalformed)
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, clock, run.StartedAt)
	assert.Equal(t, ledger.Stats{Read: 5, Applied: 4, Discarded: 1}, run.Stats)
	assertAccount(t, st, 1, "60", "0", "60", false)

	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run, runs[0])
}

func TestReplay_AbortOnMalformed(t *testing.T) {
	st := store.NewMemory()
	eng, _ := newEngine(t, st)

	_, err := eng.Replay(context.Background(), source(t,
		"deposit 1 1 100",
		"!malformed",
		"deposit 2 2 100",
	), ledger.AbortOnMalformed)

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrMalformedEvent)

	acct, err := st.GetAccount(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, acct, "nothing after the malformed record is applied")

	runs, _ := st.ListRuns(context.Background())
	assert.Empty(t, runs, "aborted runs are not recorded")
}

func TestReplay_SkipMalformed(t *testing.T) {
	st := store.NewMemory()
	eng, logs := newEngine(t, st)

	run, err := eng.Replay(context.Background(), source(t,
		"deposit 1 1 100",
		"!malformed",
		"deposit 2 2 100",
	), ledger.SkipMalformed)

	require.NoError(t, err)
	assert.Equal(t, ledger.Stats{Read: 3, Applied: 2, Skipped: 1}, run.Stats)
	assertAccount(t, st, 2, "100", "0", "100", false)
	assert.Equal(t, 1, logs.FilterMessage("malformed record skipped").Len())
}

func TestReplay_UnreadableSourceIsFatal(t *testing.T) {
	st := store.NewMemory()
	eng, _ := newEngine(t, st)

	src := &sliceSource{items: []sourceItem{{err: errors.New("read: connection reset")}}}
	_, err := eng.Replay(context.Background(), src, ledger.SkipMalformed)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrMalformedEvent)
}

func TestReplay_StopsOnCancel(t *testing.T) {
	st := store.NewMemory()
	eng, _ := newEngine(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Replay(ctx, source(t, "deposit 1 1 100"), ledger.AbortOnMalformed)
	assert.ErrorIs(t, err, context.Canceled)

	accts, _ := st.ListAccounts(context.Background())
	assert.Empty(t, accts)
}

func TestReplay_Deterministic(t *testing.T) {
	lines := []string{
		"deposit 3 1 10",
		"deposit 1 2 20",
		"withdrawal 3 3 5",
		"dispute 3 3",
		"deposit 2 4 1.5",
		"chargeback 3 3",
		"withdrawal 1 5 20.0001",
	}

	var results [][]ledger.Account
	for i := 0; i < 3; i++ {
		st := store.NewMemory()
		eng, _ := newEngine(t, st)
		_, err := eng.Replay(context.Background(), source(t, lines...), ledger.AbortOnMalformed)
		require.NoError(t, err)
		results = append(results, snapshot(t, st))
	}

	assert.Equal(t, results[0], results[1])
	assert.Equal(t, results[0], results[2])
	require.Len(t, results[0], 3)
	assert.Equal(t, []ledger.ClientID{1, 2, 3}, []ledger.ClientID{results[0][0].ClientID, results[0][1].ClientID, results[0][2].ClientID})
}
