package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/creditnote-engine/credit"
	"github.com/warp/creditnote-engine/credit/store"
)

func TestAuditScheduler_RunNow(t *testing.T) {
	// GIVEN: A clean engine with one partly used note
	ctx := context.Background()
	engine := credit.NewEngine(store.NewTxMemory())
	note, err := engine.Create(ctx, credit.CreateInput{ClientID: "C1", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	_, err = engine.Apply(ctx, credit.ApplyInput{
		CreditNoteID: note.ID,
		Amount:       decimal.NewFromInt(40),
		Target:       credit.DocumentRef{ID: "INV-1", Type: credit.DocumentInvoice},
	})
	require.NoError(t, err)

	s := NewAuditScheduler(engine, time.Hour, nil)

	// WHEN: The audit runs twice
	first := s.RunNow(ctx)
	second := s.RunNow(ctx)

	// THEN: Both complete clean and history is newest first
	assert.Equal(t, "completed", first.Status)
	require.NotNil(t, first.Report)
	assert.True(t, first.Report.OK())
	assert.Equal(t, 1, first.Report.EntriesChecked)

	runs := s.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
}

func TestAuditScheduler_HistoryIsBounded(t *testing.T) {
	s := NewAuditScheduler(credit.NewEngine(store.NewTxMemory()), time.Hour, nil)
	s.MaxRuns = 3

	var last AuditRun
	for i := 0; i < 5; i++ {
		last = s.RunNow(context.Background())
	}

	runs := s.Runs()
	assert.Len(t, runs, 3)
	assert.Equal(t, last.ID, runs[0].ID)
}

type brokenStore struct {
	credit.Store
}

func (brokenStore) ListNotes(context.Context, credit.NoteFilter) ([]credit.CreditNote, error) {
	return nil, errors.New("connection reset")
}

func TestAuditScheduler_FailedAuditIsRecorded(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	s := NewAuditScheduler(credit.NewEngine(brokenStore{store.NewMemory()}), time.Hour, zap.New(core))

	run := s.RunNow(context.Background())

	assert.Equal(t, "failed", run.Status)
	assert.Nil(t, run.Report)
	assert.Contains(t, run.Error, "connection reset")
	assert.Equal(t, 1, logs.FilterMessage("audit failed").Len())
	assert.Len(t, s.Runs(), 1)
}

func TestAuditScheduler_StartStop(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewAuditScheduler(credit.NewEngine(store.NewTxMemory()), 10*time.Millisecond, zap.New(core))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return len(s.Runs()) >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	n := len(s.Runs())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(s.Runs()), "no runs after Stop")
	assert.Equal(t, 1, logs.FilterMessage("audit scheduler started").Len())
	assert.Equal(t, 1, logs.FilterMessage("audit scheduler stopped").Len())

	// Stop is idempotent
	s.Stop()
}

func TestAuditScheduler_DisabledWithZeroInterval(t *testing.T) {
	s := NewAuditScheduler(credit.NewEngine(store.NewTxMemory()), 0, nil)

	s.Start(context.Background())
	s.Stop()

	assert.Empty(t, s.Runs())
}

func TestListAuditRuns(t *testing.T) {
	srv, h := newTestServer(t)

	// Without a scheduler the history is empty
	runs := decodeBody[[]AuditRun](t, do(t, srv, http.MethodGet, "/api/audit/runs", nil))
	assert.Empty(t, runs)

	h.Scheduler = NewAuditScheduler(h.Engine, time.Hour, nil)
	h.Scheduler.RunNow(context.Background())

	runs = decodeBody[[]AuditRun](t, do(t, srv, http.MethodGet, "/api/audit/runs", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
}
