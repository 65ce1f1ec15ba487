/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Runs credit.Engine.Audit on a fixed interval and keeps a short history
  of the results, so drift between notes and the compensation ledger is
  noticed without anyone calling /api/audit.

DESIGN:
  - One background goroutine driven by a ticker
  - Runs once immediately on start
  - Audit is read-only; the scheduler never repairs anything
  - The last MaxRuns results are kept in memory for /api/audit/runs

CONFIGURATION:
  - Interval: How often to run (0 disables the scheduler)
  - MaxRuns:  How many results to keep (default 24)

USAGE:
  scheduler := NewAuditScheduler(engine, time.Hour, logger)
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - credit/audit.go: The rules being checked
  - handlers.go: GetAudit endpoint (on-demand audit)
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/creditnote-engine/credit"
)

const defaultMaxRuns = 24

// AuditRun is one scheduled audit execution.
type AuditRun struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"` // completed, failed
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
	Report      *credit.AuditReport `json:"report,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// AuditScheduler runs the ledger audit periodically.
type AuditScheduler struct {
	Engine   *credit.Engine
	Interval time.Duration
	MaxRuns  int
	Logger   *zap.Logger

	mu     sync.Mutex
	runs   []AuditRun
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(engine *credit.Engine, interval time.Duration, logger *zap.Logger) *AuditScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditScheduler{
		Engine:   engine,
		Interval: interval,
		MaxRuns:  defaultMaxRuns,
		Logger:   logger,
	}
}

// Start begins the scheduler. It returns immediately; the loop stops when
// ctx is done or Stop is called.
func (s *AuditScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Logger.Info("audit scheduler disabled")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)

	s.Logger.Info("audit scheduler started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.Logger.Info("audit scheduler stopped")
}

func (s *AuditScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one audit and records the result.
func (s *AuditScheduler) RunNow(ctx context.Context) AuditRun {
	run := AuditRun{
		ID:        fmt.Sprintf("audit-%s", uuid.NewString()),
		StartedAt: time.Now().UTC(),
	}

	report, err := s.Engine.Audit(ctx)
	run.CompletedAt = time.Now().UTC()
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		s.Logger.Error("audit failed", zap.Error(err))
	} else {
		run.Status = "completed"
		run.Report = &report
		if report.OK() {
			s.Logger.Debug("audit clean",
				zap.Int("notes", report.NotesChecked),
				zap.Int("entries", report.EntriesChecked))
		}
		for _, d := range report.Discrepancies {
			s.Logger.Warn("audit discrepancy",
				zap.String("rule", d.Rule),
				zap.String("credit_note_id", string(d.CreditNoteID)),
				zap.String("entry_id", string(d.EntryID)),
				zap.String("detail", d.Detail))
		}
	}

	s.record(run)
	return run
}

// Runs returns the recorded runs, newest first.
func (s *AuditScheduler) Runs() []AuditRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AuditRun, len(s.runs))
	for i, r := range s.runs {
		out[len(s.runs)-1-i] = r
	}
	return out
}

func (s *AuditScheduler) record(run AuditRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.MaxRuns
	if limit <= 0 {
		limit = defaultMaxRuns
	}
	s.runs = append(s.runs, run)
	if len(s.runs) > limit {
		s.runs = append([]AuditRun(nil), s.runs[len(s.runs)-limit:]...)
	}
}

// ListAuditRuns returns the scheduler history. Empty when no scheduler is
// attached to the handler.
func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, []AuditRun{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Runs())
}
