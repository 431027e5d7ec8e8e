/**
 * @description
 * Scheduled detection of PENDING records that never reached a terminal status,
 * which happens when the process dies between creating a record and completing
 * or compensating it. The audit reports them; it never changes their status.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/transfer-service/internal/store"
)

const (
	defaultAuditStaleAfter = 10 * time.Minute
	defaultAuditBatchLimit = 100
	auditRunTimeout        = 30 * time.Second
)

// PendingAudit lists stale PENDING records and reports the backlog.
type PendingAudit struct {
	ledger     store.Ledger
	observer   TransferObserver
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

func NewPendingAudit(ledger store.Ledger, observer TransferObserver, staleAfter time.Duration) *PendingAudit {
	if staleAfter <= 0 {
		staleAfter = defaultAuditStaleAfter
	}
	if observer == nil {
		observer = NoopTransferObserver{}
	}
	return &PendingAudit{
		ledger:     ledger,
		observer:   observer,
		staleAfter: staleAfter,
		limit:      defaultAuditBatchLimit,
		now:        time.Now,
	}
}

// Run performs one audit pass and returns the number of stale records found,
// capped at the batch limit.
func (a *PendingAudit) Run(ctx context.Context) (int, error) {
	cutoff := a.now().UTC().Add(-a.staleAfter)
	stale, err := a.ledger.FindStalePendingTransactions(ctx, cutoff, a.limit)
	if err != nil {
		log.Printf("level=error component=audit msg=\"stale pending lookup failed\" err=%v", err)
		return 0, err
	}

	for _, tx := range stale {
		log.Printf("level=warn component=audit msg=\"transaction stuck in PENDING\" transaction_id=%s source=%s target=%s amount=%s created_at=%s",
			tx.TransactionID, tx.SourceAccountID, tx.TargetAccountID, tx.Amount.StringFixed(2), tx.Timestamp.Format(time.RFC3339))
	}
	if len(stale) > 0 {
		log.Printf("level=warn component=audit msg=\"stale pending transactions detected\" count=%d older_than=%s", len(stale), a.staleAfter)
	}

	a.observer.PendingBacklog(ctx, len(stale))
	return len(stale), nil
}

// Scheduler runs the pending audit on a cron schedule.
type Scheduler struct {
	cron  *cron.Cron
	audit *PendingAudit
	spec  string
}

func NewScheduler(audit *PendingAudit, spec string) *Scheduler {
	cronLogger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cron:  cron.New(cron.WithChain(cron.Recover(cronLogger))),
		audit: audit,
		spec:  spec,
	}
}

// Start registers the audit job and starts the scheduler.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditRunTimeout)
		defer cancel()
		_, _ = s.audit.Run(ctx)
	})
	if err != nil {
		log.Printf("level=error component=audit msg=\"failed to schedule pending audit\" schedule=%q err=%v", s.spec, err)
		return err
	}
	log.Printf("level=info component=audit msg=\"scheduled pending audit\" schedule=%q", s.spec)
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
