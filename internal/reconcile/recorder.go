// Package reconcile carries billing gaps out of the request path: a
// generation that reached the caller but could not be charged is written
// to every configured sink so it can be settled later.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/creditgate/internal/models"
)

// Sink stores or forwards one billing gap.
type Sink interface {
	Record(ctx context.Context, gap models.BillingGap) error
}

type namedSink struct {
	name string
	sink Sink
}

type Recorder struct {
	log     *slog.Logger
	sinks   []namedSink
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(log *slog.Logger) *Recorder {
	return &Recorder{
		log:     log,
		timeout: 10 * time.Second,
		now:     time.Now,
	}
}

// AddSink registers a destination; name is only used in logs.
func (r *Recorder) AddSink(name string, sink Sink) {
	r.sinks = append(r.sinks, namedSink{name: name, sink: sink})
}

// Record logs the gap and hands it to every sink. It never fails: the
// caller already has their content and a broken sink must not change that.
// It returns the number of sinks that accepted the gap.
func (r *Recorder) Record(ctx context.Context, gap models.BillingGap) int {
	if gap.ID == "" {
		gap.ID = uuid.NewString()
	}
	if gap.OccurredAt.IsZero() {
		gap.OccurredAt = r.now().UTC()
	}

	r.log.Error("billing reconciliation gap",
		"gap_id", gap.ID,
		"account_id", gap.AccountID,
		"credits_used", gap.CreditsUsed,
		"model", gap.Model,
		"reason", gap.Reason,
	)

	// The request may already be finished; sinks get their own deadline.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	accepted := 0
	for _, s := range r.sinks {
		if err := s.sink.Record(sinkCtx, gap); err != nil {
			r.log.Error("billing gap sink failed", "sink", s.name, "gap_id", gap.ID, "err", err)
			continue
		}
		accepted++
	}
	return accepted
}
