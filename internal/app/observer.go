package app

import (
	"context"

	"github.com/transfa/transfer-service/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TransferObserver receives transfer outcomes for aggregate reporting. It is
// called outside the ledger's durable writes and must not block.
type TransferObserver interface {
	TransferCompleted(ctx context.Context, tx domain.Transaction)
	TransferFailed(ctx context.Context, tx domain.Transaction, reason domain.Reason)
	TransferRejected(ctx context.Context, reason domain.Reason)
	PendingBacklog(ctx context.Context, count int)
}

// NoopTransferObserver discards every outcome.
type NoopTransferObserver struct{}

func (NoopTransferObserver) TransferCompleted(context.Context, domain.Transaction) {}
func (NoopTransferObserver) TransferFailed(context.Context, domain.Transaction, domain.Reason) {}
func (NoopTransferObserver) TransferRejected(context.Context, domain.Reason) {}
func (NoopTransferObserver) PendingBacklog(context.Context, int) {}

// MetricsObserver records transfer outcomes as OpenTelemetry instruments.
type MetricsObserver struct {
	completed metric.Int64Counter
	failed    metric.Int64Counter
	rejected  metric.Int64Counter
	volume    metric.Float64Counter
	backlog   metric.Int64Gauge
}

func NewMetricsObserver(meter metric.Meter) (*MetricsObserver, error) {
	completed, err := meter.Int64Counter("transfer.completed",
		metric.WithDescription("Transfers that reached COMPLETED"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("transfer.failed",
		metric.WithDescription("Transfers that reached FAILED after the ledger record was created"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("transfer.rejected",
		metric.WithDescription("Transfers rejected before a ledger record was created"))
	if err != nil {
		return nil, err
	}
	volume, err := meter.Float64Counter("transfer.completed.amount",
		metric.WithDescription("Sum of completed transfer amounts"))
	if err != nil {
		return nil, err
	}
	backlog, err := meter.Int64Gauge("transfer.pending.stale",
		metric.WithDescription("PENDING records older than the audit threshold"))
	if err != nil {
		return nil, err
	}

	return &MetricsObserver{
		completed: completed,
		failed:    failed,
		rejected:  rejected,
		volume:    volume,
		backlog:   backlog,
	}, nil
}

func (o *MetricsObserver) TransferCompleted(ctx context.Context, tx domain.Transaction) {
	o.completed.Add(ctx, 1)
	o.volume.Add(ctx, tx.Amount.InexactFloat64())
}

func (o *MetricsObserver) TransferFailed(ctx context.Context, tx domain.Transaction, reason domain.Reason) {
	o.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (o *MetricsObserver) TransferRejected(ctx context.Context, reason domain.Reason) {
	o.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (o *MetricsObserver) PendingBacklog(ctx context.Context, count int) {
	o.backlog.Record(ctx, int64(count))
}
