package reset

import (
	"context"
	"time"

	"memorybox/utils"

	"go.uber.org/zap"
)

type instrumented struct {
	next    Registry
	metrics *utils.Metrics
	logger  *zap.Logger
}

// Instrument wraps reg so every transition is counted and logged. Codes
// are never logged.
func Instrument(reg Registry, metrics *utils.Metrics, logger *zap.Logger) Registry {
	if metrics == nil {
		metrics = utils.NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumented{next: reg, metrics: metrics, logger: logger}
}

func (i *instrumented) observe(op, email string, err error) {
	i.metrics.ResetTransitions.WithLabelValues(op, utils.Result(err)).Inc()
	fields := []zap.Field{zap.String("op", op), zap.String("email", utils.MaskEmail(email))}
	if err != nil {
		i.logger.Info("reset transition rejected", append(fields, zap.Error(err))...)
		return
	}
	i.logger.Debug("reset transition", fields...)
}

func (i *instrumented) Issue(ctx context.Context, email string) (Entry, error) {
	e, err := i.next.Issue(ctx, email)
	i.observe("issue", email, err)
	return e, err
}

func (i *instrumented) Verify(ctx context.Context, email, code string) error {
	err := i.next.Verify(ctx, email, code)
	i.observe("verify", email, err)
	return err
}

func (i *instrumented) Consume(ctx context.Context, email, code string) error {
	err := i.next.Consume(ctx, email, code)
	i.observe("consume", email, err)
	return err
}

func (i *instrumented) Invalidate(ctx context.Context, email string) error {
	err := i.next.Invalidate(ctx, email)
	i.observe("invalidate", email, err)
	return err
}

func (i *instrumented) TTL() time.Duration { return i.next.TTL() }
