package archive

import (
	"context"
	"time"

	"codeguard/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CancelQueue holds session ids whose cancellation was requested by
// another process.
type CancelQueue interface {
	Pending(ctx context.Context) ([]string, error)
	Ack(ctx context.Context, id string) error
}

type Canceller interface {
	Status(id string) (service.Status, error)
	Cancel(id string) bool
}

type redisCancelQueue struct {
	client *redis.Client
}

func (q *redisCancelQueue) Pending(ctx context.Context) ([]string, error) {
	return q.client.SMembers(ctx, CancelRequestsKey).Result()
}

func (q *redisCancelQueue) Ack(ctx context.Context, id string) error {
	return q.client.SRem(ctx, CancelRequestsKey, id).Err()
}

// CancelPoller applies cancellation requests left in the shared set.
type CancelPoller struct {
	logger    *zap.Logger
	queue     CancelQueue
	canceller Canceller
}

type CancelPollerParams struct {
	fx.In

	Logger    *zap.Logger
	Redis     *redis.Client `optional:"true"`
	Canceller Canceller
}

// NewCancelPoller returns nil when Redis is not configured.
func NewCancelPoller(p CancelPollerParams) *CancelPoller {
	if p.Redis == nil {
		return nil
	}
	return NewCancelPollerWithQueue(p.Logger, &redisCancelQueue{client: p.Redis}, p.Canceller)
}

func NewCancelPollerWithQueue(logger *zap.Logger, queue CancelQueue, canceller Canceller) *CancelPoller {
	return &CancelPoller{logger: logger.Named("cancel_poller"), queue: queue, canceller: canceller}
}

// Poll handles the pending requests once. Requests for sessions this process
// does not know stay in the set for the process that owns them.
func (p *CancelPoller) Poll(ctx context.Context) error {
	ids, err := p.queue.Pending(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := p.canceller.Status(id); err != nil {
			continue
		}
		if p.canceller.Cancel(id) {
			p.logger.Info("session cancelled on request", zap.String("session_id", id))
		}
		if err := p.queue.Ack(ctx, id); err != nil {
			p.logger.Error("failed to remove cancel request", zap.String("session_id", id), zap.Error(err))
		}
	}
	return nil
}

// Run polls every interval until ctx is done.
func (p *CancelPoller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.logger.Warn("cancel requests not available", zap.Error(err))
			}
		}
	}
}
