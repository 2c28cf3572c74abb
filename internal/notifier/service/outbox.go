package service

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/notifier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const defaultQueueSize = 256

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

// Outbox buffers notifications on a bounded channel and dispatches them from
// a single worker goroutine. Delivery is fire-and-forget relative to state
// transitions: failures are logged, never propagated.
type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository

	queue chan domain.Message
	done  chan struct{}
	once  sync.Once
}

func NewOutbox(lc fx.Lifecycle, p Params) domain.Publisher {
	o := &Outbox{
		log:   p.Log.Named("notifier.outbox"),
		genID: p.GenID,
		repo:  p.Repo,
		queue: make(chan domain.Message, defaultQueueSize),
		done:  make(chan struct{}),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go o.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			o.close()
			select {
			case <-o.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	return o
}

func (o *Outbox) Enqueue(ctx context.Context, msg domain.Message) {
	if msg.ProjectID == 0 || msg.Kind == "" {
		return
	}
	select {
	case o.queue <- msg:
	default:
		o.log.Warn("notification queue full, dropping message",
			zap.Int64("project_id", int64(msg.ProjectID)),
			zap.String("kind", msg.Kind),
		)
	}
}

func (o *Outbox) HasNotificationSince(ctx context.Context, projectID snowflake.ID, kind, service string, level int, since time.Time) (bool, error) {
	return o.repo.ExistsSince(ctx, projectID, kind, service, level, since)
}

func (o *Outbox) run() {
	defer close(o.done)
	for msg := range o.queue {
		o.dispatch(msg)
	}
}

func (o *Outbox) dispatch(msg domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notification := domain.Notification{
		ID:        o.genID.Generate(),
		ProjectID: msg.ProjectID,
		Kind:      msg.Kind,
		Service:   msg.Service,
		Level:     msg.Level,
		Payload:   datatypes.JSONMap(msg.Payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := o.repo.Insert(ctx, notification); err != nil {
		o.log.Warn("failed to persist notification",
			zap.Int64("project_id", int64(msg.ProjectID)),
			zap.String("kind", msg.Kind),
			zap.Error(err),
		)
		return
	}

	// Downstream delivery (webhook, email) hangs off these rows; the control
	// plane only records the dispatch.
	o.log.Info("notification dispatched",
		zap.Int64("project_id", int64(msg.ProjectID)),
		zap.String("kind", msg.Kind),
		zap.String("service", msg.Service),
		zap.Int("level", msg.Level),
	)
}

func (o *Outbox) close() {
	o.once.Do(func() { close(o.queue) })
}
