package service

import (
	"context"
	"sync"
	"sync/atomic"

	"inkdown-notes/internal/domain"

	"go.uber.org/zap"
)

type coordinatorEvent struct {
	refresh bool
	user    *domain.User
}

// Coordinator feeds session and presence signals into the sync engine on a
// single loop, so reconciliation passes never overlap.
type Coordinator struct {
	sync *SyncService
	log  *zap.Logger

	events         chan coordinatorEvent
	done           chan struct{}
	closeOnce      sync.Once
	refreshPending atomic.Bool
}

func NewCoordinator(syncService *SyncService, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		sync:   syncService,
		log:    log,
		events: make(chan coordinatorEvent, 32),
		done:   make(chan struct{}),
	}
}

// AuthChanged queues a sign-in, or a sign-out when user is nil.
func (c *Coordinator) AuthChanged(user *domain.User) {
	c.enqueue(coordinatorEvent{user: user})
}

// PresenceRegained queues a remote refresh. Repeated signals collapse into
// one pass while a refresh is already queued.
func (c *Coordinator) PresenceRegained() {
	if !c.refreshPending.CompareAndSwap(false, true) {
		return
	}
	c.enqueue(coordinatorEvent{refresh: true})
}

func (c *Coordinator) enqueue(ev coordinatorEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run processes events until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.closeOnce.Do(func() { close(c.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev coordinatorEvent) {
	if ev.refresh {
		c.refreshPending.Store(false)
		changed, err := c.sync.RefreshFromRemote(ctx)
		if err != nil {
			c.log.Warn("visibility refresh failed", zap.Error(err))
			return
		}
		if changed {
			c.log.Debug("visibility refresh replaced local view")
		}
		return
	}

	result, err := c.sync.HandleAuthChange(ctx, ev.user)
	if err != nil {
		c.log.Warn("sync after auth change failed", zap.Error(err))
		return
	}
	if result != nil {
		c.log.Info("sync after sign-in", zap.String("action", string(result.Action)))
	}
}
