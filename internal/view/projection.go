// Package view maintains a push-based ordered projection of the message list
// for presentation-layer consumers.
package view

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shieldsms/shield/internal/bus"
	"github.com/shieldsms/shield/internal/store"
)

// Snapshot is one consistent, ordered view of all messages.
type Snapshot struct {
	Messages []store.Message
	At       time.Time
}

// Projection observes store mutations and fans out ordered snapshots.
// Watcher channels hold a single latest snapshot: a slow consumer misses
// intermediate states, never blocks the writer, and always converges on the
// latest one.
type Projection struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[int]chan Snapshot
	next     int
	cancel   context.CancelFunc
}

// NewProjection creates a projection over the store.
func NewProjection(db *store.DB, b *bus.Bus, logger *zap.Logger) *Projection {
	return &Projection{
		db:       db,
		bus:      b,
		logger:   logger,
		watchers: make(map[int]chan Snapshot),
	}
}

// Start subscribes to store mutation events and begins republishing.
func (p *Projection) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	ch, unsub := p.bus.Subscribe("message.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				p.refresh()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the projection.
func (p *Projection) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Watch registers a new consumer. The channel immediately carries the current
// snapshot, then coalesced updates. The returned function unregisters it.
func (p *Projection) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	// Snapshot and register under one lock so no fan-out can land between
	// the initial read and registration, leaving the watcher stale.
	p.mu.Lock()
	if snap, err := p.snapshot(); err != nil {
		p.logger.Error("failed to read initial snapshot", zap.Error(err))
	} else {
		ch <- snap
	}
	id := p.next
	p.next++
	p.watchers[id] = ch
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

func (p *Projection) snapshot() (Snapshot, error) {
	msgs, err := p.db.List()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Messages: msgs, At: time.Now()}, nil
}

func (p *Projection) refresh() {
	snap, err := p.snapshot()
	if err != nil {
		p.logger.Error("failed to refresh snapshot", zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.watchers {
		select {
		case ch <- snap:
		default:
			// Replace the stale pending snapshot with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
