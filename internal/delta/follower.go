package delta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/custodian/types"
)

// Applier receives replicated records. *custodian.Service implements it.
type Applier interface {
	IsSenior() bool
	ConfigUpdate(ctx context.Context, record types.OwnershipRecord) error
}

// Follower applies ownership entries written by the senior member.
//
// While the local member is senior its own map is authoritative and
// entries are skipped.
type Follower struct {
	kv      jetstream.KeyValue
	prefix  string
	applier Applier
	opts    options

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewFollower creates a new ownership follower.
//
// Parameters:
//   - kv: NATS KV bucket holding ownership entries
//   - prefix: Key prefix (e.g., DefaultPrefix)
//   - applier: Receiver of the records
//   - opts: Optional logger
//
// Returns:
//   - *Follower: A new follower instance
func NewFollower(kv jetstream.KeyValue, prefix string, applier Applier, opts ...Option) *Follower {
	return &Follower{
		kv:      kv,
		prefix:  prefix,
		applier: applier,
		opts:    newOptions(opts),
	}
}

// Start opens the watcher and applies entries in the background until Stop.
//
// The watcher first replays every existing entry, so a member that joins
// late catches up on the whole map.
func (f *Follower) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return ErrAlreadyStarted
	}

	wctx, cancel := context.WithCancel(ctx)
	watcher, err := f.kv.Watch(wctx, f.prefix+".*")
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch ownership entries: %w", err)
	}

	f.started = true
	f.cancel = cancel
	f.doneCh = make(chan struct{})
	go f.run(wctx, watcher, f.doneCh)

	f.opts.logger.Info("ownership follower started", "pattern", f.prefix+".*")

	return nil
}

// Stop stops the watcher and waits for the background goroutine to exit.
func (f *Follower) Stop() error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return ErrNotStarted
	}
	f.started = false
	f.cancel()
	doneCh := f.doneCh
	f.mu.Unlock()

	<-doneCh

	return nil
}

func (f *Follower) run(ctx context.Context, watcher jetstream.KeyWatcher, doneCh chan struct{}) {
	defer close(doneCh)
	defer func() {
		if err := watcher.Stop(); err != nil {
			f.opts.logger.Warn("failed to stop ownership watcher", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				f.opts.logger.Warn("ownership watcher closed")
				return
			}
			if entry == nil {
				// End of the initial replay.
				continue
			}
			f.apply(ctx, entry)
		}
	}
}

func (f *Follower) apply(ctx context.Context, entry jetstream.KeyValueEntry) {
	if entry.Operation() != jetstream.KeyValuePut {
		return
	}
	if f.applier.IsSenior() {
		return
	}

	p, err := ParseKey(f.prefix, entry.Key())
	if err != nil {
		f.opts.logger.Debug("skipping non-ownership key", "key", entry.Key())
		return
	}
	e, err := Decode(p, entry.Value())
	if err != nil {
		f.opts.logger.Warn("ignoring malformed ownership entry", "key", entry.Key(), "error", err)
		return
	}

	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = f.applier.ConfigUpdate(actx, e.Record)
	switch {
	case err == nil:
		f.opts.logger.Debug("ownership record applied",
			"partition", p,
			"version", e.Record.Version,
			"senior", e.Senior,
		)
	case errors.Is(err, types.ErrStaleRecord):
		f.opts.logger.Debug("stale ownership record ignored", "partition", p, "version", e.Record.Version)
	case errors.Is(err, context.Canceled):
	default:
		f.opts.logger.Warn("failed to apply ownership record", "partition", p, "error", err)
	}
}
