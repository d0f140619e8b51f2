// File: runtime/runtime.go
// Author: momentics <momentics@gmail.com>
//
// Runtime registration and segment bootstrap. Register once per process;
// every endpoint created afterwards shares the mapped segment and the
// daemon connection.

package runtime

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/momentics/hioload-ipc/control"
	"github.com/momentics/hioload-ipc/daemon"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/shm"
)

// pingInterval paces the keepalive on an otherwise idle daemon
// connection.
const pingInterval = 5 * time.Second

// Runtime is the per-process handle to one shared-memory domain.
type Runtime struct {
	name  string
	id    string
	log   *slog.Logger
	cli   *client
	token *daemon.LivenessToken
	seg   *shm.Segment
	store *mempool.ChunkStore

	stopPing chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option customizes runtime registration.
type Option func(*settings)

type settings struct {
	socketPath string
	log        *slog.Logger
}

// WithSocketPath overrides the daemon control socket location.
func WithSocketPath(path string) Option {
	return func(s *settings) { s.socketPath = path }
}

// WithLogger installs the logger used by the runtime and its endpoints.
func WithLogger(log *slog.Logger) Option {
	return func(s *settings) { s.log = log }
}

// Register connects this process to the daemon of the named runtime: it
// takes the liveness token, performs the registration handshake and maps
// the shared segment.
func Register(name string, opts ...Option) (*Runtime, error) {
	s := settings{socketPath: control.DefaultSocketPath(), log: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}

	pid := uint32(os.Getpid())
	token, err := daemon.AcquireToken(name, pid)
	if err != nil {
		return nil, err
	}
	cli, err := dialDaemon(s.socketPath)
	if err != nil {
		token.Release()
		return nil, err
	}
	reply, err := cli.roundTrip(&daemon.Message{
		Kind:      daemon.MsgRegRuntime,
		Runtime:   name,
		PID:       pid,
		TokenPath: token.Path(),
	})
	if err != nil {
		cli.close()
		token.Release()
		return nil, fmt.Errorf("register runtime %s: %w", name, err)
	}

	seg, err := shm.OpenSegment(reply.SegmentName)
	if err != nil {
		cli.close()
		token.Release()
		return nil, fmt.Errorf("map segment %s: %w", reply.SegmentName, err)
	}
	r := &Runtime{
		name:     name,
		id:       reply.RuntimeID,
		log:      s.log,
		cli:      cli,
		token:    token,
		seg:      seg,
		store:    mempool.OpenChunkStore(seg, reply.StoreOffset),
		stopPing: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.pingLoop()
	r.log.Info("runtime registered", "runtime", name, "id", r.id, "segment", reply.SegmentName)
	return r, nil
}

// Name returns the runtime name given on registration.
func (r *Runtime) Name() string { return r.name }

// ID returns the daemon-assigned registration id.
func (r *Runtime) ID() string { return r.id }

// Segment exposes the mapped shared segment.
func (r *Runtime) Segment() *shm.Segment { return r.seg }

// Store exposes the shared chunk store serving loans.
func (r *Runtime) Store() *mempool.ChunkStore { return r.store }

// Close disconnects from the daemon and drops the liveness token. The
// daemon's sweeper then reclaims every port this process still owned.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stopPing)
	r.wg.Wait()
	r.cli.close()
	err := r.token.Release()
	if segErr := r.seg.Close(); err == nil {
		err = segErr
	}
	return err
}

// pingLoop keeps the idle control connection warm until Close.
func (r *Runtime) pingLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopPing:
			return
		case <-ticker.C:
			if _, err := r.cli.roundTrip(&daemon.Message{Kind: daemon.MsgPing}); err != nil {
				r.log.Warn("daemon ping failed", "err", err)
				return
			}
		}
	}
}
