// File: daemon/daemon.go
// Author: momentics <momentics@gmail.com>
//
// The broker process: owns the shared segment and its pools, serves the
// unix control socket, and sweeps liveness tokens to reclaim the
// resources of dead processes.

package daemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/control"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/shm"
)

// sweepInterval paces the liveness token probe.
const sweepInterval = time.Second

// daemonSegmentID is the id under which the daemon's segment registers in
// every attaching process.
const daemonSegmentID = 1

// runtimeState tracks one registered process.
type runtimeState struct {
	id        string
	name      string
	pid       uint32
	tokenPath string
	lastSeen  time.Time
}

// Daemon is the broker over one runtime's shared segment.
type Daemon struct {
	cfg     control.RuntimeConfig
	log     *slog.Logger
	seg     *shm.Segment
	segName string
	store   *mempool.ChunkStore
	reg     *Registry
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes
	config  *control.ConfigStore

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	runtimes map[string]*runtimeState

	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// New creates the segment and pools described by cfg and builds the
// broker around them. The segment is unlinked again on Close. The segment
// carries the runtime name; shm prefixes the backing file.
func New(cfg control.RuntimeConfig, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	segName := cfg.RuntimeName
	seg, err := shm.CreateSegment(segName, daemonSegmentID, cfg.SegmentSize)
	if err != nil {
		return nil, fmt.Errorf("create segment: %w", err)
	}
	pools := make([]mempool.PoolConfig, len(cfg.Pools))
	for i, p := range cfg.Pools {
		pools[i] = mempool.PoolConfig{ChunkSize: p.ChunkSize, ChunkCount: p.ChunkCount}
	}
	store, err := mempool.InitChunkStore(seg, pools)
	if err != nil {
		seg.Unlink()
		seg.Close()
		return nil, fmt.Errorf("init chunk store: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		log:        logger,
		seg:        seg,
		segName:    segName,
		store:      store,
		reg:        NewRegistry(seg, store, cfg.Caps),
		metrics:    control.NewMetricsRegistry(),
		probes:     control.NewDebugProbes(),
		config:     control.NewConfigStore(),
		runtimes:   make(map[string]*runtimeState),
		shutdownCh: make(chan struct{}),
	}
	cfg.Store(d.config)
	control.RegisterStoreProbes(d.probes, cfg.RuntimeName, store)
	control.RegisterPlatformProbes(d.probes)
	d.probes.RegisterProbe("daemon.config", func() any { return d.config.GetSnapshot() })
	d.probes.RegisterProbe("daemon.metrics", func() any { return d.metrics.GetSnapshot() })
	d.probes.RegisterProbe("daemon.ports", func() any { return d.reg.Ports() })
	return d, nil
}

// DumpState runs every registered debug probe.
func (d *Daemon) DumpState() map[string]any { return d.probes.DumpState() }

// Registry exposes the port tables, mainly for tests and introspection.
func (d *Daemon) Registry() *Registry { return d.reg }

// Metrics exposes the daemon counters.
func (d *Daemon) Metrics() *control.MetricsRegistry { return d.metrics }

// Serve binds the control socket and blocks until Shutdown. The liveness
// sweeper runs alongside the accept loop.
func (d *Daemon) Serve() error {
	os.Remove(d.cfg.SocketPath)
	ln, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.SocketPath, err)
	}
	d.ln = ln
	d.log.Info("daemon listening",
		"socket", d.cfg.SocketPath,
		"segment", d.segName,
		"segment_size", d.cfg.SegmentSize)

	d.wg.Add(1)
	go d.sweepLoop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-d.shutdownCh:
				d.wg.Wait()
				return nil
			default:
			}
			d.log.Warn("accept failed", "err", err)
			continue
		}
		d.wg.Add(1)
		go d.serveConn(conn)
	}
}

// Shutdown stops the accept loop and the sweeper. Serve returns once the
// in-flight connections finished their current frame.
func (d *Daemon) Shutdown() {
	d.closeOnce.Do(func() {
		close(d.shutdownCh)
		if d.ln != nil {
			d.ln.Close()
		}
	})
}

// Close releases the segment after Shutdown.
func (d *Daemon) Close() error {
	d.Shutdown()
	d.wg.Wait()
	os.Remove(d.cfg.SocketPath)
	d.seg.Unlink()
	return d.seg.Close()
}

// serveConn handles one application connection until EOF.
func (d *Daemon) serveConn(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	var rt *runtimeState
	for {
		msg, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.log.Warn("connection failed", "err", err)
			}
			break
		}
		reply := d.dispatch(&rt, msg)
		if err := WriteFrame(conn, reply); err != nil {
			d.log.Warn("reply failed", "err", err)
			break
		}
	}
	if rt != nil {
		d.onDisconnect(rt)
	}
}

// dispatch routes one frame. The first frame of a connection must be
// REG_RUNTIME; rt carries the registration across later frames.
func (d *Daemon) dispatch(rt **runtimeState, msg *Message) *Message {
	if msg.Kind == MsgRegRuntime {
		state, reply, err := d.registerRuntime(msg)
		if err != nil {
			d.log.Warn("registration rejected", "runtime", msg.Runtime, "pid", msg.PID, "err", err)
			return errorReply(err)
		}
		*rt = state
		return reply
	}
	if *rt == nil {
		return errorReply(api.NewError(api.ErrCodeInvalidState, "connection is not registered"))
	}
	d.touch(*rt)

	switch msg.Kind {
	case MsgReqPublisher:
		off, err := d.reg.CreatePublisher(msg.Service.Descriptor(), msg.HistoryCap, (*rt).pid, (*rt).name)
		if err != nil {
			return errorReply(err)
		}
		d.metrics.Inc("daemon.publishers_created", 1)
		d.log.Info("publisher created", "service", msg.Service.Descriptor().String(), "pid", (*rt).pid, "offset", off)
		reply := ackReply()
		reply.PortOffset = off
		return reply

	case MsgReqSubscriber:
		off, err := d.reg.CreateSubscriber(msg.Service.Descriptor(),
			chunkqueue.Variant(msg.QueueVariant), msg.QueueCapacity, msg.HistoryReq, (*rt).pid, (*rt).name)
		if err != nil {
			return errorReply(err)
		}
		d.metrics.Inc("daemon.subscribers_created", 1)
		d.log.Info("subscriber created", "service", msg.Service.Descriptor().String(), "pid", (*rt).pid, "offset", off)
		reply := ackReply()
		reply.PortOffset = off
		return reply

	case MsgOffer:
		if err := d.reg.Offer(msg.PortOffset); err != nil {
			return errorReply(err)
		}
		return ackReply()

	case MsgStopOffer:
		if err := d.reg.StopOffer(msg.PortOffset); err != nil {
			return errorReply(err)
		}
		return ackReply()

	case MsgSubscribe:
		if err := d.reg.Subscribe(msg.PortOffset); err != nil {
			return errorReply(err)
		}
		return ackReply()

	case MsgUnsubscribe:
		if err := d.reg.Unsubscribe(msg.PortOffset); err != nil {
			return errorReply(err)
		}
		return ackReply()

	case MsgPing:
		return ackReply()

	default:
		return errorReply(api.NewError(api.ErrCodeInvalidArgument, "unknown frame kind").
			WithContext("kind", string(msg.Kind)))
	}
}

// registerRuntime admits one process and hands it the segment bootstrap.
func (d *Daemon) registerRuntime(msg *Message) (*runtimeState, *Message, error) {
	if msg.Runtime == "" || msg.PID == 0 {
		return nil, nil, api.NewError(api.ErrCodeInvalidArgument, "registration without runtime name or pid")
	}
	if msg.TokenPath != "" && !ProbeAlive(msg.TokenPath) {
		return nil, nil, api.NewError(api.ErrCodeInvalidArgument, "registration with a dead liveness token").
			WithContext("token", msg.TokenPath)
	}
	state := &runtimeState{
		id:        uuid.NewString(),
		name:      msg.Runtime,
		pid:       msg.PID,
		tokenPath: msg.TokenPath,
		lastSeen:  time.Now(),
	}
	d.mu.Lock()
	d.runtimes[state.id] = state
	d.mu.Unlock()
	d.metrics.Inc("daemon.runtimes_registered", 1)
	d.log.Info("runtime registered", "runtime", state.name, "pid", state.pid, "id", state.id)

	reply := ackReply()
	reply.RuntimeID = state.id
	reply.SegmentName = d.segName
	reply.StoreOffset = d.store.Offset()
	return state, reply, nil
}

func (d *Daemon) touch(rt *runtimeState) {
	d.mu.Lock()
	rt.lastSeen = time.Now()
	d.mu.Unlock()
}

// onDisconnect probes the process behind a closed connection. A clean
// disconnect with a live token keeps its ports; a dead process is reaped
// immediately instead of waiting for the sweeper.
func (d *Daemon) onDisconnect(rt *runtimeState) {
	if rt.tokenPath == "" || ProbeAlive(rt.tokenPath) {
		return
	}
	d.reap(rt)
}

// sweepLoop probes every registered token until shutdown.
func (d *Daemon) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.shutdownCh:
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

// sweep reaps every registered process whose token lock is no longer
// held.
func (d *Daemon) sweep() {
	d.mu.Lock()
	var dead []*runtimeState
	for _, rt := range d.runtimes {
		if rt.tokenPath != "" && !ProbeAlive(rt.tokenPath) {
			dead = append(dead, rt)
		}
	}
	d.mu.Unlock()

	for _, rt := range dead {
		d.reap(rt)
	}
}

// reap removes a dead process: its ports, its queued chunks, its token.
func (d *Daemon) reap(rt *runtimeState) {
	d.mu.Lock()
	if _, ok := d.runtimes[rt.id]; !ok {
		d.mu.Unlock()
		return // already reaped
	}
	delete(d.runtimes, rt.id)
	d.mu.Unlock()

	pubs, subs := d.reg.RemoveProcess(rt.pid)
	ReapToken(rt.tokenPath)
	d.metrics.Inc("daemon.processes_reaped", 1)
	d.log.Warn("process reaped",
		"runtime", rt.name,
		"pid", rt.pid,
		"publishers", pubs,
		"subscribers", subs,
		"used_chunks", d.store.UsedChunks())
}
