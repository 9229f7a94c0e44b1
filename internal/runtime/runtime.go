package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/UniQw/taskstream/internal/streams"
	"github.com/redis/go-redis/v9"
)

// Logger is a minimal logging interface used internally by the runtime.
// It mirrors the public logger in the root package to avoid an import cycle.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Path identifies which consumption loop produced a delivery.
type Path int

const (
	// PathMain reads newly appended entries.
	PathMain Path = iota
	// PathClaiming takes over entries left unacknowledged past the idle threshold.
	PathClaiming
)

func (p Path) String() string {
	if p == PathClaiming {
		return "claiming"
	}
	return "main"
}

// Topology is one stream/group pair served by the process.
type Topology struct {
	Stream           string
	Group            string
	MainConsumer     string
	ClaimingConsumer string
	ClaimMinIdle     time.Duration
}

// Delivery is one entry handed to the executor.
type Delivery struct {
	Topology Topology
	Path     Path
	Consumer string
	ID       string
	Values   map[string]any
}

// Executor handles one delivery. A nil error acknowledges the entry; any
// error leaves it pending for the claiming path.
type Executor func(ctx context.Context, d Delivery) error

type Config struct {
	Topologies []Topology
	// BatchSize bounds entries per read or claim call.
	BatchSize int64
	// BlockTimeout bounds a single blocking read on the main path.
	BlockTimeout time.Duration
	// ClaimInterval is the pause between claiming sweeps.
	ClaimInterval time.Duration
	// RetryBackoff is the pause after a failed broker call.
	RetryBackoff time.Duration
	Logger       Logger
}

type Runtime struct {
	rdb     redis.UniversalClient
	cfg     Config
	exec    Executor
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	log     Logger
}

// New creates a runtime running a main and a claiming loop per topology.
func New(rdb redis.UniversalClient, cfg Config, exec Executor) *Runtime {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	lg := cfg.Logger
	if lg == nil {
		lg = noopLogger{}
	}
	return &Runtime{rdb: rdb, cfg: cfg, exec: exec, log: lg}
}

// Start creates missing groups and launches the consumption loops.
func (rt *Runtime) Start() {
	rt.mu.Lock()
	if rt.started {
		rt.log.Warnf("runtime already started; ignoring Start()")
		rt.mu.Unlock()
		return
	}
	rt.started = true
	rt.ctx, rt.cancel = context.WithCancel(context.Background())
	rt.mu.Unlock()
	rt.log.Infof("runtime starting: topologies=%d batch=%d", len(rt.cfg.Topologies), rt.cfg.BatchSize)

	for _, tp := range rt.cfg.Topologies {
		if err := streams.EnsureGroup(rt.ctx, rt.rdb, tp.Stream, tp.Group); err != nil {
			// loops retry group creation on NOGROUP
			rt.log.Warnf("runtime: ensure group failed stream=%s group=%s err=%v", tp.Stream, tp.Group, err)
		}

		rt.wg.Add(2)
		go func(tp Topology) {
			defer rt.wg.Done()
			rt.mainLoop(tp)
		}(tp)
		go func(tp Topology) {
			defer rt.wg.Done()
			rt.claimLoop(tp)
		}(tp)
	}
}

// Stop cancels the loops and waits for them to exit. Entries in flight are
// abandoned unacknowledged and become claimable once idle.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if !rt.started {
		rt.log.Warnf("runtime not started; ignoring Stop()")
		rt.mu.Unlock()
		return
	}
	rt.started = false
	cancel := rt.cancel
	rt.mu.Unlock()
	rt.log.Infof("runtime stopping")

	cancel()
	rt.wg.Wait()
}

func (rt *Runtime) mainLoop(tp Topology) {
	ctx := rt.ctx
	for {
		if ctx.Err() != nil {
			return
		}
		entries, err := streams.ReadNew(ctx, rt.rdb, tp.Stream, tp.Group, tp.MainConsumer, rt.cfg.BatchSize, rt.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rt.onReadError(tp, PathMain, err)
			continue
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			rt.handle(tp, PathMain, tp.MainConsumer, e)
		}
	}
}

func (rt *Runtime) claimLoop(tp Topology) {
	ctx := rt.ctx
	ticker := time.NewTicker(rt.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.claimSweep(tp)
		}
	}
}

// claimSweep walks the group's pending list once, taking over idle entries.
func (rt *Runtime) claimSweep(tp Topology) {
	ctx := rt.ctx
	cursor := "0-0"
	// bound one sweep so a huge pending list cannot starve shutdown
	for i := 0; i < 256; i++ {
		entries, next, err := streams.ClaimIdle(ctx, rt.rdb, tp.Stream, tp.Group, tp.ClaimingConsumer, tp.ClaimMinIdle, cursor, rt.cfg.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				rt.onReadError(tp, PathClaiming, err)
			}
			return
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			rt.log.Warnf("claiming: recovered idle entry stream=%s group=%s id=%s", tp.Stream, tp.Group, e.ID)
			rt.handle(tp, PathClaiming, tp.ClaimingConsumer, e)
		}
		if next == "0-0" || next == "" {
			return
		}
		cursor = next
	}
}

func (rt *Runtime) handle(tp Topology, path Path, consumer string, e streams.Entry) {
	d := Delivery{Topology: tp, Path: path, Consumer: consumer, ID: e.ID, Values: e.Values}
	if err := rt.exec(rt.ctx, d); err != nil {
		rt.log.Warnf("%s: handler error stream=%s id=%s err=%v", path, tp.Stream, e.ID, err)
		return
	}
	if err := streams.Ack(rt.ctx, rt.rdb, tp.Stream, tp.Group, e.ID); err != nil {
		rt.log.Errorf("%s: ack failed stream=%s id=%s err=%v", path, tp.Stream, e.ID, err)
		return
	}
	rt.log.Debugf("%s: processed stream=%s id=%s", path, tp.Stream, e.ID)
}

func (rt *Runtime) onReadError(tp Topology, path Path, err error) {
	if streams.IsNoGroup(err) {
		// stream deleted or group destroyed under us
		if gerr := streams.EnsureGroup(rt.ctx, rt.rdb, tp.Stream, tp.Group); gerr == nil {
			rt.log.Warnf("%s: recreated group stream=%s group=%s", path, tp.Stream, tp.Group)
			return
		}
	}
	rt.log.Warnf("%s: broker call failed stream=%s group=%s err=%v", path, tp.Stream, tp.Group, err)
	select {
	case <-rt.ctx.Done():
	case <-time.After(rt.cfg.RetryBackoff):
	}
}

// Topologies returns the configured topologies.
func (rt *Runtime) Topologies() []Topology { return rt.cfg.Topologies }
