package taskstream

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/UniQw/taskstream/internal/envelope"
	rtm "github.com/UniQw/taskstream/internal/runtime"
	"github.com/robfig/cron/v3"
)

// ServerConfig defines the configuration for a Server.
type ServerConfig struct {
	// Topologies are the stream/group pairs to consume, usually built with
	// NewTopology from one ConsumerIdentity.
	Topologies []Topology
	// BatchSize bounds entries per read or claim call.
	BatchSize int64
	// BlockTimeout bounds one blocking read of the main path.
	BlockTimeout time.Duration
	// ClaimInterval is the pause between claiming sweeps.
	ClaimInterval time.Duration

	// ReapIdleThreshold defaults to DefaultReapIdleThreshold.
	ReapIdleThreshold time.Duration
	// ReapPendingThreshold is the pending count a reaped consumer may hold.
	ReapPendingThreshold int64
	// DisableStartupReap skips the consumer sweep in Start.
	DisableStartupReap bool
	// ReapSchedule repeats the sweep on a cron schedule (e.g. "@every 6h").
	// Empty disables it.
	ReapSchedule string

	// Logger defaults to the broker's logger.
	Logger Logger
}

// Server consumes the configured topologies through a main and a claiming
// path and drives every delivery through the broker pipeline.
type Server struct {
	broker  *Broker
	mux     *Mux
	cfg     ServerConfig
	rt      *rtm.Runtime
	cron    *cron.Cron
	mu      sync.Mutex
	started bool
	log     Logger
}

// NewServer creates a new Server.
func NewServer(b *Broker, cfg ServerConfig, mux *Mux) *Server {
	l := cfg.Logger
	if l == nil {
		l = b.log
	}
	if cfg.ReapIdleThreshold <= 0 {
		cfg.ReapIdleThreshold = DefaultReapIdleThreshold
	}
	s := &Server{broker: b, mux: mux, cfg: cfg, log: l}

	tps := make([]rtm.Topology, 0, len(cfg.Topologies))
	for _, tp := range cfg.Topologies {
		if _, ok := mux.handlers[tp.Stream]; !ok {
			l.Warnf("server: no handler registered for stream=%s; deliveries will fail", tp.Stream)
		}
		tps = append(tps, rtm.Topology{
			Stream:           tp.Stream,
			Group:            tp.Group,
			MainConsumer:     tp.MainConsumer,
			ClaimingConsumer: tp.ClaimingConsumer,
			ClaimMinIdle:     tp.ClaimMinIdle,
		})
	}
	s.rt = rtm.New(b.rdb, rtm.Config{
		Topologies:    tps,
		BatchSize:     cfg.BatchSize,
		BlockTimeout:  cfg.BlockTimeout,
		ClaimInterval: cfg.ClaimInterval,
		Logger:        rtLogger{Logger: l},
	}, s.execute)
	return s
}

// Start launches both consumption paths of every topology, then sweeps idle
// consumers once. It is idempotent and non-blocking apart from that sweep.
func (s *Server) Start() {
	s.mu.Lock()
	if s.started {
		s.log.Warnf("server already started; ignoring Start()")
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	s.log.Infof("starting server: topologies=%d", len(s.cfg.Topologies))

	// groups are created here, before the sweep lists their consumers
	s.rt.Start()

	if !s.cfg.DisableStartupReap {
		s.reap()
	}
	if s.cfg.ReapSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.cfg.ReapSchedule, s.reap); err != nil {
			s.log.Errorf("server: invalid reap schedule %q: %v", s.cfg.ReapSchedule, err)
		} else {
			c.Start()
			s.mu.Lock()
			s.cron = c
			s.mu.Unlock()
		}
	}
}

// Stop shuts down both paths. Entries being handled are abandoned without
// acknowledgment and will be claimed once idle.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.log.Warnf("server not started; ignoring Stop()")
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	s.log.Infof("stopping server")

	if c != nil {
		<-c.Stop().Done()
	}
	s.rt.Stop()
}

func (s *Server) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.broker.CleanupTopologies(ctx, s.cfg.Topologies, s.cfg.ReapIdleThreshold, WithPendingThreshold(s.cfg.ReapPendingThreshold))
	if err != nil {
		s.log.Warnf("reaper: partial sweep removed=%d err=%v", n, err)
		return
	}
	s.log.Infof("reaper: sweep done removed=%d", n)
}

// execute runs one delivery through the pipeline. A nil return acknowledges
// the entry.
func (s *Server) execute(ctx context.Context, rd rtm.Delivery) error {
	d := &Delivery{
		Stream:    rd.Topology.Stream,
		Group:     rd.Topology.Group,
		Consumer:  rd.Consumer,
		EntryID:   rd.ID,
		Recovered: rd.Path == rtm.PathClaiming,
		Values:    rd.Values,
	}
	raw, ok := rawEnvelope(rd.Values)
	if !ok || !envelope.IsFrame(raw) {
		// no handler can ever accept it; acknowledge so it is not claimed forever
		s.log.Errorf("server: dropping entry without envelope stream=%s id=%s", d.Stream, d.EntryID)
		return nil
	}
	d.Raw = raw
	if id, found, err := envelope.PeekHeader(raw, HeaderMessageUUID); err == nil && found {
		d.MessageUUID = string(id)
	}
	if d.Recovered {
		s.log.Warnf("claiming: taking over task=%s stream=%s id=%s", d.MessageUUID, d.Stream, d.EntryID)
	}

	if err := s.broker.pipe.onReceive(ctx, d); err != nil {
		return err
	}

	msg, err := envelope.Decode(raw)
	if err != nil {
		// a corrupt frame never decodes; record the failure and acknowledge
		d.Err = fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
		s.log.Errorf("server: undecodable entry task=%s stream=%s id=%s err=%v", d.MessageUUID, d.Stream, d.EntryID, err)
		return s.broker.pipe.afterProcessed(ctx, d)
	}
	d.Headers, d.Body = msg.Headers, msg.Body
	d.Result, d.Err = s.invoke(withDelivery(ctx, d), d)

	if d.Err != nil {
		s.log.Errorf("server: handler failed task=%s stream=%s id=%s err=%v", d.MessageUUID, d.Stream, d.EntryID, d.Err)
	}
	return errors.Join(d.Err, s.broker.pipe.afterProcessed(ctx, d))
}

func (s *Server) invoke(ctx context.Context, d *Delivery) (res any, err error) {
	h, ok := s.mux.handler(d.Stream)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, d.Stream)
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(ctx, d)
}

func rawEnvelope(values map[string]any) ([]byte, bool) {
	switch v := values[envelope.Field].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

// PanicError is the handler error recorded when a handler panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// rtLogger adapts the public Logger to the internal runtime logger interface.
type rtLogger struct{ Logger }
