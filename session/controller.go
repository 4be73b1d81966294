// Package session owns the bot's running/stopped lifecycle, the trade mode
// and the published position snapshot. Every other actor (the control API,
// the strategy loop itself and the safety watchdogs) interacts with the
// shared state only through the Controller's synchronized methods.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hedgegram/auth"
	"hedgegram/broker"
	"hedgegram/journal"
	"hedgegram/logs"
	"hedgegram/metrics"
	"hedgegram/notify"
)

// StartStatus is the outcome reported by Start and Stop.
type StartStatus string

const (
	StatusStarted        StartStatus = "started"
	StatusAlreadyRunning StartStatus = "already_running"
	StatusStopped        StartStatus = "stopped"
)

// ErrBadPIN rejects a mode change with a wrong authorization PIN.
var ErrBadPIN = errors.New("invalid mode change pin")

// Snapshot is a consistent point-in-time copy of the shared session state.
type Snapshot struct {
	Running   bool
	Mode      Mode
	Positions []broker.Position
	TotalPnL  float64
	LastError string
}

// Config wires a Controller's collaborators.
type Config struct {
	Paper       broker.PositionSource
	Live        broker.PositionSource
	ModeStore   *ModeStore
	Credentials *auth.Store
	Notifier    notify.Notifier
	Journal     *journal.Journal
	ModePIN     string

	PollInterval time.Duration
	FetchTimeout time.Duration
}

// Controller is the session state machine: Stopped -> Running via Start,
// Running -> Stopped via Stop, from any trigger source.
type Controller struct {
	mu         sync.Mutex
	running    bool
	generation uint64
	mode       Mode
	positions  []broker.Position
	totalPnL   float64
	lastError  string

	sources      map[Mode]broker.PositionSource
	modeStore    *ModeStore
	creds        *auth.Store
	notifier     notify.Notifier
	journal      *journal.Journal
	pin          string
	pollInterval time.Duration
	fetchTimeout time.Duration

	activeLoops int32
}

// NewController builds a stopped controller with the mode restored from the
// mode store.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Paper == nil {
		return nil, fmt.Errorf("paper position source is required")
	}
	if cfg.ModeStore == nil {
		return nil, fmt.Errorf("mode store is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	mode, err := cfg.ModeStore.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to restore trade mode: %w", err)
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = pollInterval
	}

	sources := map[Mode]broker.PositionSource{ModePaper: cfg.Paper}
	if cfg.Live != nil {
		sources[ModeLive] = cfg.Live
	}

	logs.Infof("[Session] Controller initialized, mode=%s", mode)
	return &Controller{
		mode:         mode,
		sources:      sources,
		modeStore:    cfg.ModeStore,
		creds:        cfg.Credentials,
		notifier:     notifier,
		journal:      cfg.Journal,
		pin:          cfg.ModePIN,
		pollInterval: pollInterval,
		fetchTimeout: fetchTimeout,
	}, nil
}

// Start is idempotent: it spawns exactly one strategy loop bound to the
// current generation, or reports that one is already running.
func (c *Controller) Start() StartStatus {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return StatusAlreadyRunning
	}
	c.running = true
	c.generation++
	gen := c.generation
	c.lastError = ""
	mode := c.mode
	c.mu.Unlock()

	go c.run(gen)

	metrics.SetRunning(true)
	logs.Infof("[Session] Bot started in %s mode.", mode)
	c.notifier.Notify(fmt.Sprintf("bot started in %s mode", mode))
	c.record(journal.KindStarted, string(mode))
	return StatusStarted
}

// Stop is idempotent and safe from any trigger source: operator, panic,
// watchdogs or the strategy loop itself. The last writer's reason is
// retained; stopping an already-stopped controller does not notify again.
func (c *Controller) Stop(reason string) StartStatus {
	c.mu.Lock()
	wasRunning := c.running
	c.running = false
	if reason != "" {
		c.lastError = reason
	}
	c.mu.Unlock()

	if wasRunning {
		c.announceStop(reason)
	}
	return StatusStopped
}

// stopIf stops the session only while gen still owns it, so a superseded
// loop's late fault can never take down or relabel its successor.
func (c *Controller) stopIf(gen uint64, reason string) bool {
	c.mu.Lock()
	if !c.running || c.generation != gen {
		c.mu.Unlock()
		return false
	}
	c.running = false
	if reason != "" {
		c.lastError = reason
	}
	c.mu.Unlock()

	c.announceStop(reason)
	return true
}

func (c *Controller) announceStop(reason string) {
	metrics.SetRunning(false)
	msg := "bot stopped"
	if reason != "" {
		msg = "bot stopped: " + reason
	}
	logs.Info("[Session] " + msg)
	c.notifier.Notify(msg)
	c.record(journal.KindStopped, reason)
}

// SetMode switches the trade mode. Switching to live requires a valid,
// non-stale credential; the new mode is persisted so it survives restarts.
func (c *Controller) SetMode(mode Mode, pin string) error {
	if subtle.ConstantTimeCompare([]byte(pin), []byte(c.pin)) != 1 {
		return ErrBadPIN
	}
	if mode == ModeLive {
		if _, ok := c.sources[ModeLive]; !ok {
			return fmt.Errorf("live trading is not configured")
		}
		if err := c.creds.Validate(time.Now()); err != nil {
			return fmt.Errorf("cannot switch to live mode: %w", err)
		}
	}

	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()

	if err := c.modeStore.Save(mode); err != nil {
		return fmt.Errorf("mode changed but not persisted: %w", err)
	}
	logs.Infof("[Session] Trade mode set to %s.", mode)
	c.record(journal.KindModeChanged, string(mode))
	return nil
}

// Mode returns the current trade mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Running reports whether the strategy loop is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Snapshot returns a consistent copy of the session state. The positions
// slice is copied so callers never observe a torn write.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	positions := make([]broker.Position, len(c.positions))
	copy(positions, c.positions)
	return Snapshot{
		Running:   c.running,
		Mode:      c.mode,
		Positions: positions,
		TotalPnL:  c.totalPnL,
		LastError: c.lastError,
	}
}

// run is the strategy loop. It polls the position source for the current
// mode, publishes a fresh snapshot each iteration and converts any fault
// into a stop: the fail-safe default is to stop trading, never to retry
// silently next to live order flow.
func (c *Controller) run(gen uint64) {
	atomic.AddInt32(&c.activeLoops, 1)
	defer atomic.AddInt32(&c.activeLoops, -1)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	logs.Infof("[Session] Strategy loop started (generation %d).", gen)
	for {
		if !c.alive(gen) {
			logs.Infof("[Session] Strategy loop exiting (generation %d).", gen)
			return
		}

		mode := c.Mode()
		if err := c.iterate(gen, mode); err != nil {
			logs.Errorf("[Session] Strategy iteration failed: %v", err)
			if !c.stopIf(gen, err.Error()) {
				logs.Infof("[Session] Superseded loop dropping fault (generation %d).", gen)
			}
			return
		}

		<-ticker.C
	}
}

// iterate performs one poll: credential pre-check in live mode, fetch,
// enrich totals, publish.
func (c *Controller) iterate(gen uint64, mode Mode) error {
	if mode == ModeLive {
		if err := c.creds.Validate(time.Now()); err != nil {
			return fmt.Errorf("live credential invalid: %w", err)
		}
	}

	source, ok := c.sources[mode]
	if !ok {
		return fmt.Errorf("no position source for mode %s", mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	positions, err := source.FetchPositions(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("position fetch failed: %w", err)
	}

	total := broker.TotalPnL(positions)
	if !c.publish(gen, positions, total) {
		return nil // superseded; the loop notices on its next alive check
	}
	metrics.ObserveSnapshot(string(mode), len(positions), total)
	logs.Debugf("[Session] Snapshot published: %d positions, pnl=%.2f", len(positions), total)
	return nil
}

// alive reports whether this loop generation still owns the session.
func (c *Controller) alive(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.generation == gen
}

// publish atomically replaces the snapshot, but only while this generation
// still owns the running session, so a stale loop can never clobber the
// state of its successor.
func (c *Controller) publish(gen uint64, positions []broker.Position, total float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.generation != gen {
		return false
	}
	c.positions = positions
	c.totalPnL = total
	return true
}

func (c *Controller) record(kind, detail string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(kind, detail); err != nil {
		logs.Warnf("[Session] Journal write failed: %v", err)
	}
}

// loopCount reports the number of live strategy loop goroutines.
func (c *Controller) loopCount() int32 {
	return atomic.LoadInt32(&c.activeLoops)
}
