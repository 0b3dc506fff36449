// Package scanner implements the scanner orchestrator (C9): the state
// machine that drives the rest of the pipeline one tick at a time —
// resolve target, pull a frame, match, dispatch a click on a hit — and
// the fault-budget/backoff logic that demotes a persistently failing
// run to Faulted. Grounded on the teacher's StreamSession
// context/cancel/ticker loop (internal/ws/streamer.go's streamFrames),
// generalized from a fixed-FPS frame pump to the scheduler-driven
// variable-interval loop the design calls for.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/capture"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/click"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/debugimage"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/events"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/locator"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/match"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/monitor"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/schedule"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/templatebank"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

const (
	faultWindow        = 60 * time.Second
	faultStickyCount   = 5
	faultBackoffBaseMS = 1000
	faultBackoffMaxMS  = 8000

	consumerTag = "scanner"
)

// Config mirrors the orchestrator-relevant configuration keys.
type Config struct {
	Target         types.WindowTarget
	CaptureBackend types.CaptureBackendKind
	MonitorIndex   int
	CaptureOpts    capture.Options
	MatchOpts      match.Options
	ClickOffset    types.Point
	ClickOpts      click.Options
	Schedule       schedule.Config
	Whitelist      []string
	MinDetections  int
}

// Orchestrator owns the Idle/Arming/Scanning/Cooldown/Paused/Faulted
// state machine and the goroutine that advances it.
type Orchestrator struct {
	logger     *zap.Logger
	cfg        Config
	locator    *locator.Locator
	monitors   *monitor.Registry
	bank       *templatebank.Bank
	scheduler  *schedule.Scheduler
	dispatcher *click.Dispatcher
	cache      *capture.Cache
	events     *events.Channel
	debug      *debugimage.Writer

	mu      sync.Mutex
	state   types.ScannerState
	paused  bool
	session *capture.Session
	handle  uintptr

	faultTimes []time.Time

	// streaks counts consecutive qualifying matches per template id,
	// gating dispatch on cfg.MinDetections. lastOnWhitelist/whitelistKnown
	// track foreground membership across ticks so OnForegroundChange fires
	// only on an actual transition, not every tick.
	streaks         map[string]int
	lastOnWhitelist bool
	whitelistKnown  bool

	cancel context.CancelFunc
	done   chan struct{}
}

func New(
	logger *zap.Logger,
	cfg Config,
	loc *locator.Locator,
	mon *monitor.Registry,
	bank *templatebank.Bank,
	dispatcher *click.Dispatcher,
	cache *capture.Cache,
	ev *events.Channel,
	debug *debugimage.Writer,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		logger:     logger,
		cfg:        cfg,
		locator:    loc,
		monitors:   mon,
		bank:       bank,
		scheduler:  schedule.New(cfg.Schedule),
		dispatcher: dispatcher,
		cache:      cache,
		events:     ev,
		debug:      debug,
		state:      types.StateIdle,
		streaks:    make(map[string]int),
	}
}

// State returns the current state under lock.
func (o *Orchestrator) State() types.ScannerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s types.ScannerState) {
	o.mu.Lock()
	changed := o.state != s
	o.state = s
	o.mu.Unlock()
	if changed {
		o.events.Emit(events.Event{Kind: events.KindStatusChanged, Status: s})
		o.logger.Info("scanner state changed", zap.String("state", string(s)))
	}
}

// Start launches the tick loop. The returned error is nil unless the
// orchestrator is already running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return fmt.Errorf("scanner: already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.mu.Unlock()

	o.setState(types.StateArming)
	go o.run(runCtx)
	return nil
}

// Stop cancels the tick loop and waits for it to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	if o.session != nil {
		o.session.Stop()
	}
	o.setState(types.StateIdle)
}

// Pause suspends ticking without tearing down the capture session;
// Resume continues from wherever the scheduler left off. Both are
// no-ops against a Faulted-sticky run.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	if o.state == types.StateFaulted {
		o.mu.Unlock()
		return
	}
	o.paused = true
	o.mu.Unlock()
	o.setState(types.StatePaused)
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	if o.state == types.StateFaulted {
		o.mu.Unlock()
		return
	}
	o.paused = false
	o.mu.Unlock()
	o.setState(types.StateArming)
}

// Reset clears Faulted-sticky state and the fault history, letting the
// run re-arm on the next tick. Intended for the control surface's
// explicit /control/resume after an operator has addressed the cause.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.faultTimes = nil
	o.paused = false
	o.streaks = make(map[string]int)
	o.whitelistKnown = false
	o.mu.Unlock()
	o.setState(types.StateArming)
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	var timer *time.Timer
	for {
		delayMS := o.tick(ctx)
		if delayMS < 0 {
			return // context canceled mid-tick
		}
		if timer == nil {
			timer = time.NewTimer(time.Duration(delayMS) * time.Millisecond)
		} else {
			timer.Reset(time.Duration(delayMS) * time.Millisecond)
		}
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick runs one iteration of the per-tick algorithm and returns the
// delay, in milliseconds, to wait before the next one. A negative
// return means the caller should stop immediately (context canceled).
func (o *Orchestrator) tick(ctx context.Context) int {
	if ctx.Err() != nil {
		return -1
	}

	o.mu.Lock()
	paused := o.paused
	faulted := o.state == types.StateFaulted
	o.mu.Unlock()
	if faulted {
		return o.cfg.Schedule.IdleScanIntervalMS
	}
	if paused {
		return o.cfg.Schedule.IdleScanIntervalMS
	}

	onWhitelist := o.checkForegroundWhitelist()
	o.mu.Lock()
	changed := !o.whitelistKnown || onWhitelist != o.lastOnWhitelist
	o.lastOnWhitelist = onWhitelist
	o.whitelistKnown = true
	o.mu.Unlock()
	if changed {
		o.scheduler.OnForegroundChange(onWhitelist)
	}

	handle, err := o.locator.Resolve(o.cfg.Target)
	if err != nil {
		o.scheduler.OnMiss()
		if !errors.Is(err, locator.ErrNotFound) && !errors.Is(err, locator.ErrStale) {
			o.recordFault(err)
		}
		o.teardownSession()
		o.setState(types.StateArming)
		return o.scheduler.NextDelayMS()
	}
	o.handle = handle

	if err := o.ensureSession(handle); err != nil {
		o.recordFault(err)
		o.emitError("capture_start", err)
		return o.faultDelayMS()
	}
	o.setState(types.StateScanning)

	frame, err := o.session.LatestFrame()
	if err != nil || frame == nil {
		o.scheduler.OnMiss()
		return o.scheduler.NextDelayMS()
	}
	o.cache.Publish(frame)
	fh := o.cache.Acquire(consumerTag)
	if fh == nil {
		o.scheduler.OnMiss()
		return o.scheduler.NextDelayMS()
	}
	defer fh.Release()

	clientRect, err := o.locator.ClientRect(handle)
	if err != nil {
		o.scheduler.OnMiss()
		return o.scheduler.NextDelayMS()
	}

	result, err := match.MatchOne(fh.Frame, o.bank.All(), o.cfg.MatchOpts)
	if err != nil {
		o.resetStreaks()
		o.scheduler.OnMiss()
		return o.scheduler.NextDelayMS()
	}
	if result == nil {
		o.resetStreaks()
		o.scheduler.OnMiss()
		return o.scheduler.NextDelayMS()
	}

	o.events.Emit(events.Event{Kind: events.KindMatch, Match: result})
	streak := o.bumpStreak(result.TemplateID)

	minDetections := o.cfg.MinDetections
	if minDetections <= 0 {
		minDetections = 1
	}
	if streak < minDetections {
		return o.scheduler.NextDelayMS()
	}

	clickResult, err := o.dispatcher.Dispatch(handle, clientRect, result.Center, o.cfg.ClickOffset, o.cfg.ClickOpts)
	if err != nil {
		if !errors.Is(err, click.ErrCooling) {
			o.emitError("click", err)
			o.debug.Save(fh.Frame, "error", time.Now())
		}
		return o.scheduler.NextDelayMS()
	}
	o.scheduler.OnHit()
	o.clearStreak(result.TemplateID)
	clickResult.TemplateID = result.TemplateID
	o.events.Emit(events.Event{Kind: events.KindClick, Click: &clickResult})
	o.debug.Save(fh.Frame, "click", time.Now())
	o.setState(types.StateCooldown)
	return o.scheduler.NextDelayMS()
}

// bumpStreak increments templateID's consecutive-match streak and resets
// every other template's streak, since only one template early-exits a
// match per tick. It returns the streak after incrementing.
func (o *Orchestrator) bumpStreak(templateID string) int {
	o.mu.Lock()
	for id := range o.streaks {
		if id != templateID {
			o.streaks[id] = 0
		}
	}
	o.streaks[templateID]++
	n := o.streaks[templateID]
	o.mu.Unlock()
	return n
}

func (o *Orchestrator) clearStreak(templateID string) {
	o.mu.Lock()
	o.streaks[templateID] = 0
	o.mu.Unlock()
}

func (o *Orchestrator) resetStreaks() {
	o.mu.Lock()
	for id := range o.streaks {
		o.streaks[id] = 0
	}
	o.mu.Unlock()
}

func (o *Orchestrator) ensureSession(handle uintptr) error {
	if o.session != nil {
		return nil
	}
	source := capture.Source{Kind: o.cfg.CaptureBackend, Handle: handle}
	if o.cfg.CaptureBackend == types.BackendMonitor {
		if m, ok := o.monitors.MonitorByIndex(o.cfg.MonitorIndex); ok {
			source = capture.Source{Kind: types.BackendMonitor, Monitor: m.ID}
		}
	}
	sess, err := capture.Start(o.logger, source, o.cfg.CaptureOpts)
	if err != nil {
		return err
	}
	o.session = sess
	return nil
}

func (o *Orchestrator) teardownSession() {
	if o.session == nil {
		return
	}
	o.session.Stop()
	o.session = nil
}

func (o *Orchestrator) checkForegroundWhitelist() bool {
	if len(o.cfg.Whitelist) == 0 {
		return true
	}
	name, err := o.locator.ForegroundProcessName()
	if err != nil {
		return false
	}
	for _, w := range o.cfg.Whitelist {
		if w == name {
			return true
		}
	}
	return false
}

// recordFault appends a fault timestamp, prunes anything outside the
// 60-second window, and trips Faulted-sticky once five remain.
func (o *Orchestrator) recordFault(err error) {
	now := time.Now()
	o.mu.Lock()
	o.faultTimes = append(o.faultTimes, now)
	cutoff := now.Add(-faultWindow)
	kept := o.faultTimes[:0]
	for _, t := range o.faultTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	o.faultTimes = kept
	count := len(o.faultTimes)
	sticky := count >= faultStickyCount
	o.mu.Unlock()

	o.logger.Warn("scanner fault recorded", zap.Error(err), zap.Int("count_60s", count))
	if sticky {
		o.setState(types.StateFaulted)
	}
}

// faultDelayMS returns the 1/2/4/8s exponential backoff (capped at 8s)
// keyed to how many faults currently sit within the 60-second window.
func (o *Orchestrator) faultDelayMS() int {
	o.mu.Lock()
	n := len(o.faultTimes)
	o.mu.Unlock()
	if n == 0 {
		n = 1
	}
	ms := faultBackoffBaseMS << (n - 1)
	if ms > faultBackoffMaxMS {
		ms = faultBackoffMaxMS
	}
	return ms
}

func (o *Orchestrator) emitError(kind string, err error) {
	o.events.Emit(events.Event{Kind: events.KindError, ErrKind: kind, ErrInfo: err.Error()})
}
