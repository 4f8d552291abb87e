// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phloton/boardup/pkg/board"
	"github.com/phloton/boardup/pkg/esptool"
	"github.com/phloton/boardup/pkg/store"
)

const (
	// DefaultSettle is the pause between a successful flash and monitoring.
	DefaultSettle = 2 * time.Second

	// DefaultLogLimit is how many log lines a Snapshot carries.
	DefaultLogLimit = 500

	eventQueueSize = 256
	lineQueueSize  = 256
)

// Status texts shown to the user.
const (
	StatusNotConnected = "Status: Not Connected"
	StatusProbing      = "Searching for board"
	StatusDetecting    = "Detecting Chip"
	StatusReady        = "Ready"
	StatusDetectFailed = "Chip Detect Failed"
	StatusFlashing     = "Flashing"
	StatusRebooting    = "Waiting for board reboot"
	StatusMonitoring   = "Monitoring"
	StatusFlashFailed  = "Flash Failed"
	StatusVerified     = "MAC Written in SD (Verified)"
	StatusNoDevice     = "No compatible device detected"
)

// Catalog lists candidate ports.
type Catalog interface {
	List() ([]board.PortInfo, error)
}

// Prober finds the port a board is attached to.
type Prober interface {
	Probe(ctx context.Context, candidates []string) (board.ProbeResult, error)
}

// Identifier resolves the chip family on a port.
type Identifier interface {
	Identify(ctx context.Context, port string) (esptool.Chip, error)
}

// Flasher writes a firmware bundle.
type Flasher interface {
	Flash(ctx context.Context, port string, chip esptool.Chip, bundle esptool.Bundle, onLine func(string)) (esptool.FlashResult, error)
}

// Monitor runs serial sessions.
type Monitor interface {
	Start(ctx context.Context, port string, onLine func(board.Line), onExit func(error)) error
	Stop()
}

// Reserver marks a port as held while an external tool owns it.
type Reserver interface {
	Reserve(name, owner string) (func(), error)
}

// Recorder persists attempt history.
type Recorder interface {
	AddFlash(store.FlashRecord) error
	AddSerialLog(store.SerialLog) error
}

// Options wires the controller to its workers.
type Options struct {
	Catalog    Catalog
	Prober     Prober
	Identifier Identifier
	Flasher    Flasher
	Monitor    Monitor

	// Locate resolves the firmware bundle. Defaults to esptool.Locate.
	Locate func(app string) (esptool.Bundle, error)

	// Ports, if set, is reserved around chip_id and write_flash.
	Ports Reserver

	// Recorder, if set, receives a record per flash attempt and serial session.
	Recorder Recorder

	// PortUpdates, if set, delivers catalog changes (see board.Catalog.Watch).
	PortUpdates <-chan []board.PortInfo

	Markers  board.Markers
	Settle   time.Duration
	BaudRate int
	LogLimit int

	// Port skips probing and identifies this port on start.
	Port string

	// Firmware is the application image to flash.
	Firmware string

	// AutoFlash starts flashing as soon as the chip is known.
	AutoFlash bool

	Logger *zap.SugaredLogger
}

// Controller sequences probe, identify, flash, settle and monitor. All state
// changes happen on the goroutine running Run; workers report back through
// events only.
type Controller struct {
	opts   Options
	logger *zap.SugaredLogger

	events chan event
	done   chan struct{}
	ctx    context.Context
	wg     sync.WaitGroup

	// Owned by the Run goroutine.
	state        BoardState
	stats        *board.Statistics
	log          []string
	seq          uint64
	active       map[workerKind]uint64
	cancels      map[workerKind]context.CancelFunc
	exited       map[workerKind]chan struct{}
	settleTimer  *time.Timer
	sessionStart time.Time
	sessionPort  string

	mu       sync.Mutex
	snapshot Snapshot
	subs     map[chan Snapshot]struct{}
	lineSubs map[chan string]uint64 // lines dropped since the last delivery
	closed   bool
}

// New creates a controller. Call Run to start it.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Locate == nil {
		opts.Locate = esptool.Locate
	}
	if opts.Settle == 0 {
		opts.Settle = DefaultSettle
	}
	if opts.LogLimit <= 0 {
		opts.LogLimit = DefaultLogLimit
	}
	if opts.BaudRate == 0 {
		opts.BaudRate = board.DefaultBaudRate
	}
	if opts.Markers.MACPrefix == "" && len(opts.Markers.ProbeSignatures) == 0 {
		opts.Markers = board.DefaultMarkers()
	}

	c := &Controller{
		opts:     opts,
		logger:   opts.Logger,
		events:   make(chan event, eventQueueSize),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		stats:    board.NewStatistics(),
		active:   make(map[workerKind]uint64),
		cancels:  make(map[workerKind]context.CancelFunc),
		exited:   make(map[workerKind]chan struct{}),
		subs:     make(map[chan Snapshot]struct{}),
		lineSubs: make(map[chan string]uint64),
	}
	c.state = BoardState{
		Stage:    StageDisconnected,
		Port:     opts.Port,
		Firmware: opts.Firmware,
		Status:   StatusNotConnected,
	}
	c.snapshot = c.buildSnapshot()
	return c
}

// RefreshPorts re-reads the port catalog.
func (c *Controller) RefreshPorts() { c.post(refreshCmd{}) }

// Probe searches the catalog for a board.
func (c *Controller) Probe() { c.post(probeCmd{}) }

// SelectPort identifies the chip on port.
func (c *Controller) SelectPort(port string) { c.post(selectPortCmd{port: port}) }

// SetFirmware sets the application image to flash.
func (c *Controller) SetFirmware(path string) { c.post(firmwareCmd{path: path}) }

// Flash starts a flash attempt.
func (c *Controller) Flash() { c.post(flashCmd{}) }

// Monitor opens a serial session on port without flashing. An empty port
// reuses the current selection.
func (c *Controller) Monitor(port string) { c.post(monitorCmd{port: port}) }

// Disconnect stops every worker and closes the port.
func (c *Controller) Disconnect() { c.post(disconnectCmd{}) }

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Subscribe returns a channel that always holds the latest snapshot. Stale
// snapshots are replaced rather than queued. The channel is closed when Run
// returns or cancel is called.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	ch <- c.snapshot

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// SubscribeLines returns every log line appended from now on, in order. Lines
// are dropped for a subscriber that falls lineQueueSize behind; the count is
// logged once it catches up or unsubscribes.
func (c *Controller) SubscribeLines() (<-chan string, func()) {
	ch := make(chan string, lineQueueSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.lineSubs[ch] = 0

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if dropped, ok := c.lineSubs[ch]; ok {
			c.warnDropped(dropped)
			delete(c.lineSubs, ch)
			close(ch)
		}
	}
}

// Run processes events until ctx is done. On return every worker has been
// cancelled and waited for, and the serial port is closed.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	c.logger.Infow("Pipeline started", "port", c.opts.Port, "firmware", c.opts.Firmware, "auto_flash", c.opts.AutoFlash)

	if c.opts.PortUpdates != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case ports, ok := <-c.opts.PortUpdates:
					if !ok {
						return
					}
					if !c.postCtx(ctx, portsEvent{ports: ports}) {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if c.opts.Port != "" {
		c.handle(selectPortCmd{port: c.opts.Port})
	} else {
		c.handle(probeCmd{})
	}
	c.publish()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case ev := <-c.events:
			c.handle(ev)
			c.publish()
		}
	}
}

func (c *Controller) shutdown() {
	c.stopAll()
	close(c.done)
	c.wg.Wait()
	c.logger.Info("Pipeline stopped")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for ch := range c.subs {
		close(ch)
	}
	for ch, dropped := range c.lineSubs {
		c.warnDropped(dropped)
		close(ch)
	}
	c.subs = nil
	c.lineSubs = nil
}

func (c *Controller) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// postCtx posts unless ctx ends first. Workers use their own context so a
// cancelled worker never blocks on a full queue.
func (c *Controller) postCtx(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case refreshCmd:
		c.refreshPorts()
	case probeCmd:
		c.startProbe()
	case selectPortCmd:
		c.selectPort(ev.port)
	case firmwareCmd:
		c.setFirmware(ev.path)
	case flashCmd:
		c.requestFlash()
	case monitorCmd:
		c.monitorPort(ev.port)
	case disconnectCmd:
		c.disconnect()
	case portsEvent:
		c.portsChanged(ev.ports)
	case probeDone:
		if c.current(workerProbe, ev.token) {
			c.probeFinished(ev)
		}
	case identifyDone:
		if c.current(workerIdentify, ev.token) {
			c.identifyFinished(ev)
		}
	case flashLine:
		if c.active[workerFlash] == ev.token {
			c.appendLog(ev.line)
			if pct, ok := esptool.ParseProgress(ev.line); ok {
				c.state.FlashProgress = pct
			}
		}
	case flashDone:
		if c.current(workerFlash, ev.token) {
			c.flashFinished(ev)
		}
	case settleDone:
		if c.current(workerSettle, ev.token) {
			c.startMonitor()
		}
	case serialLine:
		if c.active[workerMonitor] == ev.token {
			c.lineReceived(ev.line)
		}
	case serialExit:
		if c.current(workerMonitor, ev.token) {
			c.monitorExited(ev.err)
		}
	}
}

// current reports whether token belongs to the running worker of kind, and if
// so marks that worker finished.
func (c *Controller) current(kind workerKind, token uint64) bool {
	if token == 0 || c.active[kind] != token {
		return false
	}
	delete(c.active, kind)
	delete(c.exited, kind)
	if cancel := c.cancels[kind]; cancel != nil {
		cancel()
		delete(c.cancels, kind)
	}
	return true
}

// spawn runs fn as the only worker of kind.
func (c *Controller) spawn(kind workerKind, fn func(ctx context.Context, token uint64)) {
	c.cancelWorker(kind)

	c.seq++
	token := c.seq
	ctx, cancel := context.WithCancel(c.ctx)
	exited := make(chan struct{})
	c.active[kind] = token
	c.cancels[kind] = cancel
	c.exited[kind] = exited

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(exited)
		fn(ctx, token)
	}()
}

// cancelWorker cancels the worker of kind and waits for it to return, so any
// port it held is closed or released before the next worker starts.
func (c *Controller) cancelWorker(kind workerKind) {
	if cancel := c.cancels[kind]; cancel != nil {
		cancel()
	}
	if exited := c.exited[kind]; exited != nil {
		<-exited
	}
	delete(c.cancels, kind)
	delete(c.active, kind)
	delete(c.exited, kind)
}

// stopAll cancels every worker, stops the settle timer and closes the serial
// session.
func (c *Controller) stopAll() {
	c.cancelWorker(workerProbe)
	c.cancelWorker(workerIdentify)
	c.cancelWorker(workerFlash)
	c.stopSettle()
	c.stopMonitor(nil)
}

func (c *Controller) stopSettle() {
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	c.cancelWorker(workerSettle)
}

// stopMonitor ends the serial session, if any, and waits for the port to close.
func (c *Controller) stopMonitor(exitErr error) {
	if _, ok := c.active[workerMonitor]; !ok && c.sessionPort == "" {
		return
	}
	c.cancelWorker(workerMonitor)
	if c.opts.Monitor != nil {
		c.opts.Monitor.Stop()
	}
	c.recordSession(exitErr)
}

func (c *Controller) refreshPorts() {
	if c.opts.Catalog == nil {
		return
	}
	ports, err := c.opts.Catalog.List()
	if err != nil {
		c.appendLog(fmt.Sprintf("[ERROR] Port refresh failed: %v", err))
		c.logger.Warnw("Port refresh failed", "error", err)
		return
	}
	c.portsChanged(ports)
}

func (c *Controller) portsChanged(ports []board.PortInfo) {
	c.state.Ports = ports
	if c.state.Port == "" || c.state.Stage.busy() {
		return
	}
	if slices.ContainsFunc(ports, func(p board.PortInfo) bool { return p.Name == c.state.Port }) {
		return
	}

	switch c.state.Stage {
	case StageIdentifying, StageIdentified, StageMonitoring:
		c.logger.Infow("Active port removed", "port", c.state.Port)
		c.appendLog(fmt.Sprintf("%s removed", c.state.Port))
		c.stopAll()
		c.toDisconnected(StatusNotConnected)
	}
}

func (c *Controller) startProbe() {
	if c.state.Stage.busy() {
		c.reject("probe")
		return
	}
	c.stopAll()

	var candidates []string
	if c.opts.Catalog != nil {
		ports, err := c.opts.Catalog.List()
		if err != nil {
			c.logger.Warnw("Failed to enumerate serial ports", "error", err)
		} else {
			c.state.Ports = ports
			candidates = board.PortNames(ports)
		}
	}

	c.state.Stage = StageProbing
	c.state.Connection = ConnectionConnecting
	c.state.Chip = esptool.ChipUnknown
	c.state.Status = StatusProbing
	c.appendLog(fmt.Sprintf("Probing %d port(s)...", len(candidates)))

	prober := c.opts.Prober
	c.spawn(workerProbe, func(ctx context.Context, token uint64) {
		result, err := prober.Probe(ctx, candidates)
		c.postCtx(ctx, probeDone{token: token, result: result, err: err})
	})
}

func (c *Controller) probeFinished(ev probeDone) {
	if ev.err != nil {
		c.logger.Infow("Probe found no board", "error", ev.err)
		c.appendLog(StatusNoDevice)
		c.toDisconnected(StatusNoDevice)
		return
	}
	c.appendLog(fmt.Sprintf("Detected board on %s", ev.result.Port))
	c.startIdentify(ev.result.Port)
}

func (c *Controller) selectPort(port string) {
	if port == "" {
		return
	}
	if c.state.Stage.busy() {
		c.reject("port change")
		return
	}
	c.stopAll()
	c.startIdentify(port)
}

func (c *Controller) monitorPort(port string) {
	if port == "" {
		port = c.state.Port
	}
	if port == "" {
		c.appendLog("Monitor rejected: no port selected")
		return
	}
	if c.state.Stage.busy() {
		c.reject("monitor")
		return
	}
	c.stopAll()
	c.state.Port = port
	c.startMonitor()
}

func (c *Controller) startIdentify(port string) {
	c.state.Port = port
	c.state.Chip = esptool.ChipUnknown
	c.state.Stage = StageIdentifying
	c.state.Connection = ConnectionConnecting
	c.state.Status = StatusDetecting

	identifier := c.opts.Identifier
	reserver := c.opts.Ports
	c.spawn(workerIdentify, func(ctx context.Context, token uint64) {
		release, err := reserve(reserver, port, "esptool chip_id")
		if err != nil {
			c.postCtx(ctx, identifyDone{token: token, err: err})
			return
		}
		chip, err := identifier.Identify(ctx, port)
		release()
		c.postCtx(ctx, identifyDone{token: token, chip: chip, err: err})
	})
}

func (c *Controller) identifyFinished(ev identifyDone) {
	if ev.err != nil {
		c.logger.Warnw("Chip identification failed", "port", c.state.Port, "error", ev.err)
		c.appendLog(fmt.Sprintf("[ERROR] %v", ev.err))
		c.fail(StageIdentifying, StatusDetectFailed)
		c.state.Connection = ConnectionDisconnected
		return
	}

	c.state.Chip = ev.chip
	c.state.Stage = StageIdentified
	c.state.Connection = ConnectionConnected
	c.state.Status = fmt.Sprintf("%s (%s)", StatusReady, ev.chip)
	c.appendLog(fmt.Sprintf("Chip detected: %s on %s", ev.chip, c.state.Port))

	if c.opts.AutoFlash && c.state.Firmware != "" {
		c.startFlash()
	}
}

func (c *Controller) setFirmware(path string) {
	c.state.Firmware = path
	c.state.Bundle = esptool.Bundle{}
	c.appendLog(fmt.Sprintf("Firmware: %s", path))

	if c.opts.AutoFlash && c.state.Stage == StageIdentified && path != "" {
		c.startFlash()
	}
}

func (c *Controller) requestFlash() {
	switch {
	case c.state.Stage == StageProbing, c.state.Stage == StageIdentifying, c.state.Stage.busy():
		c.reject("flash")
	case c.state.Port == "" || c.state.Chip == esptool.ChipUnknown:
		c.appendLog("Flash rejected: no chip detected")
	case c.state.Firmware == "":
		c.appendLog("Flash rejected: no firmware selected")
	default:
		c.startFlash()
	}
}

func (c *Controller) startFlash() {
	c.stopMonitor(nil)
	c.stopSettle()

	c.state.AttemptID = uuid.NewString()
	c.state.MACVerified = false
	c.state.MAC = ""
	c.state.Charger = board.ChargerUnknown
	c.state.Temperatures = nil
	c.state.FlashProgress = 0

	bundle, err := c.opts.Locate(c.state.Firmware)
	c.state.Bundle = bundle
	if err != nil {
		c.logger.Warnw("Firmware bundle incomplete", "firmware", c.state.Firmware, "error", err)
		c.appendLog(fmt.Sprintf("[ERROR] %v", err))
		c.state.Flash = FlashFailed
		c.fail(StageFlashing, StatusFlashFailed)
		c.recordFlash(esptool.FlashResult{ExitCode: -1}, err)
		return
	}

	c.state.Stage = StageFlashing
	c.state.Flash = FlashInProgress
	c.state.Status = StatusFlashing
	c.appendLog(fmt.Sprintf("Flashing %s to %s (%s)", bundle.App, c.state.Port, c.state.Chip))

	flasher := c.opts.Flasher
	reserver := c.opts.Ports
	port, chip := c.state.Port, c.state.Chip
	c.spawn(workerFlash, func(ctx context.Context, token uint64) {
		release, err := reserve(reserver, port, "esptool write_flash")
		if err != nil {
			c.postCtx(ctx, flashDone{token: token, result: esptool.FlashResult{ExitCode: -1}, err: err})
			return
		}
		result, err := flasher.Flash(ctx, port, chip, bundle, func(line string) {
			c.postCtx(ctx, flashLine{token: token, line: line})
		})
		release()
		c.postCtx(ctx, flashDone{token: token, result: result, err: err})
	})
}

func (c *Controller) flashFinished(ev flashDone) {
	c.recordFlash(ev.result, ev.err)

	if ev.err != nil || !ev.result.Success {
		err := ev.err
		if err == nil {
			err = fmt.Errorf("%w: exit code %d", esptool.ErrFlashProcessFailed, ev.result.ExitCode)
		}
		c.logger.Warnw("Flash failed", "port", c.state.Port, "exit_code", ev.result.ExitCode, "error", err)
		c.appendLog(fmt.Sprintf("[ERROR] %v", err))
		c.state.Flash = FlashFailed
		c.fail(StageFlashing, StatusFlashFailed)
		return
	}

	c.state.Flash = FlashSuccess
	c.state.FlashProgress = 100
	c.state.Stage = StageSettling
	c.state.Status = StatusRebooting
	c.appendLog(fmt.Sprintf("Flash complete in %s", ev.result.Duration.Round(time.Millisecond)))

	c.seq++
	token := c.seq
	c.active[workerSettle] = token
	c.settleTimer = time.AfterFunc(c.opts.Settle, func() {
		c.post(settleDone{token: token})
	})
}

func (c *Controller) startMonitor() {
	c.settleTimer = nil
	port := c.state.Port

	c.stats.Reset()
	c.seq++
	token := c.seq
	ctx, cancel := context.WithCancel(c.ctx)

	err := c.opts.Monitor.Start(ctx, port,
		func(line board.Line) {
			c.postCtx(ctx, serialLine{token: token, line: line})
		},
		func(err error) {
			c.postCtx(ctx, serialExit{token: token, err: err})
		},
	)
	if err != nil {
		cancel()
		c.logger.Warnw("Could not open serial port", "port", port, "error", err)
		c.appendLog(fmt.Sprintf("[ERROR] Could not open %s: %v", port, err))
		c.toDisconnected(StatusNotConnected)
		return
	}

	c.active[workerMonitor] = token
	c.cancels[workerMonitor] = cancel
	c.sessionStart = time.Now()
	c.sessionPort = port

	c.state.Stage = StageMonitoring
	c.state.Connection = ConnectionConnected
	c.state.Status = StatusMonitoring
	c.appendLog(fmt.Sprintf("Monitoring %s at %d baud", port, c.opts.BaudRate))
}

func (c *Controller) lineReceived(line board.Line) {
	c.appendLog(line.Text)

	match := c.opts.Markers.Match(line.Text)
	c.stats.Update(line, match)

	if match.Charger != board.ChargerUnknown {
		c.state.Charger = match.Charger
	}
	if match.MACSeen && !c.state.MACVerified {
		c.state.MACVerified = true
		c.state.MAC = match.MAC
		c.state.Status = StatusVerified
		c.logger.Infow("MAC write verified", "port", c.state.Port, "mac", match.MAC)
	}
	if match.Telemetry != nil {
		c.state.Temperatures = match.Telemetry
	}
}

func (c *Controller) monitorExited(err error) {
	c.recordSession(err)
	if err != nil {
		c.logger.Warnw("Serial session ended", "port", c.state.Port, "error", err)
	}
	c.toDisconnected(StatusNotConnected)
}

func (c *Controller) disconnect() {
	c.stopAll()
	c.appendLog("Disconnected")
	c.toDisconnected(StatusNotConnected)
}

func (c *Controller) toDisconnected(status string) {
	c.state.Stage = StageDisconnected
	c.state.Connection = ConnectionDisconnected
	c.state.Status = status
	if c.state.Flash == FlashInProgress {
		c.state.Flash = FlashIdle
	}
}

func (c *Controller) fail(stage Stage, status string) {
	c.state.Stage = StageFailed
	c.state.FailedAt = stage
	c.state.Status = status
}

func (c *Controller) reject(what string) {
	c.appendLog(fmt.Sprintf("Busy (%s): %s ignored", c.state.Stage, what))
}

func (c *Controller) recordFlash(result esptool.FlashResult, err error) {
	if c.opts.Recorder == nil {
		return
	}
	record := store.FlashRecord{
		ID:         c.state.AttemptID,
		Port:       c.state.Port,
		Chip:       string(c.state.Chip),
		Firmware:   c.state.Firmware,
		Bootloader: c.state.Bundle.Bootloader,
		Partitions: c.state.Bundle.Partitions,
		Timestamp:  time.Now(),
		Success:    err == nil && result.Success,
		ExitCode:   result.ExitCode,
		Duration:   result.Duration.Round(time.Millisecond).String(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	if err := c.opts.Recorder.AddFlash(record); err != nil {
		c.logger.Warnw("Failed to record flash", "error", err)
	}
}

func (c *Controller) recordSession(exitErr error) {
	port := c.sessionPort
	c.sessionPort = ""
	if port == "" || c.opts.Recorder == nil {
		return
	}
	record := store.SerialLog{
		ID:          c.state.AttemptID,
		Port:        port,
		BaudRate:    c.opts.BaudRate,
		Timestamp:   c.sessionStart,
		Duration:    time.Since(c.sessionStart).Round(time.Millisecond).String(),
		Lines:       c.stats.TotalLines,
		MACVerified: c.state.MACVerified,
		MAC:         c.state.MAC,
	}
	if exitErr != nil {
		record.Error = exitErr.Error()
	}
	if err := c.opts.Recorder.AddSerialLog(record); err != nil {
		c.logger.Warnw("Failed to record serial session", "error", err)
	}
}

func (c *Controller) appendLog(line string) {
	c.log = append(c.log, line)
	if over := len(c.log) - c.opts.LogLimit; over > 0 {
		c.log = slices.Delete(c.log, 0, over)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for ch, dropped := range c.lineSubs {
		select {
		case ch <- line:
			if dropped > 0 {
				c.warnDropped(dropped)
				c.lineSubs[ch] = 0
			}
		default:
			c.lineSubs[ch] = dropped + 1
		}
	}
}

func (c *Controller) warnDropped(dropped uint64) {
	if dropped > 0 {
		c.logger.Warnw("Line subscriber fell behind", "dropped", dropped)
	}
}

func (c *Controller) buildSnapshot() Snapshot {
	stats := *c.stats
	stats.CalculateRates()
	return Snapshot{
		BoardState: c.state.clone(),
		Stats:      stats,
		Log:        slices.Clone(c.log),
	}
}

func (c *Controller) publish() {
	snap := c.buildSnapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snap
	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
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

func reserve(r Reserver, port, owner string) (func(), error) {
	if r == nil {
		return func() {}, nil
	}
	release, err := r.Reserve(port, owner)
	if err != nil {
		return nil, err
	}
	return release, nil
}
