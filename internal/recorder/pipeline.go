package recorder

import (
	"github.com/dgnsrekt/traffic_agent/internal/capture"
	"github.com/dgnsrekt/traffic_agent/internal/filter"
	"github.com/dgnsrekt/traffic_agent/internal/storage"
	"github.com/dgnsrekt/traffic_agent/internal/types"
)

// Pipeline wires one monitor + correlator + coordinator chain for a
// single recording session. Sharing a pipeline between two
// concurrently active sessions is unsafe; build one per session.
type Pipeline struct {
	bus         capture.EventBus
	monitor     *capture.Monitor
	wsMonitor   *capture.WebSocketMonitor
	coordinator *Coordinator
}

func NewPipeline(bus capture.EventBus, sender capture.CommandSender, store storage.Store, maxBodyBytes int) *Pipeline {
	coordinator := NewCoordinator(store)
	correlator := capture.NewCorrelator(coordinator)
	monitor := capture.NewMonitor(bus, sender, correlator, maxBodyBytes)
	return &Pipeline{bus: bus, monitor: monitor, coordinator: coordinator}
}

// EnableWebSocketCapture adds WebSocket frame capture to the pipeline.
// Call before Start.
func (p *Pipeline) EnableWebSocketCapture(frames capture.FrameStore, maxFrameBytes int) {
	p.wsMonitor = capture.NewWebSocketMonitor(p.bus, frames, p.coordinator.SessionID, maxFrameBytes)
}

// SetRecordObserver attaches a live observer for finalized records.
func (p *Pipeline) SetRecordObserver(o RecordObserver) {
	p.coordinator.SetObserver(o)
}

// SetFrameObserver attaches a live observer for WebSocket events.
// No-op unless WebSocket capture is enabled.
func (p *Pipeline) SetFrameObserver(o capture.FrameObserver) {
	if p.wsMonitor != nil {
		p.wsMonitor.SetObserver(o)
	}
}

// Start registers the network event subscriptions. Call before the
// Network domain is enabled.
func (p *Pipeline) Start() {
	p.monitor.Start()
	if p.wsMonitor != nil {
		p.wsMonitor.Start()
	}
}

func (p *Pipeline) Stop() {
	p.monitor.Stop()
	if p.wsMonitor != nil {
		p.wsMonitor.Stop()
	}
}

// ActiveWebSockets reports open tracked sockets, zero when WebSocket
// capture is disabled.
func (p *Pipeline) ActiveWebSockets() int {
	if p.wsMonitor == nil {
		return 0
	}
	return p.wsMonitor.ActiveConnections()
}

// StartSession resets in-flight state and activates the session.
func (p *Pipeline) StartSession(sessionID string, cfg *filter.Config) {
	p.monitor.Clear()
	p.coordinator.SetSession(sessionID, cfg)
}

// StopSession deactivates the session and drops all in-flight state.
func (p *Pipeline) StopSession() {
	p.monitor.Clear()
	p.coordinator.Clear()
}

func (p *Pipeline) ActiveSession() string {
	return p.coordinator.SessionID()
}

func (p *Pipeline) Filters() filter.Config {
	return p.coordinator.Filters()
}

func (p *Pipeline) SetFilters(cfg filter.Config) {
	p.coordinator.SetFilters(cfg)
}

// InFlight returns a snapshot of every tracked network exchange.
func (p *Pipeline) InFlight() []*types.InFlightRequest {
	return p.monitor.GetAllRequests()
}

// Coordinator exposes the coordinator for direct entry point access.
func (p *Pipeline) Coordinator() *Coordinator {
	return p.coordinator
}

// Monitor exposes the monitor for direct arena access.
func (p *Pipeline) Monitor() *capture.Monitor {
	return p.monitor
}
