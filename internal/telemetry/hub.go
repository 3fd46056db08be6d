package telemetry

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rjboer/hiqsdr-emu/internal/dsp"
	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
)

// HubConfig controls how often the hub analyses outgoing frames.
type HubConfig struct {
	// SpectrumInterval is the minimum gap between analysed frames. Zero
	// analyses every frame.
	SpectrumInterval time.Duration
	// SampleRate converts spectrum bins to Hz offsets.
	SampleRate float64
	// SubscriberBuffer is the per-subscriber live event queue length.
	SubscriberBuffer int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		SpectrumInterval: 250 * time.Millisecond,
		SampleRate:       hiqsdr.DefaultSampleRate,
		SubscriberBuffer: 32,
	}
}

// Counters are cumulative event counts.
type Counters struct {
	Commands           uint64 `json:"commands"`
	MalformedCommands  uint64 `json:"malformedCommands"`
	Directives         uint64 `json:"directives"`
	UnknownDirectives  uint64 `json:"unknownDirectives"`
	FramesSent         uint64 `json:"framesSent"`
	FramesDropped      uint64 `json:"framesDropped"`
	FramesBackpressure uint64 `json:"framesBackpressure"`
	SendErrors         uint64 `json:"sendErrors"`
}

// ControlSummary is the JSON view of the last decoded control packet.
type ControlSummary struct {
	Time          time.Time `json:"time"`
	Peer          string    `json:"peer"`
	RXFrequencyHz float64   `json:"rxFrequencyHz"`
	TXFrequencyHz float64   `json:"txFrequencyHz"`
	SampleRateHz  float64   `json:"sampleRateHz,omitempty"`
	RateCode      uint8     `json:"rateCode"`
	TXLevel       uint8     `json:"txLevel"`
	TXControl     uint8     `json:"txControl"`
	Firmware      uint8     `json:"firmware"`
	Preselector   uint8     `json:"preselector"`
	Attenuator    uint8     `json:"attenuator"`
	Antenna       uint8     `json:"antenna"`
}

// SpectrumSnapshot is the analysis of the most recently sampled frame.
type SpectrumSnapshot struct {
	Timestamp    time.Time      `json:"timestamp"`
	Sequence     uint8          `json:"sequence"`
	Bins         []float64      `json:"bins"`
	PeakOffsetHz float64        `json:"peakOffsetHz"`
	PeakDBFS     float64        `json:"peakDbfs"`
	Levels       dsp.LevelStats `json:"levels"`
}

// Status is the payload of /api/status.
type Status struct {
	StartedAt     time.Time       `json:"startedAt"`
	UptimeSeconds float64         `json:"uptimeSeconds"`
	Streaming     bool            `json:"streaming"`
	Requester     string          `json:"requester,omitempty"`
	Counters      Counters        `json:"counters"`
	LastControl   *ControlSummary `json:"lastControl,omitempty"`
	LastMalformed string          `json:"lastMalformed,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

// LiveEvent is pushed to websocket subscribers. Sent frames are not
// forwarded one by one; subscribers get "spectrum" updates instead.
type LiveEvent struct {
	Kind      string            `json:"kind"`
	Time      time.Time         `json:"time"`
	Peer      string            `json:"peer,omitempty"`
	Streaming bool              `json:"streaming"`
	Detail    string            `json:"detail,omitempty"`
	Control   *ControlSummary   `json:"control,omitempty"`
	Spectrum  *SpectrumSnapshot `json:"spectrum,omitempty"`
}

// Hub aggregates emulator events for the HTTP endpoints and prometheus.
type Hub struct {
	mu            sync.RWMutex
	cfg           HubConfig
	started       time.Time
	counters      Counters
	streaming     bool
	requester     string
	lastControl   *ControlSummary
	lastMalformed string
	lastError     string
	spectrum      SpectrumSnapshot
	lastAnalysis  time.Time
	analyzer      *dsp.Analyzer
	subscribers   map[chan LiveEvent]struct{}

	registry *prometheus.Registry
	metrics  *metrics
	logger   logging.Logger
}

func NewHub(cfg HubConfig, logger logging.Logger) *Hub {
	def := DefaultHubConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if cfg.SpectrumInterval < 0 {
		cfg.SpectrumInterval = 0
	}
	if logger == nil {
		logger = logging.Default()
	}
	registry := prometheus.NewRegistry()
	return &Hub{
		cfg:         cfg,
		started:     time.Now(),
		analyzer:    dsp.NewAnalyzer(hiqsdr.SamplesPerFrame),
		subscribers: make(map[chan LiveEvent]struct{}),
		registry:    registry,
		metrics:     newMetrics(registry),
		logger:      logging.Subsystem(logger, "telemetry"),
	}
}

// Registry exposes the hub's prometheus collectors.
func (h *Hub) Registry() *prometheus.Registry { return h.registry }

// Report implements Reporter.
func (h *Hub) Report(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	live := LiveEvent{Kind: string(ev.Kind), Time: ev.Time, Streaming: ev.Streaming}
	if ev.Peer.IsValid() {
		live.Peer = ev.Peer.String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Kind {
	case EventCommand:
		h.counters.Commands++
		switch c := ev.Control.(type) {
		case hiqsdr.DecodedControl:
			h.metrics.commands.WithLabelValues("decoded").Inc()
			h.lastControl = summarize(ev, c)
			h.metrics.rxFreq.Set(c.RXFrequency)
			if c.SampleRateOK {
				h.metrics.sampleRate.Set(c.SampleRate)
			}
			live.Control = h.lastControl
		case hiqsdr.MalformedControl:
			h.counters.MalformedCommands++
			h.metrics.commands.WithLabelValues("malformed").Inc()
			h.lastMalformed = c.Reason
			live.Detail = c.Reason
		}
	case EventDirective:
		h.counters.Directives++
		if ev.Directive == hiqsdr.DirectiveUnknown {
			h.counters.UnknownDirectives++
		}
		h.metrics.directives.WithLabelValues(ev.Directive.String()).Inc()
		h.streaming = ev.Streaming
		h.metrics.streaming.Set(boolGauge(ev.Streaming))
		if ev.Directive == hiqsdr.DirectiveStart {
			h.requester = live.Peer
		}
		live.Detail = ev.Directive.String()
	case EventFrameSent:
		h.counters.FramesSent++
		h.metrics.frames.WithLabelValues("sent").Inc()
		snap, ok := h.analyze(ev)
		if !ok {
			return
		}
		live.Kind = "spectrum"
		live.Spectrum = &snap
	case EventFrameDropped:
		h.counters.FramesDropped++
		h.metrics.frames.WithLabelValues("dropped").Inc()
		return
	case EventFrameSkipped:
		h.counters.FramesBackpressure++
		h.metrics.frames.WithLabelValues("backpressure").Inc()
		return
	case EventSendError:
		h.counters.SendErrors++
		h.metrics.frames.WithLabelValues("error").Inc()
		if ev.Err != nil {
			h.lastError = ev.Err.Error()
			live.Detail = h.lastError
		}
	}
	h.broadcast(live)
}

// analyze refreshes the spectrum snapshot when the throttle interval has
// passed. Callers hold h.mu.
func (h *Hub) analyze(ev Event) (SpectrumSnapshot, bool) {
	if !h.lastAnalysis.IsZero() && ev.Time.Sub(h.lastAnalysis) < h.cfg.SpectrumInterval {
		return SpectrumSnapshot{}, false
	}
	frame := hiqsdr.Frame(ev.Frame)
	iq, err := frame.IQ()
	if err != nil {
		h.logger.Debug("frame not analysed", logging.F("err", err))
		return SpectrumSnapshot{}, false
	}
	bins := h.analyzer.Spectrum(iq)
	peakBin, peak := dsp.PeakBin(bins)
	levels := dsp.Levels(iq)
	h.lastAnalysis = ev.Time
	h.spectrum = SpectrumSnapshot{
		Timestamp:    ev.Time,
		Sequence:     frame.Sequence(),
		Bins:         bins,
		PeakOffsetHz: dsp.BinFrequency(peakBin, len(bins), h.cfg.SampleRate),
		PeakDBFS:     peak,
		Levels:       levels,
	}
	if !math.IsInf(levels.MeanPowerDBFS, 0) {
		h.metrics.power.Set(levels.MeanPowerDBFS)
	}
	return h.spectrum.clone(), true
}

func (h *Hub) broadcast(ev LiveEvent) {
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Status returns a consistent snapshot for /api/status.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Status{
		StartedAt:     h.started,
		UptimeSeconds: time.Since(h.started).Seconds(),
		Streaming:     h.streaming,
		Requester:     h.requester,
		Counters:      h.counters,
		LastMalformed: h.lastMalformed,
		LastError:     h.lastError,
	}
	if h.lastControl != nil {
		c := *h.lastControl
		st.LastControl = &c
	}
	return st
}

// Spectrum returns the latest analysed frame. Bins is empty until the first
// frame has been sent.
func (h *Hub) Spectrum() SpectrumSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.spectrum.clone()
}

// Subscribe registers a listener for live events.
func (h *Hub) Subscribe() (chan LiveEvent, func()) {
	ch := make(chan LiveEvent, h.cfg.SubscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.Status())
}

func (h *Hub) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.Spectrum())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func summarize(ev Event, c hiqsdr.DecodedControl) *ControlSummary {
	s := &ControlSummary{
		Time:          ev.Time,
		RXFrequencyHz: c.RXFrequency,
		TXFrequencyHz: c.TXFrequency,
		RateCode:      c.RateCode,
		TXLevel:       c.TXLevel,
		TXControl:     c.TXControl,
		Firmware:      c.Firmware,
		Preselector:   c.Preselector,
		Attenuator:    c.Attenuator,
		Antenna:       c.Antenna,
	}
	if ev.Peer.IsValid() {
		s.Peer = ev.Peer.String()
	}
	if c.SampleRateOK {
		s.SampleRateHz = c.SampleRate
	}
	return s
}

// silenceDBFS stands in for -Inf, which JSON cannot carry.
const silenceDBFS = -300

// clone copies the bins and clamps -Inf levels to silenceDBFS.
func (s SpectrumSnapshot) clone() SpectrumSnapshot {
	bins := make([]float64, len(s.Bins))
	for i, v := range s.Bins {
		bins[i] = finite(v)
	}
	s.Bins = bins
	s.PeakDBFS = finite(s.PeakDBFS)
	s.Levels.MeanPowerDBFS = finite(s.Levels.MeanPowerDBFS)
	s.Levels.PeakPowerDBFS = finite(s.Levels.PeakPowerDBFS)
	return s
}

func finite(db float64) float64 {
	if math.IsInf(db, -1) || db < silenceDBFS {
		return silenceDBFS
	}
	return db
}
