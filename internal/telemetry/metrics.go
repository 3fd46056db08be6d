package telemetry

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	commands   *prometheus.CounterVec
	directives *prometheus.CounterVec
	frames     *prometheus.CounterVec
	streaming  prometheus.Gauge
	rxFreq     prometheus.Gauge
	sampleRate prometheus.Gauge
	power      prometheus.Gauge
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hiqsdr_commands_total",
			Help: "Control packets received on the command port.",
		}, []string{"result"}),
		directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hiqsdr_directives_total",
			Help: "Datagrams received on the stream port, by directive.",
		}, []string{"directive"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hiqsdr_frames_total",
			Help: "Sample frames handled by the streaming engine, by outcome.",
		}, []string{"outcome"}),
		streaming: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hiqsdr_streaming",
			Help: "1 while a client has requested samples.",
		}),
		rxFreq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hiqsdr_rx_frequency_hz",
			Help: "Receive frequency from the last decoded control packet.",
		}),
		sampleRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hiqsdr_requested_sample_rate_hz",
			Help: "Sample rate requested by the last decoded control packet.",
		}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hiqsdr_frame_power_dbfs",
			Help: "Mean power of the last analysed frame.",
		}),
	}
	registry.MustRegister(m.commands, m.directives, m.frames, m.streaming, m.rxFreq, m.sampleRate, m.power)
	return m
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
