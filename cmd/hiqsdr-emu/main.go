package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rjboer/hiqsdr-emu/internal/capture"
	"github.com/rjboer/hiqsdr-emu/internal/emulator"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
	"github.com/rjboer/hiqsdr-emu/internal/mdns"
	"github.com/rjboer/hiqsdr-emu/internal/telemetry"
)

func main() {
	logger := logging.New(logging.Info, logging.Text, os.Stderr)

	defaults, err := loadDefaults(os.Args[1:], os.LookupEnv)
	if err != nil {
		logger.Error("load config", logging.F("err", err))
		os.Exit(1)
	}
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, defaults)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Error("parse config", logging.F("err", err))
		os.Exit(2)
	}
	logger, err = logging.NewFromStrings(cfg.logLevel, cfg.logFormat, os.Stderr)
	if err != nil {
		logging.New(logging.Info, logging.Text, os.Stderr).Error("configure logging", logging.F("err", err))
		os.Exit(2)
	}
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("emulator stopped", logging.F("err", err))
		os.Exit(1)
	}
	logger.Info("emulator shut down")
}

func run(ctx context.Context, cfg cliConfig, logger logging.Logger) error {
	emuCfg := cfg.emulatorConfig()
	if err := emuCfg.Validate(); err != nil {
		return err
	}

	source, err := capture.Open(ctx, cfg.capture,
		capture.RemoteConfig{User: cfg.sshUser, Password: cfg.sshPassword, KeyPath: cfg.sshKey},
		capture.SyntheticConfig{SampleRate: cfg.sampleRate, ToneOffset: cfg.toneOffset, Seed: cfg.lossSeed},
	)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	logger.Info("capture loaded",
		logging.F("location", captureName(cfg.capture)),
		logging.F("frames", source.Frames()),
	)

	reporters := telemetry.MultiReporter{telemetry.NewStdoutReporter(logger, cfg.progressEvery)}
	if cfg.webAddr != "" {
		hubCfg := telemetry.DefaultHubConfig()
		hubCfg.SampleRate = cfg.sampleRate
		hub := telemetry.NewHub(hubCfg, logger)
		reporters = append(reporters, hub)
		web := telemetry.NewWebServer(cfg.webAddr, hub, logger)
		go func() {
			if err := web.Start(ctx); err != nil {
				logger.Error("web telemetry failed", logging.F("err", err))
			}
		}()
	}

	srv, err := emulator.New(ctx, emuCfg, source, reporters, logger)
	if err != nil {
		source.Close()
		return err
	}
	defer srv.Close()

	if cfg.mdns {
		svc := mdns.Service{
			Instance:    cfg.instance,
			CommandPort: int(srv.CommandAddr().Port()),
			StreamPort:  int(srv.StreamAddr().Port()),
			SampleRate:  cfg.sampleRate,
		}
		go func() {
			if err := mdns.Advertise(ctx, svc); err != nil {
				logger.Warn("mdns advertisement failed", logging.F("err", err))
			}
		}()
	}

	return srv.Run(ctx)
}

func captureName(location string) string {
	if location == "" {
		return "synthetic"
	}
	return location
}

type cliConfig struct {
	configPath    string
	host          string
	commandPort   int
	streamPort    int
	refClock      float64
	sampleRate    float64
	lossProb      float64
	lossSeed      int64
	capture       string
	toneOffset    float64
	sshUser       string
	sshPassword   string
	sshKey        string
	fatalSend     bool
	sendBuffer    int
	webAddr       string
	mdns          bool
	instance      string
	progressEvery uint64
	logLevel      string
	logFormat     string
}

type persistentConfig struct {
	Host            string  `json:"host"`
	CommandPort     int     `json:"command_port"`
	StreamPort      int     `json:"stream_port"`
	ReferenceClock  float64 `json:"reference_clock"`
	SampleRate      float64 `json:"sample_rate"`
	LossProbability float64 `json:"loss_probability"`
	LossSeed        int64   `json:"loss_seed"`
	Capture         string  `json:"capture"`
	ToneOffset      float64 `json:"tone_offset"`
	SSHUser         string  `json:"ssh_user"`
	SSHKey          string  `json:"ssh_key"`
	FatalSendErrors bool    `json:"fatal_send_errors"`
	SendBuffer      int     `json:"send_buffer"`
	WebAddr         string  `json:"web_addr"`
	MDNS            bool    `json:"mdns"`
	Instance        string  `json:"instance"`
	ProgressEvery   uint64  `json:"progress_every"`
	LogLevel        string  `json:"log_level"`
	LogFormat       string  `json:"log_format"`
}

func defaultPersistentConfig() persistentConfig {
	d := emulator.DefaultConfig()
	return persistentConfig{
		Host:            d.Host,
		CommandPort:     d.CommandPort,
		StreamPort:      d.StreamPort,
		ReferenceClock:  d.ReferenceClock,
		SampleRate:      d.SampleRate,
		ToneOffset:      1000,
		FatalSendErrors: d.FatalSendErrors,
		Instance:        "HiQSDR emulator",
		ProgressEvery:   2000,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	fs := flag.NewFlagSet("hiqsdr-emu", flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", envString(lookup, "HIQSDR_CONFIG", ""), "Optional JSON config file supplying defaults")
	fs.StringVar(&cfg.host, "host", envString(lookup, "HIQSDR_HOST", defaults.Host), "Address both UDP sockets bind to")
	fs.IntVar(&cfg.commandPort, "command-port", envInt(lookup, "HIQSDR_COMMAND_PORT", defaults.CommandPort), "Command (control packet) UDP port")
	fs.IntVar(&cfg.streamPort, "stream-port", envInt(lookup, "HIQSDR_STREAM_PORT", defaults.StreamPort), "Sample stream UDP port")
	fs.Float64Var(&cfg.refClock, "ref-clock", envFloat(lookup, "HIQSDR_REF_CLOCK", defaults.ReferenceClock), "Reference clock in Hz used to decode control packets")
	fs.Float64Var(&cfg.sampleRate, "sample-rate", envFloat(lookup, "HIQSDR_SAMPLE_RATE", defaults.SampleRate), "Output sample rate in Hz; sets frame pacing")
	fs.Float64Var(&cfg.lossProb, "loss", envFloat(lookup, "HIQSDR_LOSS", defaults.LossProbability), "Probability in [0,1] of dropping each frame")
	fs.Int64Var(&cfg.lossSeed, "seed", envInt64(lookup, "HIQSDR_SEED", defaults.LossSeed), "Random seed for loss and synthetic noise (0 = time based)")
	fs.StringVar(&cfg.capture, "capture", envString(lookup, "HIQSDR_CAPTURE", defaults.Capture), "Capture file path or ssh://user@host[:port]/path; empty generates a test tone")
	fs.Float64Var(&cfg.toneOffset, "tone-offset", envFloat(lookup, "HIQSDR_TONE_OFFSET", defaults.ToneOffset), "Synthetic tone offset in Hz")
	fs.StringVar(&cfg.sshUser, "ssh-user", envString(lookup, "HIQSDR_SSH_USER", defaults.SSHUser), "SSH user when the capture URL names none")
	fs.StringVar(&cfg.sshPassword, "ssh-password", envString(lookup, "HIQSDR_SSH_PASSWORD", ""), "SSH password for remote captures")
	fs.StringVar(&cfg.sshKey, "ssh-key", envString(lookup, "HIQSDR_SSH_KEY", defaults.SSHKey), "SSH private key path for remote captures")
	fs.BoolVar(&cfg.fatalSend, "fatal-send-errors", envBool(lookup, "HIQSDR_FATAL_SEND_ERRORS", defaults.FatalSendErrors), "Stop the emulator on send errors other than a full buffer")
	fs.IntVar(&cfg.sendBuffer, "send-buffer", envInt(lookup, "HIQSDR_SEND_BUFFER", defaults.SendBuffer), "Stream socket send buffer in bytes (0 = OS default)")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "HIQSDR_WEB_ADDR", defaults.WebAddr), "Optional web telemetry listen address (e.g. :8080)")
	fs.BoolVar(&cfg.mdns, "mdns", envBool(lookup, "HIQSDR_MDNS", defaults.MDNS), "Advertise the emulator over mDNS")
	fs.StringVar(&cfg.instance, "instance", envString(lookup, "HIQSDR_INSTANCE", defaults.Instance), "mDNS instance name")
	fs.Uint64Var(&cfg.progressEvery, "progress-every", envUint64(lookup, "HIQSDR_PROGRESS_EVERY", defaults.ProgressEvery), "Log a progress line every N frames (0 = off)")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "HIQSDR_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "HIQSDR_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if fs.NArg() > 0 && cfg.capture == "" {
		cfg.capture = fs.Arg(0)
	}
	return cfg, nil
}

func (c cliConfig) emulatorConfig() emulator.Config {
	return emulator.Config{
		Host:            c.host,
		CommandPort:     c.commandPort,
		StreamPort:      c.streamPort,
		ReferenceClock:  c.refClock,
		SampleRate:      c.sampleRate,
		LossProbability: c.lossProb,
		LossSeed:        c.lossSeed,
		FatalSendErrors: c.fatalSend,
		SendBufferBytes: c.sendBuffer,
	}
}

// loadDefaults returns the built-in defaults overlaid with the JSON file
// named by --config or HIQSDR_CONFIG, if any.
func loadDefaults(args []string, lookup func(string) (string, bool)) (persistentConfig, error) {
	path := envString(lookup, "HIQSDR_CONFIG", "")
	if p, ok := configFlag(args); ok {
		path = p
	}
	if path == "" {
		return defaultPersistentConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return persistentConfig{}, err
	}
	defer f.Close()
	return decodeConfig(f)
}

func decodeConfig(r io.Reader) (persistentConfig, error) {
	cfg := defaultPersistentConfig()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return persistentConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// configFlag finds -config/--config in args without parsing the rest.
func configFlag(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v, true
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envInt64(lookup func(string) (string, bool), key string, def int64) int64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envUint64(lookup func(string) (string, bool), key string, def uint64) uint64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseUint(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
