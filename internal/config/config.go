package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Synth       SynthConfig      `yaml:"synth"`
	Theremin    ThereminConfig   `yaml:"theremin"`
	Keys        KeysConfig       `yaml:"keys"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SynthConfig controls the oscillator bank and the audio output backend.
type SynthConfig struct {
	SampleRate    int     `yaml:"sample_rate"`
	BlockFrames   int     `yaml:"block_frames"`
	DefaultVolume float64 `yaml:"default_volume"`
	Backend       string  `yaml:"backend"` // oto, null
	Normalize     bool    `yaml:"normalize"`
}

// ThereminConfig holds the continuous hand-to-sound mapping constants.
type ThereminConfig struct {
	Enabled     bool    `yaml:"enabled"`
	VolumeMax   float64 `yaml:"volume_max"`
	FreqMin     float64 `yaml:"freq_min"`
	FreqMax     float64 `yaml:"freq_max"`
	RatioThird  float64 `yaml:"ratio_third"`
	RatioFifth  float64 `yaml:"ratio_fifth"`
	RatioOctave float64 `yaml:"ratio_octave"`
}

// KeysConfig holds the discrete-pitch instrument settings, including the
// release-velocity formula constants.
type KeysConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MIDIMode        string `yaml:"midi_mode"` // rtmidi, mock
	MIDIPort        string `yaml:"midi_port"`
	Channel         int    `yaml:"channel"`
	DefaultProgram  int    `yaml:"default_program"`
	VelocityBase    int    `yaml:"velocity_base"`
	VelocitySlope   int    `yaml:"velocity_slope"`
	VelocityCeiling int    `yaml:"velocity_ceiling"`
	ScaleStepMS     int    `yaml:"scale_step_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "handsynth",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/handsynth-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Synth: SynthConfig{
			SampleRate:    44100,
			BlockFrames:   512,
			DefaultVolume: 0.3,
			Backend:       "oto",
			Normalize:     false,
		},
		Theremin: ThereminConfig{
			Enabled:     true,
			VolumeMax:   0.7,
			FreqMin:     200.0,
			FreqMax:     800.0,
			RatioThird:  1.26,
			RatioFifth:  1.50,
			RatioOctave: 2.00,
		},
		Keys: KeysConfig{
			Enabled:         false,
			MIDIMode:        "rtmidi",
			Channel:         0,
			DefaultProgram:  1,
			VelocityBase:    64,
			VelocitySlope:   30,
			VelocityCeiling: 127,
			ScaleStepMS:     500,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "HANDSYNTH_RUNTIME_NAME")
	overrideString(&cfg.Environment, "HANDSYNTH_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "HANDSYNTH_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "HANDSYNTH_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "HANDSYNTH_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "HANDSYNTH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "HANDSYNTH_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "HANDSYNTH_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "HANDSYNTH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "HANDSYNTH_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "HANDSYNTH_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "HANDSYNTH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "HANDSYNTH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "HANDSYNTH_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "HANDSYNTH_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "HANDSYNTH_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "HANDSYNTH_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "HANDSYNTH_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "HANDSYNTH_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "HANDSYNTH_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "HANDSYNTH_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Synth.SampleRate, "HANDSYNTH_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.BlockFrames, "HANDSYNTH_SYNTH_BLOCK_FRAMES")
	overrideFloat(&cfg.Synth.DefaultVolume, "HANDSYNTH_SYNTH_DEFAULT_VOLUME")
	overrideString(&cfg.Synth.Backend, "HANDSYNTH_SYNTH_BACKEND")
	overrideBool(&cfg.Synth.Normalize, "HANDSYNTH_SYNTH_NORMALIZE")
	overrideBool(&cfg.Theremin.Enabled, "HANDSYNTH_THEREMIN_ENABLED")
	overrideFloat(&cfg.Theremin.VolumeMax, "HANDSYNTH_THEREMIN_VOLUME_MAX")
	overrideFloat(&cfg.Theremin.FreqMin, "HANDSYNTH_THEREMIN_FREQ_MIN")
	overrideFloat(&cfg.Theremin.FreqMax, "HANDSYNTH_THEREMIN_FREQ_MAX")
	overrideBool(&cfg.Keys.Enabled, "HANDSYNTH_KEYS_ENABLED")
	overrideString(&cfg.Keys.MIDIMode, "HANDSYNTH_KEYS_MIDI_MODE")
	overrideString(&cfg.Keys.MIDIPort, "HANDSYNTH_KEYS_MIDI_PORT")
	overrideInt(&cfg.Keys.Channel, "HANDSYNTH_KEYS_CHANNEL")
	overrideInt(&cfg.Keys.DefaultProgram, "HANDSYNTH_KEYS_DEFAULT_PROGRAM")
	overrideInt(&cfg.Keys.VelocityBase, "HANDSYNTH_KEYS_VELOCITY_BASE")
	overrideInt(&cfg.Keys.VelocitySlope, "HANDSYNTH_KEYS_VELOCITY_SLOPE")
	overrideInt(&cfg.Keys.VelocityCeiling, "HANDSYNTH_KEYS_VELOCITY_CEILING")
	overrideInt(&cfg.Keys.ScaleStepMS, "HANDSYNTH_KEYS_SCALE_STEP_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Synth.BlockFrames <= 0 {
		return errors.New("synth.block_frames must be positive")
	}
	if cfg.Synth.DefaultVolume < 0 || cfg.Synth.DefaultVolume > 1 {
		return errors.New("synth.default_volume must be in [0, 1]")
	}
	switch cfg.Synth.Backend {
	case "oto", "null":
	default:
		return errors.New("synth.backend must be one of oto|null")
	}
	if cfg.Theremin.Enabled {
		if cfg.Theremin.VolumeMax <= 0 || cfg.Theremin.VolumeMax > 1 {
			return errors.New("theremin.volume_max must be in (0, 1]")
		}
		if cfg.Theremin.FreqMin <= 0 || cfg.Theremin.FreqMax <= cfg.Theremin.FreqMin {
			return errors.New("theremin.freq_max must be greater than freq_min, both positive")
		}
		if cfg.Theremin.RatioThird <= 1 || cfg.Theremin.RatioFifth <= 1 || cfg.Theremin.RatioOctave <= 1 {
			return errors.New("theremin chord ratios must be greater than 1")
		}
	}
	if cfg.Keys.Enabled {
		switch cfg.Keys.MIDIMode {
		case "rtmidi", "mock":
		default:
			return errors.New("keys.midi_mode must be one of rtmidi|mock")
		}
		if cfg.Keys.Channel < 0 || cfg.Keys.Channel > 15 {
			return errors.New("keys.channel must be between 0 and 15")
		}
		if cfg.Keys.VelocityBase < 0 || cfg.Keys.VelocityBase > 127 {
			return errors.New("keys.velocity_base must be between 0 and 127")
		}
		if cfg.Keys.VelocityCeiling < cfg.Keys.VelocityBase || cfg.Keys.VelocityCeiling > 127 {
			return errors.New("keys.velocity_ceiling must be between velocity_base and 127")
		}
		if cfg.Keys.VelocitySlope < 0 {
			return errors.New("keys.velocity_slope must be >= 0")
		}
		if cfg.Keys.ScaleStepMS <= 0 {
			return errors.New("keys.scale_step_ms must be positive")
		}
	}
	return nil
}
