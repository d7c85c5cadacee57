package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	LogLevel string         `yaml:"log_level"`
	Match    MatchConfig    `yaml:"match"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Capture  CaptureConfig  `yaml:"capture"`
	Worker   WorkerConfig   `yaml:"worker"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Rollover RolloverConfig `yaml:"rollover"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Archive  ArchiveConfig  `yaml:"archive"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Status   StatusConfig   `yaml:"status"`
}

type MatchConfig struct {
	DistanceThreshold float64 `yaml:"distance_threshold"`
	Metric            string  `yaml:"metric"`          // euclidean or cosine
	Strategy          string  `yaml:"strategy"`        // nearest or vote
	IdentitiesFile    string  `yaml:"identities_file"` // optional YAML identity list, used instead of the database
}

type TrackerConfig struct {
	DisplayThreshold     int `yaml:"display_threshold"`
	ActionThreshold      int `yaml:"action_threshold"`
	TimeoutFrames        int `yaml:"timeout_frames"`
	LocationQuantization int `yaml:"location_quantization"`
	LocationTolerance    int `yaml:"location_tolerance"`
	DecayStep            int `yaml:"decay_step"`
}

type CaptureConfig struct {
	Input       string `yaml:"input"` // device path, file or stream URL handed to ffmpeg
	FrameStride int    `yaml:"frame_stride"`
	Timezone    string `yaml:"timezone"` // IANA name; empty means the host's local zone
	PreviewPath string `yaml:"preview_path"`
}

type WorkerConfig struct {
	Python      string        `yaml:"python"`
	Script      string        `yaml:"script"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type DispatchConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxRetries     int           `yaml:"max_retries"`
}

type RolloverConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	Timeout       time.Duration `yaml:"timeout"`
}

type LedgerConfig struct {
	Backend    string `yaml:"backend"` // file, postgres or memory
	Path       string `yaml:"path"`
	SectionGap int    `yaml:"section_gap"`
}

type ArchiveConfig struct {
	Root    string `yaml:"root"`
	Quality int    `yaml:"quality"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker"` // empty disables the notifier
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Match: MatchConfig{
			DistanceThreshold: 0.40,
			Metric:            "euclidean",
			Strategy:          "nearest",
		},
		Tracker: TrackerConfig{
			DisplayThreshold:     3,
			ActionThreshold:      8,
			TimeoutFrames:        15,
			LocationQuantization: 10,
			LocationTolerance:    20,
			DecayStep:            2,
		},
		Capture: CaptureConfig{
			Input:       "/dev/video0",
			FrameStride: 3,
		},
		Worker: WorkerConfig{
			Python:      "python3",
			Script:      "python/worker.py",
			ReadTimeout: 30 * time.Second,
		},
		Dispatch: DispatchConfig{
			Workers:        2,
			QueueSize:      16,
			AttemptTimeout: 10 * time.Second,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			MaxRetries:     5,
		},
		Rollover: RolloverConfig{
			CheckInterval: 30 * time.Second,
			Timeout:       15 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend:    "file",
			Path:       "/data/attendance.csv",
			SectionGap: 2,
		},
		Archive: ArchiveConfig{
			Root:    "/data/photos",
			Quality: 90,
		},
		MQTT: MQTTConfig{
			Topic:          "rollcall/presence",
			ClientID:       "rollcall",
			PublishTimeout: 5 * time.Second,
		},
	}
}

// Load builds a configuration from the defaults, the optional YAML file at path and
// ROLLCALL_* environment variables, in that order. The result is not validated so
// callers can apply flag overrides first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = envString("ROLLCALL_LOG_LEVEL", c.LogLevel)

	c.Match.DistanceThreshold = envFloat("ROLLCALL_DISTANCE_THRESHOLD", c.Match.DistanceThreshold)
	c.Match.Metric = envString("ROLLCALL_MATCH_METRIC", c.Match.Metric)
	c.Match.Strategy = envString("ROLLCALL_MATCH_STRATEGY", c.Match.Strategy)
	c.Match.IdentitiesFile = envString("ROLLCALL_IDENTITIES_FILE", c.Match.IdentitiesFile)

	c.Tracker.DisplayThreshold = envInt("ROLLCALL_DISPLAY_THRESHOLD", c.Tracker.DisplayThreshold)
	c.Tracker.ActionThreshold = envInt("ROLLCALL_ACTION_THRESHOLD", c.Tracker.ActionThreshold)
	c.Tracker.TimeoutFrames = envInt("ROLLCALL_TIMEOUT_FRAMES", c.Tracker.TimeoutFrames)
	c.Tracker.LocationQuantization = envInt("ROLLCALL_LOCATION_QUANTIZATION", c.Tracker.LocationQuantization)
	c.Tracker.LocationTolerance = envInt("ROLLCALL_LOCATION_TOLERANCE", c.Tracker.LocationTolerance)
	c.Tracker.DecayStep = envInt("ROLLCALL_DECAY_STEP", c.Tracker.DecayStep)

	c.Capture.Input = envString("ROLLCALL_INPUT", c.Capture.Input)
	c.Capture.FrameStride = envInt("ROLLCALL_FRAME_STRIDE", c.Capture.FrameStride)
	c.Capture.Timezone = envString("ROLLCALL_TIMEZONE", c.Capture.Timezone)
	c.Capture.PreviewPath = envString("ROLLCALL_PREVIEW_PATH", c.Capture.PreviewPath)

	c.Worker.Python = envString("ROLLCALL_WORKER_PYTHON", c.Worker.Python)
	c.Worker.Script = envString("ROLLCALL_WORKER_SCRIPT", c.Worker.Script)
	c.Worker.ReadTimeout = envDuration("ROLLCALL_WORKER_TIMEOUT", c.Worker.ReadTimeout)

	c.Dispatch.Workers = envInt("ROLLCALL_DISPATCH_WORKERS", c.Dispatch.Workers)
	c.Dispatch.QueueSize = envInt("ROLLCALL_DISPATCH_QUEUE", c.Dispatch.QueueSize)
	c.Dispatch.MaxRetries = envInt("ROLLCALL_DISPATCH_RETRIES", c.Dispatch.MaxRetries)

	c.Rollover.CheckInterval = envDuration("ROLLCALL_ROLLOVER_INTERVAL", c.Rollover.CheckInterval)

	c.Ledger.Backend = envString("ROLLCALL_LEDGER", c.Ledger.Backend)
	c.Ledger.Path = envString("ROLLCALL_LEDGER_PATH", c.Ledger.Path)
	c.Ledger.SectionGap = envInt("ROLLCALL_SECTION_GAP", c.Ledger.SectionGap)

	c.Archive.Root = envString("ROLLCALL_ARCHIVE_ROOT", c.Archive.Root)

	c.MQTT.Broker = envString("ROLLCALL_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = envString("ROLLCALL_MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.Username = envString("ROLLCALL_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = envString("ROLLCALL_MQTT_PASSWORD", c.MQTT.Password)

	c.Status.Addr = envString("ROLLCALL_STATUS_ADDR", c.Status.Addr)
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	if c.Match.DistanceThreshold <= 0 {
		return invalid("distance_threshold must be positive, got %v", c.Match.DistanceThreshold)
	}
	switch c.Match.Metric {
	case "euclidean", "cosine":
	default:
		return invalid("unknown match metric %q", c.Match.Metric)
	}
	switch c.Match.Strategy {
	case "nearest", "vote":
	default:
		return invalid("unknown match strategy %q", c.Match.Strategy)
	}

	t := c.Tracker
	if t.DisplayThreshold < 1 {
		return invalid("display_threshold must be at least 1, got %d", t.DisplayThreshold)
	}
	if t.ActionThreshold < 1 {
		return invalid("action_threshold must be at least 1, got %d", t.ActionThreshold)
	}
	if t.TimeoutFrames < 1 {
		return invalid("timeout_frames must be at least 1, got %d", t.TimeoutFrames)
	}
	if t.LocationQuantization < 1 {
		return invalid("location_quantization must be at least 1, got %d", t.LocationQuantization)
	}
	if t.LocationTolerance < 0 {
		return invalid("location_tolerance must not be negative, got %d", t.LocationTolerance)
	}
	if t.DecayStep < 1 {
		return invalid("decay_step must be at least 1, got %d", t.DecayStep)
	}

	if c.Capture.FrameStride < 1 {
		return invalid("frame_stride must be at least 1, got %d", c.Capture.FrameStride)
	}
	if _, err := c.Location(); err != nil {
		return invalid("timezone %q: %v", c.Capture.Timezone, err)
	}

	d := c.Dispatch
	if d.Workers < 1 || d.QueueSize < 1 {
		return invalid("dispatch workers and queue_size must be at least 1")
	}
	if d.MaxRetries < 0 {
		return invalid("dispatch max_retries must not be negative, got %d", d.MaxRetries)
	}
	if d.AttemptTimeout <= 0 || d.InitialBackoff <= 0 || d.MaxBackoff < d.InitialBackoff {
		return invalid("dispatch timeouts must be positive and max_backoff >= initial_backoff")
	}

	if c.Rollover.CheckInterval <= 0 || c.Rollover.Timeout <= 0 {
		return invalid("rollover check_interval and timeout must be positive")
	}

	switch c.Ledger.Backend {
	case "file":
		if c.Ledger.Path == "" {
			return invalid("ledger path is required for the file backend")
		}
	case "postgres", "memory":
	default:
		return invalid("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Ledger.SectionGap < 0 {
		return invalid("section_gap must not be negative, got %d", c.Ledger.SectionGap)
	}

	if c.Archive.Root == "" {
		return invalid("archive root is required")
	}
	if c.Archive.Quality < 1 || c.Archive.Quality > 100 {
		return invalid("archive quality must be within 1..100, got %d", c.Archive.Quality)
	}

	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return invalid("mqtt topic is required when a broker is set")
	}
	return nil
}

// Location resolves the capture timezone used for calendar days.
func (c *Config) Location() (*time.Location, error) {
	if c.Capture.Timezone == "" || c.Capture.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Capture.Timezone)
}

// envInt reads an environment variable and parses it as an integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return defaultVal
}
