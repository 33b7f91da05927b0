package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pantilt-tracker/internal/executor"
	"pantilt-tracker/internal/link"
	"pantilt-tracker/internal/tracking"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PANTILT_"

// Config is the complete tracker configuration
type Config struct {
	Link     LinkConfig     `yaml:"link"`
	Tracking TrackingConfig `yaml:"tracking"`
	Server   ServerConfig   `yaml:"server"`
	Remote   RemoteConfig   `yaml:"remote"`
	Log      LogConfig      `yaml:"log"`
}

// LinkConfig locates the XBee radio and its peer
type LinkConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baudRate"`
	Destination int           `yaml:"destination"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TrackingConfig controls capture, detection and centering
type TrackingConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Camera       string        `yaml:"camera"`
	Cascade      string        `yaml:"cascade"`
	Step         int           `yaml:"step"`
	Priority     string        `yaml:"priority"`
	DispatchMode string        `yaml:"dispatchMode"`
	Pause        time.Duration `yaml:"pause"`
	// Active starts with actuation on; otherwise the console enables it.
	Active bool `yaml:"active"`
}

// ServerConfig holds operator console settings
type ServerConfig struct {
	Listen     string   `yaml:"listen"`
	AuthSecret string   `yaml:"authSecret"`
	PreviewURL string   `yaml:"previewUrl"`
	ICEServers []string `yaml:"iceServers"`
	// OperatorStep is the initial console slider value.
	OperatorStep int `yaml:"operatorStep"`
}

// RemoteConfig holds the valkey command bus settings. Empty Address
// disables the bus.
type RemoteConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			Port:        "/dev/ttyUSB0",
			BaudRate:    9600,
			Destination: int(link.DefaultAddress),
			Timeout:     5 * time.Second,
		},
		Tracking: TrackingConfig{
			Enabled:      true,
			Camera:       "0",
			Cascade:      "haarcascade_frontalface_default.xml",
			Step:         tracking.DefaultStep,
			Priority:     string(tracking.PriorityPan),
			DispatchMode: string(tracking.ModeSupersede),
		},
		Server: ServerConfig{
			Listen:       ":8080",
			OperatorStep: 10,
		},
		Remote: RemoteConfig{
			Prefix: "pantilt",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any), the .env file at envFile (if present) and the environment. It does
// not validate; callers apply flags first and then call Validate.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides cfg from PANTILT_* variables. Malformed values are
// errors rather than silently ignored.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setString("PORT", &cfg.Link.Port)
	e.setInt("BAUD_RATE", &cfg.Link.BaudRate)
	e.setInt("DESTINATION", &cfg.Link.Destination)
	e.setDuration("TIMEOUT", &cfg.Link.Timeout)

	e.setBool("TRACKING", &cfg.Tracking.Enabled)
	e.setBool("TRACKING_ACTIVE", &cfg.Tracking.Active)
	e.setString("CAMERA", &cfg.Tracking.Camera)
	e.setString("CASCADE", &cfg.Tracking.Cascade)
	e.setInt("STEP", &cfg.Tracking.Step)
	e.setString("PRIORITY", &cfg.Tracking.Priority)
	e.setString("DISPATCH_MODE", &cfg.Tracking.DispatchMode)
	e.setDuration("PAUSE", &cfg.Tracking.Pause)

	e.setString("LISTEN", &cfg.Server.Listen)
	e.setString("AUTH_SECRET", &cfg.Server.AuthSecret)
	e.setString("PREVIEW_URL", &cfg.Server.PreviewURL)
	e.setList("ICE_SERVERS", &cfg.Server.ICEServers)
	e.setInt("OPERATOR_STEP", &cfg.Server.OperatorStep)

	e.setString("VALKEY_ADDR", &cfg.Remote.Address)
	e.setString("VALKEY_PASSWORD", &cfg.Remote.Password)
	e.setString("VALKEY_PREFIX", &cfg.Remote.Prefix)

	e.setString("LOG_LEVEL", &cfg.Log.Level)
	e.setString("LOG_FILE", &cfg.Log.File)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, v, err))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = int(n)
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) setList(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		*dst = splitList(v)
	}
}

// Validate checks the configuration as a whole
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.ExecutorSettings(); err != nil {
		errs = append(errs, err)
	}
	if c.Link.Destination < 0 || c.Link.Destination > 0xFFFF {
		errs = append(errs, fmt.Errorf("destination %#x is not a 16-bit address", c.Link.Destination))
	}
	if c.Tracking.Step < 1 || c.Tracking.Step > tracking.MaxStep {
		errs = append(errs, fmt.Errorf("tracking step %d out of range 1-%d", c.Tracking.Step, tracking.MaxStep))
	}
	if c.Server.OperatorStep < 1 || c.Server.OperatorStep > tracking.MaxStep {
		errs = append(errs, fmt.Errorf("operator step %d out of range 1-%d", c.Server.OperatorStep, tracking.MaxStep))
	}
	if _, err := tracking.ParsePriority(c.Tracking.Priority); err != nil {
		errs = append(errs, err)
	}
	if _, err := tracking.ParseDispatchMode(c.Tracking.DispatchMode); err != nil {
		errs = append(errs, err)
	}
	if c.Tracking.Pause < 0 {
		errs = append(errs, fmt.Errorf("pause must not be negative, got %v", c.Tracking.Pause))
	}
	if c.Tracking.Enabled && c.Tracking.Camera == "" {
		errs = append(errs, errors.New("tracking camera is required"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if !slices.Contains([]string{"panic", "fatal", "error", "warn", "warning", "info", "debug", "trace", "off", "none"}, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// ExecutorSettings converts the link section.
func (c *Config) ExecutorSettings() (executor.Settings, error) {
	s := executor.Settings{
		Port:        c.Link.Port,
		BaudRate:    c.Link.BaudRate,
		Destination: link.Address(c.Link.Destination),
		Timeout:     c.Link.Timeout,
	}
	return s, s.Validate()
}
