package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/botgate/internal/logger"
	"github.com/loykin/botgate/internal/process"
)

// ErrConfig is the sentinel wrapped by every configuration failure; the CLI
// maps it to exit code 1.
var ErrConfig = errors.New("invalid configuration")

// MissingFieldError reports a required variable that is absent or failed
// validation.
type MissingFieldError struct {
	Field  string
	Reason string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("configuration field %s: %s", e.Field, e.Reason)
}

func (e *MissingFieldError) Unwrap() error { return ErrConfig }

// Config is the resolved gateway configuration. It is constructed once by
// Load and passed by reference to every component; nothing reads ambient
// environment afterwards.
type Config struct {
	APIID          int
	APIHash        string
	HTTPIPAddress  string
	HTTPPort       int
	DataDir        string
	LogPath        string
	TelegramAPIURL string

	ControlListen         string
	ProbeURL              string
	ProbeInterval         time.Duration
	ProbeFailureThreshold int

	BackoffBase     time.Duration
	BackoffMax      time.Duration
	MaxRestarts     int
	StabilityWindow time.Duration
	StopGrace       time.Duration

	HistoryDSN      string
	FrontendCommand []string
	WorkerCommand   []string

	// Extra processes from the optional TOML file.
	Processes []process.Spec
}

// FileConfig is the top-level TOML structure of the optional config file.
type FileConfig struct {
	Processes []ProcConfig `toml:"processes" mapstructure:"processes"`
}

type ProcConfig struct {
	Name      string            `toml:"name" mapstructure:"name"`
	Command   []string          `toml:"command" mapstructure:"command"`
	Env       map[string]string `toml:"env" mapstructure:"env"`
	WorkDir   string            `toml:"workdir" mapstructure:"workdir"`
	Policy    string            `toml:"policy" mapstructure:"policy"`
	DependsOn []string          `toml:"depends_on" mapstructure:"depends_on"`
	Log       *logger.Config    `toml:"log" mapstructure:"log"`
}

// Load resolves configuration from environment variables (pure read) and,
// when path is non-empty, merges extra managed processes from a TOML file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		HTTPIPAddress:         v.GetString("HTTP_IP_ADDRESS"),
		HTTPPort:              v.GetInt("HTTP_PORT"),
		DataDir:               v.GetString("DATA_DIR"),
		LogPath:               v.GetString("LOG_PATH"),
		TelegramAPIURL:        v.GetString("TELEGRAM_API_URL"),
		ControlListen:         v.GetString("CONTROL_LISTEN"),
		ProbeURL:              v.GetString("PROBE_URL"),
		ProbeInterval:         v.GetDuration("PROBE_INTERVAL"),
		ProbeFailureThreshold: v.GetInt("PROBE_FAILURE_THRESHOLD"),
		BackoffBase:           v.GetDuration("BACKOFF_BASE"),
		BackoffMax:            v.GetDuration("BACKOFF_MAX"),
		MaxRestarts:           v.GetInt("MAX_RESTARTS"),
		StabilityWindow:       v.GetDuration("STABILITY_WINDOW"),
		StopGrace:             v.GetDuration("STOP_GRACE"),
		HistoryDSN:            v.GetString("HISTORY_DSN"),
		FrontendCommand:       strings.Fields(v.GetString("FRONTEND_COMMAND")),
		WorkerCommand:         strings.Fields(v.GetString("WORKER_COMMAND")),
	}

	rawID := strings.TrimSpace(v.GetString("API_ID"))
	if rawID == "" {
		return nil, &MissingFieldError{Field: "API_ID", Reason: "required"}
	}
	id := v.GetInt("API_ID")
	if id <= 0 {
		return nil, &MissingFieldError{Field: "API_ID", Reason: "must be a positive integer"}
	}
	cfg.APIID = id

	cfg.APIHash = strings.TrimSpace(v.GetString("API_HASH"))
	if cfg.APIHash == "" {
		return nil, &MissingFieldError{Field: "API_HASH", Reason: "required"}
	}

	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.TelegramAPIURL
	}
	if cfg.ProbeFailureThreshold <= 0 {
		return nil, &MissingFieldError{Field: "PROBE_FAILURE_THRESHOLD", Reason: "must be positive"}
	}

	if path != "" {
		specs, err := loadSpecsFromTOML(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		cfg.Processes = specs
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_IP_ADDRESS", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8081)
	v.SetDefault("DATA_DIR", "/data")
	v.SetDefault("LOG_PATH", "stdout")
	v.SetDefault("TELEGRAM_API_URL", "http://localhost:8081")
	v.SetDefault("CONTROL_LISTEN", "127.0.0.1:9090")
	v.SetDefault("PROBE_URL", "")
	v.SetDefault("PROBE_INTERVAL", "10s")
	v.SetDefault("PROBE_FAILURE_THRESHOLD", 3)
	v.SetDefault("BACKOFF_BASE", "500ms")
	v.SetDefault("BACKOFF_MAX", "30s")
	v.SetDefault("MAX_RESTARTS", 5)
	v.SetDefault("STABILITY_WINDOW", "30s")
	v.SetDefault("STOP_GRACE", "10s")
	v.SetDefault("HISTORY_DSN", "")
	v.SetDefault("FRONTEND_COMMAND", "telegram-bot-api")
	v.SetDefault("WORKER_COMMAND", "")
}

// loadSpecsFromTOML parses the optional [[processes]] tables.
func loadSpecsFromTOML(path string) ([]process.Spec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	specs := make([]process.Spec, 0, len(fc.Processes))
	for _, pc := range fc.Processes {
		policy, err := process.ParseRestartPolicy(pc.Policy)
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", pc.Name, err)
		}
		s := process.Spec{
			Name:      pc.Name,
			Args:      pc.Command,
			Env:       pc.Env,
			WorkDir:   pc.WorkDir,
			Policy:    policy,
			DependsOn: pc.DependsOn,
		}
		if pc.Log != nil {
			s.Log = *pc.Log
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}
