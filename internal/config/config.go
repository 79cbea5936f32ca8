package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"required,min=1,max=65535"`
	Password string
	DB       int `validate:"min=0"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// Tunables are the optional YAML overrides read from CONFIG_FILE.
type Tunables struct {
	RefreshInterval         time.Duration `yaml:"refresh_interval" json:"refresh_interval" jsonschema:"description=Symbol and configuration resync period,default=300000000000" validate:"min=1000000000"`
	FollowerRefreshInterval time.Duration `yaml:"follower_refresh_interval" json:"follower_refresh_interval" jsonschema:"description=Open position resync period,default=60000000000" validate:"min=1000000000"`
	FollowerTick            time.Duration `yaml:"follower_tick" json:"follower_tick" jsonschema:"description=Follower price check period,default=1000000000" validate:"min=10000000"`
	GapCheckInterval        time.Duration `yaml:"gap_check_interval" json:"gap_check_interval" jsonschema:"description=Missing minute bar check period,default=60000000000" validate:"min=1000000000"`
	RepairInterval          time.Duration `yaml:"repair_interval" json:"repair_interval" jsonschema:"description=Missing minute bar repair period,default=30000000000" validate:"min=1000000000"`
	RepairBatch             int           `yaml:"repair_batch" json:"repair_batch" jsonschema:"description=Missing bars repaired per pass,default=10" validate:"min=1,max=1000"`
	HistoricalTimeout       time.Duration `yaml:"historical_timeout" json:"historical_timeout" jsonschema:"description=Historical klines request timeout,default=10000000000" validate:"min=100000000"`
	HistoricalRetries       int           `yaml:"historical_retries" json:"historical_retries" jsonschema:"description=Historical klines retry budget,default=3" validate:"min=0,max=10"`
	MarkPriceInterval       time.Duration `yaml:"mark_price_interval" json:"mark_price_interval" jsonschema:"description=Minimum spacing between mark price writes,default=1000000000" validate:"min=10000000"`
	IndicatorBars           int           `yaml:"indicator_bars" json:"indicator_bars" jsonschema:"description=Bars loaded per indicator frame,default=250" validate:"min=10,max=5000"`
	IndicatorWorkers        int           `yaml:"indicator_workers" json:"indicator_workers" jsonschema:"description=Parallel calculators per frame,default=4" validate:"min=1,max=64"`
	RetentionRows           int           `yaml:"retention_rows" json:"retention_rows" jsonschema:"description=Indicator values kept per instance symbol and output,default=300" validate:"min=1"`
	CommissionRate          string        `yaml:"commission_rate" json:"commission_rate" jsonschema:"description=Commission charged on the notional of each fill,default=0.0004" validate:"numeric"`
	StreamBlock             time.Duration `yaml:"stream_block" json:"stream_block" jsonschema:"description=Stream read block timeout,default=1000000000" validate:"min=10000000,max=5000000000"`
	StreamBatch             int64         `yaml:"stream_batch" json:"stream_batch" jsonschema:"description=Stream entries read per call,default=10" validate:"min=1,max=1000"`
	ClaimMinIdle            time.Duration `yaml:"claim_min_idle" json:"claim_min_idle" jsonschema:"description=Idle time before a pending entry is claimed,default=60000000000" validate:"min=1000000000"`
	RestartDelay            time.Duration `yaml:"restart_delay" json:"restart_delay" jsonschema:"description=Delay before a failed task restarts,default=5000000000" validate:"min=0"`
}

// Commission returns the commission rate as a decimal.
func (t Tunables) Commission() decimal.Decimal {
	d, err := decimal.NewFromString(t.CommissionRate)
	if err != nil {
		return decimal.Zero
	}

	return d
}

// DefaultTunables returns the tunables used when no CONFIG_FILE is given.
func DefaultTunables() Tunables {
	return Tunables{
		RefreshInterval:         5 * time.Minute,
		FollowerRefreshInterval: 60 * time.Second,
		FollowerTick:            time.Second,
		GapCheckInterval:        60 * time.Second,
		RepairInterval:          30 * time.Second,
		RepairBatch:             10,
		HistoricalTimeout:       10 * time.Second,
		HistoricalRetries:       3,
		MarkPriceInterval:       time.Second,
		IndicatorBars:           250,
		IndicatorWorkers:        4,
		RetentionRows:           300,
		CommissionRate:          "0.0004",
		StreamBlock:             time.Second,
		StreamBatch:             10,
		ClaimMinIdle:            60 * time.Second,
		RestartDelay:            5 * time.Second,
	}
}

type Config struct {
	DatabaseURL    string `validate:"required"`
	Redis          RedisConfig
	Debug          bool
	HTTPAddr       string `validate:"required"`
	FuturesRESTURL string `validate:"required,url"`
	FuturesWSURL   string `validate:"required,url"`
	ConfigFile     string
	Tunables       Tunables

	// Warnings collects non-fatal problems found while loading.
	Warnings []string
}

// Load reads .env, the environment and the optional YAML tunables.
func Load() (*Config, error) {
	var warnings []string
	if err := godotenv.Load(); err != nil {
		warnings = append(warnings, ".env file not found")
	}

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}

	cfg.Warnings = append(warnings, cfg.Warnings...)

	return cfg, nil
}

// FromEnv builds and validates a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DatabaseURL: getenv("DATABASE_URL"),
		Redis: RedisConfig{
			Host:     withDefault(getenv("REDIS_HOST"), "localhost"),
			Password: getenv("REDIS_PASSWORD"),
		},
		Debug:          parseBool(getenv("DEBUG_MODE")),
		HTTPAddr:       withDefault(getenv("HTTP_ADDR"), ":8080"),
		FuturesRESTURL: withDefault(getenv("BINANCE_FUTURES_REST_URL"), "https://fapi.binance.com"),
		FuturesWSURL:   withDefault(getenv("BINANCE_FUTURES_WS_URL"), "wss://fstream.binance.com"),
		ConfigFile:     getenv("CONFIG_FILE"),
		Tunables:       DefaultTunables(),
	}

	port, err := strconv.Atoi(withDefault(getenv("REDIS_PORT"), "6379"))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeConfigInvalid, err, "REDIS_PORT=%q is not a number", getenv("REDIS_PORT"))
	}

	cfg.Redis.Port = port

	if cfg.ConfigFile != "" {
		data, err := os.ReadFile(cfg.ConfigFile)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeConfigInvalid, err, "failed to read config file %s", cfg.ConfigFile)
		}

		if err := ApplyYAML(&cfg.Tunables, data); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyYAML overlays the fields present in data on t.
func ApplyYAML(t *Tunables, data []byte) error {
	if err := yaml.Unmarshal(data, t); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "failed to parse tunables", err)
	}

	return nil
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "invalid configuration", err)
	}

	return nil
}

// TunablesSchema returns the JSON schema of the YAML tunables file.
func TunablesSchema() (string, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	schema := r.Reflect(&Tunables{}) //nolint:exhaustruct // Empty config for schema generation

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(out), nil
}

func withDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}

	return v
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))

	return err == nil && b
}
