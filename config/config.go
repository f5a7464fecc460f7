package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. It loads from an optional
// config file (JSON or YAML) with environment variables taking precedence.
type Config struct {
	ExchangeConfig ExchangeConfig         `json:"exchange" yaml:"exchange"`
	TradingConfig  TradingConfig          `json:"trading" yaml:"trading"`
	RiskConfig     RiskConfig             `json:"risk" yaml:"risk"`
	SessionConfig  SessionConfig          `json:"sessions" yaml:"sessions"`
	ScaleConfigs   map[string]ScaleConfig `json:"scales" yaml:"scales"`
	DayRatings     map[string]DayRatings  `json:"day_ratings" yaml:"day_ratings"`
	PDArrayConfig  PDArrayConfig          `json:"pd_arrays" yaml:"pd_arrays"`
	WeeklyConfig   WeeklyConfig           `json:"weekly" yaml:"weekly"`
	LearningConfig LearningConfig         `json:"learning" yaml:"learning"`
	BacktestConfig BacktestConfig         `json:"backtest" yaml:"backtest"`
	LoggingConfig  LoggingConfig          `json:"logging" yaml:"logging"`
	ServerConfig   ServerConfig           `json:"server" yaml:"server"`
	VaultConfig    VaultConfig            `json:"vault" yaml:"vault"`
	RedisConfig    RedisConfig            `json:"redis" yaml:"redis"`
	ArchiveConfig  ArchiveConfig          `json:"archive" yaml:"archive"`

	// Cross-scale confluence bonus added when sibling scales agree.
	CrossScaleConfluenceBonus float64 `json:"cross_scale_confluence_bonus" yaml:"cross_scale_confluence_bonus"`
	MinDayRating              float64 `json:"min_day_rating" yaml:"min_day_rating"`
}

// ExchangeConfig selects the market data and execution venue.
type ExchangeConfig struct {
	Name      string `json:"name" yaml:"name"`
	Symbol    string `json:"symbol" yaml:"symbol"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	APISecret string `json:"api_secret" yaml:"api_secret"`
}

type TradingConfig struct {
	PaperTrade      bool    `json:"paper_trade" yaml:"paper_trade"`
	InitialBalance  float64 `json:"initial_balance" yaml:"initial_balance"`
	FeeRate         float64 `json:"fee_rate" yaml:"fee_rate"`
	SlippageRate    float64 `json:"slippage_rate" yaml:"slippage_rate"`
	MinTPMultiple   float64 `json:"min_tp_multiple" yaml:"min_tp_multiple"`
	CooldownMinutes int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	StateFile       string  `json:"state_file" yaml:"state_file"`

	// TrailTimeframe forces one trailing-stop timeframe for every position.
	// Empty means match the timeframe to the scale that opened the trade.
	TrailTimeframe string `json:"trail_timeframe" yaml:"trail_timeframe"`
	// DataLookback is how many candles to keep per intraday timeframe.
	DataLookback int `json:"data_lookback" yaml:"data_lookback"`
}

type RiskConfig struct {
	MaxDailyLoss     float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
	MaxRiskPct       float64 `json:"max_risk_pct" yaml:"max_risk_pct"`
	MaxLeverage      float64 `json:"max_leverage" yaml:"max_leverage"`
}

// SessionTime is a trading window in Eastern Time. Windows where the start
// is later than the end wrap midnight.
type SessionTime struct {
	StartHour   int `json:"start_hour" yaml:"start_hour"`
	StartMinute int `json:"start_minute" yaml:"start_minute"`
	EndHour     int `json:"end_hour" yaml:"end_hour"`
	EndMinute   int `json:"end_minute" yaml:"end_minute"`
}

type SessionConfig struct {
	Windows map[string]SessionTime `json:"windows" yaml:"windows"`
	Weights map[string]float64     `json:"weights" yaml:"weights"`
}

// ScaleConfig drives one fractal engine instance.
type ScaleConfig struct {
	Name            string   `json:"name" yaml:"name"`
	EntryTF         string   `json:"entry_tf" yaml:"entry_tf"`
	AlignmentTFs    []string `json:"alignment_tfs" yaml:"alignment_tfs"`
	StructureTF     string   `json:"structure_tf" yaml:"structure_tf"`
	ConfirmTF       string   `json:"confirm_tf" yaml:"confirm_tf"`
	ScanIntervalSec int      `json:"scan_interval" yaml:"scan_interval"`
	MinConfidence   float64  `json:"min_confidence" yaml:"min_confidence"`
	Weight          float64  `json:"weight" yaml:"weight"`
}

// DayRatings scores each weekday for a weekly profile, 0-5.
type DayRatings struct {
	Monday    float64 `json:"monday" yaml:"monday"`
	Tuesday   float64 `json:"tuesday" yaml:"tuesday"`
	Wednesday float64 `json:"wednesday" yaml:"wednesday"`
	Thursday  float64 `json:"thursday" yaml:"thursday"`
	Friday    float64 `json:"friday" yaml:"friday"`
	Saturday  float64 `json:"saturday" yaml:"saturday"`
	Sunday    float64 `json:"sunday" yaml:"sunday"`
}

// Get returns the rating for an English weekday name.
func (d DayRatings) Get(day string) float64 {
	switch day {
	case "Monday":
		return d.Monday
	case "Tuesday":
		return d.Tuesday
	case "Wednesday":
		return d.Wednesday
	case "Thursday":
		return d.Thursday
	case "Friday":
		return d.Friday
	case "Saturday":
		return d.Saturday
	case "Sunday":
		return d.Sunday
	}
	return 0
}

type PDArrayConfig struct {
	FVGMinGapPercent float64 `json:"fvg_min_gap_percent" yaml:"fvg_min_gap_percent"`
	OBLookback       int     `json:"ob_lookback" yaml:"ob_lookback"`
	BreakerLookback  int     `json:"breaker_lookback" yaml:"breaker_lookback"`
}

type WeeklyConfig struct {
	TGIFRetraceMin float64 `json:"tgif_retrace_min" yaml:"tgif_retrace_min"`
	TGIFRetraceMax float64 `json:"tgif_retrace_max" yaml:"tgif_retrace_max"`
}

type LearningConfig struct {
	AnalysisIntervalSec int     `json:"analysis_interval" yaml:"analysis_interval"`
	MinSamplePerBucket  int     `json:"min_sample_per_bucket" yaml:"min_sample_per_bucket"`
	AdjustmentStep      float64 `json:"adjustment_step" yaml:"adjustment_step"`
	AdjustmentsFile     string  `json:"adjustments_file" yaml:"adjustments_file"`
}

type BacktestConfig struct {
	DataDir         string  `json:"data_dir" yaml:"data_dir"`
	CooldownMinutes int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	MinTPMultiple   float64 `json:"min_tp_multiple" yaml:"min_tp_multiple"`
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Output     string `json:"output" yaml:"output"`
	JSONFormat bool   `json:"json_format" yaml:"json_format"`
	LogDir     string `json:"log_dir" yaml:"log_dir"`
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	AllowedOrigins  string `json:"allowed_origins" yaml:"allowed_origins"`
	APITokenHash    string `json:"api_token_hash" yaml:"api_token_hash"`
	ReadTimeout     int    `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// VaultConfig enables pulling exchange credentials from HashiCorp Vault
// instead of the environment.
type VaultConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Address    string `json:"address" yaml:"address"`
	Token      string `json:"token" yaml:"token"`
	MountPath  string `json:"mount_path" yaml:"mount_path"`
	SecretPath string `json:"secret_path" yaml:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled" yaml:"tls_enabled"`
	CACert     string `json:"ca_cert" yaml:"ca_cert"`
}

type RedisConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Address  string        `json:"address" yaml:"address"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

type ArchiveConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	DatabaseURL string `json:"database_url" yaml:"database_url"`
}

// Load reads the optional config file, then applies environment overrides.
// A missing file is not an error; everything has a default.
func Load(path string) (*Config, error) {
	godotenv.Load()

	cfg := Default()
	if path == "" {
		path = getEnvOrDefault("CONFIG_FILE", "config.json")
	}
	if err := cfg.mergeFile(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.ExchangeConfig.Name = getEnvOrDefault("EXCHANGE", c.ExchangeConfig.Name)
	c.ExchangeConfig.Symbol = getEnvOrDefault("SYMBOL", c.ExchangeConfig.Symbol)
	c.ExchangeConfig.APIKey = getEnvOrDefault("COINBASE_API_KEY", c.ExchangeConfig.APIKey)
	if secret := os.Getenv("COINBASE_API_SECRET"); secret != "" {
		c.ExchangeConfig.APISecret = strings.ReplaceAll(secret, `\n`, "\n")
	}

	c.TradingConfig.PaperTrade = getEnvBoolOrDefault("PAPER_TRADE", c.TradingConfig.PaperTrade)
	c.TradingConfig.InitialBalance = getEnvFloatOrDefault("INITIAL_BALANCE", c.TradingConfig.InitialBalance)
	c.TradingConfig.FeeRate = getEnvFloatOrDefault("FEE_RATE", c.TradingConfig.FeeRate)
	c.TradingConfig.SlippageRate = getEnvFloatOrDefault("SLIPPAGE_RATE", c.TradingConfig.SlippageRate)
	c.TradingConfig.MinTPMultiple = getEnvFloatOrDefault("MIN_TP_MULTIPLE", c.TradingConfig.MinTPMultiple)
	c.TradingConfig.CooldownMinutes = getEnvIntOrDefault("COOLDOWN_MINUTES", c.TradingConfig.CooldownMinutes)
	c.TradingConfig.TrailTimeframe = getEnvOrDefault("TRAIL_TF", c.TradingConfig.TrailTimeframe)
	c.TradingConfig.DataLookback = getEnvIntOrDefault("DATA_LOOKBACK", c.TradingConfig.DataLookback)

	c.RiskConfig.MaxRiskPct = getEnvFloatOrDefault("MAX_RISK_PCT", c.RiskConfig.MaxRiskPct)
	c.RiskConfig.MaxLeverage = getEnvFloatOrDefault("MAX_LEVERAGE", c.RiskConfig.MaxLeverage)

	c.PDArrayConfig.FVGMinGapPercent = getEnvFloatOrDefault("FVG_MIN_GAP", c.PDArrayConfig.FVGMinGapPercent)
	c.PDArrayConfig.OBLookback = getEnvIntOrDefault("OB_LOOKBACK", c.PDArrayConfig.OBLookback)
	c.PDArrayConfig.BreakerLookback = getEnvIntOrDefault("BREAKER_LOOKBACK", c.PDArrayConfig.BreakerLookback)

	c.BacktestConfig.DataDir = getEnvOrDefault("BACKTEST_DATA_DIR", c.BacktestConfig.DataDir)
	c.BacktestConfig.MinTPMultiple = getEnvFloatOrDefault("BACKTEST_MIN_TP_MULTIPLE", c.BacktestConfig.MinTPMultiple)

	c.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", c.LoggingConfig.Level)
	c.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", c.LoggingConfig.Output)
	c.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", c.LoggingConfig.JSONFormat)
	c.LoggingConfig.LogDir = getEnvOrDefault("LOG_DIR", c.LoggingConfig.LogDir)

	c.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", c.ServerConfig.Enabled)
	c.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", c.ServerConfig.Host)
	c.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", c.ServerConfig.Port)
	c.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", c.ServerConfig.AllowedOrigins)
	c.ServerConfig.APITokenHash = getEnvOrDefault("SERVER_API_TOKEN_HASH", c.ServerConfig.APITokenHash)

	c.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", c.VaultConfig.Enabled)
	c.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", c.VaultConfig.Address)
	c.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", c.VaultConfig.Token)
	c.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", c.VaultConfig.MountPath)
	c.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", c.VaultConfig.SecretPath)

	c.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", c.RedisConfig.Enabled)
	c.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", c.RedisConfig.Address)
	c.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", c.RedisConfig.Password)
	c.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", c.RedisConfig.DB)

	c.ArchiveConfig.Enabled = getEnvBoolOrDefault("ARCHIVE_ENABLED", c.ArchiveConfig.Enabled)
	c.ArchiveConfig.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.ArchiveConfig.DatabaseURL)
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		ExchangeConfig: ExchangeConfig{
			Name:   "coinbase",
			Symbol: "BTC-USD",
		},
		TradingConfig: TradingConfig{
			PaperTrade:      true,
			InitialBalance:  200,
			FeeRate:         0.001,
			SlippageRate:    0.0005,
			MinTPMultiple:   6,
			CooldownMinutes: 15,
			StateFile:       "paper_trader_state.json",
			DataLookback:    175,
		},
		RiskConfig: RiskConfig{
			MaxDailyLoss:     0.03,
			MaxOpenPositions: 3,
			MaxRiskPct:       0.02,
			MaxLeverage:      5,
		},
		SessionConfig: SessionConfig{
			Windows: map[string]SessionTime{
				"asian":      {StartHour: 20, EndHour: 0},
				"london":     {StartHour: 2, EndHour: 5},
				"ny_forex":   {StartHour: 7, EndHour: 10},
				"ny_indices": {StartHour: 8, StartMinute: 30, EndHour: 12},
			},
			Weights: map[string]float64{
				"london":      1.5,
				"ny_forex":    1.5,
				"ny_indices":  1.3,
				"asian":       0.3,
				"off_session": 0.3,
			},
		},
		ScaleConfigs: map[string]ScaleConfig{
			"1m": {
				Name:            "1m Scalp",
				EntryTF:         "1m",
				AlignmentTFs:    []string{"5m", "15m", "1h"},
				StructureTF:     "5m",
				ConfirmTF:       "1m",
				ScanIntervalSec: 10,
				MinConfidence:   0.7,
				Weight:          1.0,
			},
			"5m": {
				Name:            "5m Intraday",
				EntryTF:         "5m",
				AlignmentTFs:    []string{"15m", "1h", "4h"},
				StructureTF:     "15m",
				ConfirmTF:       "5m",
				ScanIntervalSec: 30,
				MinConfidence:   0.55,
				Weight:          1.0,
			},
			"15m": {
				Name:            "15m Swing",
				EntryTF:         "15m",
				AlignmentTFs:    []string{"1h", "4h", "1d"},
				StructureTF:     "1h",
				ConfirmTF:       "15m",
				ScanIntervalSec: 60,
				MinConfidence:   0.7,
				Weight:          1.0,
			},
		},
		DayRatings: map[string]DayRatings{
			"classic_expansion": {
				Monday: 0, Tuesday: 4, Wednesday: 5, Thursday: 4.5, Friday: 3.5, Saturday: 3, Sunday: 3,
			},
			"midweek_reversal": {
				Monday: 0, Tuesday: 3, Wednesday: 3.5, Thursday: 5, Friday: 4.5, Saturday: 3, Sunday: 3,
			},
			"consolidation_reversal": {
				Monday: 0, Tuesday: 2, Wednesday: 2.5, Thursday: 4, Friday: 5, Saturday: 3, Sunday: 3,
			},
			"undetermined": {
				Monday: 0, Tuesday: 3, Wednesday: 3.5, Thursday: 3.5, Friday: 3, Saturday: 3, Sunday: 3,
			},
		},
		PDArrayConfig: PDArrayConfig{
			FVGMinGapPercent: 0.0005,
			OBLookback:       20,
			BreakerLookback:  30,
		},
		WeeklyConfig: WeeklyConfig{
			TGIFRetraceMin: 0.20,
			TGIFRetraceMax: 0.30,
		},
		LearningConfig: LearningConfig{
			AnalysisIntervalSec: 3600,
			MinSamplePerBucket:  10,
			AdjustmentStep:      0.02,
			AdjustmentsFile:     "strategy_adjustments.json",
		},
		BacktestConfig: BacktestConfig{
			DataDir:         "backtest_data",
			CooldownMinutes: 30,
			MinTPMultiple:   3,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
			LogDir:     "logs",
		},
		ServerConfig: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "trading-bot/api-keys",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			CacheTTL: 5 * time.Minute,
		},
		CrossScaleConfluenceBonus: 0.1,
		MinDayRating:              3.0,
	}
}

// TestDefault returns a config suitable for deterministic tests: zero fees
// and slippage, relaxed confidence floors, logs to a temp dir.
func TestDefault() *Config {
	cfg := Default()
	cfg.TradingConfig.FeeRate = 0
	cfg.TradingConfig.SlippageRate = 0

	oneM := cfg.ScaleConfigs["1m"]
	oneM.MinConfidence = 0.5
	oneM.Weight = 0.7
	cfg.ScaleConfigs["1m"] = oneM

	fiveM := cfg.ScaleConfigs["5m"]
	fiveM.MinConfidence = 0.45
	fiveM.Weight = 0.85
	cfg.ScaleConfigs["5m"] = fiveM

	fifteenM := cfg.ScaleConfigs["15m"]
	fifteenM.MinConfidence = 0.4
	cfg.ScaleConfigs["15m"] = fifteenM

	cfg.LoggingConfig.Level = "ERROR"
	cfg.LoggingConfig.LogDir = filepath.Join(os.TempDir(), "ict_bot_test")
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true")
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
