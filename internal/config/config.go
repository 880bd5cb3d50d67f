// Package config
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vixgate/internal/series"
)

/*
YAML config example:
mode: "run"
symbol: "SPY"
frequency: "day"
asset_csv: "data/spy.csv"
vix_csv: "data/vix.csv"
vvix_csv: "data/vvix.csv"
dividends_csv: "data/spy_dividends.csv"
daily_indices: false
strategy: "tsl"
vix_lower: 10
vix_upper: 30
vvix_lower: 50
vvix_upper: 150
investment: 10000
tsl_percentage: 0.05
wait_period: 5
ignore_low: false
listen_addr: ":8080"
db_conn_str: ""
retention: 24h
*/

type Config struct {
	Mode         string        `yaml:"mode"`
	Symbol       string        `yaml:"symbol"`
	Frequency    string        `yaml:"frequency"`
	AssetCSV     string        `yaml:"asset_csv"`
	VIXCSV       string        `yaml:"vix_csv"`
	VVIXCSV      string        `yaml:"vvix_csv"`
	DividendsCSV string        `yaml:"dividends_csv"`
	DailyIndices bool          `yaml:"daily_indices"`
	Strategy     string        `yaml:"strategy"`
	VIXLower     float64       `yaml:"vix_lower"`
	VIXUpper     float64       `yaml:"vix_upper"`
	VVIXLower    float64       `yaml:"vvix_lower"`
	VVIXUpper    float64       `yaml:"vvix_upper"`
	Investment   float64       `yaml:"investment"`
	TSLPct       float64       `yaml:"tsl_percentage"`
	WaitPeriod   int           `yaml:"wait_period"`
	IgnoreLow    bool          `yaml:"ignore_low"`
	ListenAddr   string        `yaml:"listen_addr"`
	DBConnStr    string        `yaml:"db_conn_str"`
	DBMaxOpen    int           `yaml:"db_max_open"`
	DBMaxIdle    int           `yaml:"db_max_idle"`
	Retention    time.Duration `yaml:"retention"`
}

// Validate checks the configuration where it can be checked without touching
// the filesystem or the database.
func (c Config) Validate() error {
	if c.Mode != "run" && c.Mode != "serve" {
		return fmt.Errorf("mode must be run or serve, got %q", c.Mode)
	}
	if !series.IsValidFrequency(c.Frequency) {
		return fmt.Errorf("unknown frequency %q", c.Frequency)
	}
	if c.Mode == "run" {
		if c.AssetCSV == "" || c.VIXCSV == "" || c.VVIXCSV == "" {
			return fmt.Errorf("run mode requires asset, VIX and VVIX csv paths")
		}
		if c.Strategy != "plain" && c.Strategy != "tsl" {
			return fmt.Errorf("strategy must be plain or tsl, got %q", c.Strategy)
		}
	}
	return nil
}

func loadConfig() (Config, error) {
	mode := flag.String("mode", "run", "Mode: run or serve")
	symbol := flag.String("symbol", "SPY", "Asset symbol")
	frequency := flag.String("frequency", series.FreqDay, "Bar frequency: day, week, month, hour or minute")
	assetCSV := flag.String("asset-csv", "", "Path to asset bar CSV (timestamp,open,high,low,close)")
	vixCSV := flag.String("vix-csv", "", "Path to VIX bar CSV")
	vvixCSV := flag.String("vvix-csv", "", "Path to VVIX bar CSV")
	dividendsCSV := flag.String("dividends-csv", "", "Path to dividends CSV (timestamp,amount)")
	dailyIndices := flag.Bool("daily-indices", false, "Join intraday asset bars against daily VIX/VVIX bars by calendar date")
	strategyName := flag.String("strategy", "plain", "Strategy: plain or tsl")
	vixLower := flag.Float64("vix-lower", 0, "VIX lower bound (inclusive)")
	vixUpper := flag.Float64("vix-upper", 100, "VIX upper bound (inclusive)")
	vvixLower := flag.Float64("vvix-lower", 0, "VVIX lower bound (inclusive)")
	vvixUpper := flag.Float64("vvix-upper", 250, "VVIX upper bound (inclusive)")
	investment := flag.Float64("investment", 10000, "Initial investment")
	tslPct := flag.Float64("tsl-percentage", 0.05, "Trailing stop distance from the peak (e.g., 0.05 for 5%)")
	waitPeriod := flag.Int("wait-period", 5, "Rows to wait after a trailing stop before re-entry")
	ignoreLow := flag.Bool("ignore-low", false, "Check the trailing stop against the close only")
	listenAddr := flag.String("listen", ":8080", "HTTP listen address for serve mode")
	retention := flag.Duration("retention", 24*time.Hour, "How long finished runs are kept")
	configFile := flag.String("config", "", "Path to YAML config file")
	envFile := flag.String("env", "", "Path to .env file")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return Config{}, fmt.Errorf("failed to load env file: %w", err)
		}
	} else {
		// Best effort: a missing .env is fine.
		_ = godotenv.Load()
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
		fileCfg.applyDefaults()
		return fileCfg, nil
	}

	cfg := Config{
		Mode:         *mode,
		Symbol:       *symbol,
		Frequency:    *frequency,
		AssetCSV:     *assetCSV,
		VIXCSV:       *vixCSV,
		VVIXCSV:      *vvixCSV,
		DividendsCSV: *dividendsCSV,
		DailyIndices: *dailyIndices,
		Strategy:     *strategyName,
		VIXLower:     *vixLower,
		VIXUpper:     *vixUpper,
		VVIXLower:    *vvixLower,
		VVIXUpper:    *vvixUpper,
		Investment:   *investment,
		TSLPct:       *tslPct,
		WaitPeriod:   *waitPeriod,
		IgnoreLow:    *ignoreLow,
		ListenAddr:   *listenAddr,
		Retention:    *retention,
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "run"
	}
	if c.Frequency == "" {
		c.Frequency = series.FreqDay
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DBMaxOpen == 0 {
		c.DBMaxOpen = 10
	}
	if c.DBMaxIdle == 0 {
		c.DBMaxIdle = 5
	}
	if c.Retention == 0 {
		c.Retention = 24 * time.Hour
	}
	if c.DBConnStr == "" {
		c.DBConnStr = os.Getenv("DB_CONN_STR")
	}
}

// MustLoadConfig parses flags, env and the optional YAML file, and exits the
// process on invalid configuration.
func MustLoadConfig() Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}
