package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the market service.
type Config struct {
	Port     int
	LogLevel string

	DataDir         string
	CommoditiesPath string
	TownsPath       string
	LedgerPath      string

	DefaultCurrency string
	TreasuryTarget  float64
	BuySpread       float64
	SellSpread      float64
	MinSellMult     float64
	MaxTax          float64
	Capacity        int64

	SaveInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies
// defaults, and validates values. It returns an error for any invalid
// value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	dataDir := getStr("DATA_DIR", "data")
	commoditiesPath := getStr("COMMODITIES_PATH", filepath.Join(dataDir, "commodities.yml"))
	townsPath := getStr("TOWNS_PATH", filepath.Join(dataDir, "towns.yml"))
	ledgerPath := getStr("LEDGER_PATH", filepath.Join(dataDir, "market-ledger.yml"))

	defaultCurrency := getStr("DEFAULT_CURRENCY", "SHEKEL")

	treasuryTarget, err := getFloat("TREASURY_TARGET", 10_000)
	if err != nil {
		return nil, fmt.Errorf("invalid TREASURY_TARGET: %w", err)
	}
	if treasuryTarget < 1 {
		return nil, fmt.Errorf("invalid TREASURY_TARGET: must be >= 1, got %v", treasuryTarget)
	}

	buySpread, err := getFloat("BUY_SPREAD", 1.00)
	if err != nil {
		return nil, fmt.Errorf("invalid BUY_SPREAD: %w", err)
	}
	if buySpread < 0 {
		return nil, fmt.Errorf("invalid BUY_SPREAD: must be >= 0, got %v", buySpread)
	}

	sellSpread, err := getFloat("SELL_SPREAD", 0.80)
	if err != nil {
		return nil, fmt.Errorf("invalid SELL_SPREAD: %w", err)
	}
	if sellSpread < 0 || sellSpread > 1 {
		return nil, fmt.Errorf("invalid SELL_SPREAD: must be in [0,1], got %v", sellSpread)
	}

	minSellMult, err := getFloat("MIN_SELL_MULT", 0.10)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_SELL_MULT: %w", err)
	}
	if minSellMult <= 0 || minSellMult > 1 {
		return nil, fmt.Errorf("invalid MIN_SELL_MULT: must be in (0,1], got %v", minSellMult)
	}

	maxTax, err := getFloat("MAX_TAX", 0.35)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_TAX: %w", err)
	}
	if maxTax < 0 || maxTax >= 1 {
		return nil, fmt.Errorf("invalid MAX_TAX: must be in [0,1), got %v", maxTax)
	}

	capacity, err := getInt("INVENTORY_CAPACITY", 2304)
	if err != nil {
		return nil, fmt.Errorf("invalid INVENTORY_CAPACITY: %w", err)
	}

	saveInterval, err := getDuration("SAVE_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SAVE_INTERVAL: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		DataDir:         dataDir,
		CommoditiesPath: commoditiesPath,
		TownsPath:       townsPath,
		LedgerPath:      ledgerPath,
		DefaultCurrency: defaultCurrency,
		TreasuryTarget:  treasuryTarget,
		BuySpread:       buySpread,
		SellSpread:      sellSpread,
		MinSellMult:     minSellMult,
		MaxTax:          maxTax,
		Capacity:        int64(capacity),
		SaveInterval:    saveInterval,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
