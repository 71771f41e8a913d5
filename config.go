package main

import (
	"fmt"
	"os"
	"strconv"

	"door-service/interlock"

	"gopkg.in/yaml.v2"
)

// Config represents the complete configuration for one door controller
type Config struct {
	ControllerID string      `yaml:"controller_id"`
	CANDevice    string      `yaml:"can_device"`
	Redis        RedisConfig `yaml:"redis"`
	Cycle        CycleConfig `yaml:"cycle"`
	Log          LogConfig   `yaml:"log"`
}

// RedisConfig holds the IPC server settings
type RedisConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

// CycleConfig holds the control cycle timing
type CycleConfig struct {
	PeriodMs       int `yaml:"period_ms"`
	DoorTravelMs   int `yaml:"door_travel_ms"`
	StatusPeriodMs int `yaml:"status_period_ms"`
}

// LogConfig holds logging and log rotation settings
type LogConfig struct {
	Level      int    `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and DOOR_SERVICE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ControllerID: "car-1",
		CANDevice:    "can0",
		Redis: RedisConfig{
			Addr: "127.0.0.1",
			Port: 6379,
		},
		Cycle: CycleConfig{
			PeriodMs:       interlock.DefaultCyclePeriodMs,
			DoorTravelMs:   interlock.DefaultDoorTravelMs,
			StatusPeriodMs: interlock.StatusPeriodMs,
		},
		Log: LogConfig{
			Level:      int(LogLevelInfo),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if id := os.Getenv("DOOR_SERVICE_CONTROLLER_ID"); id != "" {
		cfg.ControllerID = id
	}

	if dev := os.Getenv("DOOR_SERVICE_CAN_DEVICE"); dev != "" {
		cfg.CANDevice = dev
	}

	if addr := os.Getenv("DOOR_SERVICE_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	envInt("DOOR_SERVICE_REDIS_PORT", &cfg.Redis.Port)
	envInt("DOOR_SERVICE_CYCLE_PERIOD_MS", &cfg.Cycle.PeriodMs)
	envInt("DOOR_SERVICE_LOG_LEVEL", &cfg.Log.Level)

	if file := os.Getenv("DOOR_SERVICE_LOG_FILE"); file != "" {
		cfg.Log.File = file
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks the configuration for values the service cannot run with
func (cfg *Config) Validate() error {
	if cfg.ControllerID == "" {
		return fmt.Errorf("controller_id must not be empty")
	}

	if cfg.CANDevice == "" {
		return fmt.Errorf("can_device must not be empty")
	}

	if cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port %d", cfg.Redis.Port)
	}

	if cfg.Cycle.PeriodMs < interlock.MinCyclePeriodMs || cfg.Cycle.PeriodMs > interlock.MaxCyclePeriodMs {
		return fmt.Errorf("cycle period %d ms is outside range [%d, %d]",
			cfg.Cycle.PeriodMs, interlock.MinCyclePeriodMs, interlock.MaxCyclePeriodMs)
	}

	if cfg.Cycle.DoorTravelMs <= 0 {
		return fmt.Errorf("door travel time must be positive, got %d", cfg.Cycle.DoorTravelMs)
	}

	if cfg.Cycle.StatusPeriodMs < cfg.Cycle.PeriodMs {
		return fmt.Errorf("status period %d ms is shorter than the cycle period %d ms",
			cfg.Cycle.StatusPeriodMs, cfg.Cycle.PeriodMs)
	}

	if cfg.Log.Level < int(LogLevelNone) || cfg.Log.Level > int(LogLevelDebug) {
		return fmt.Errorf("invalid log level %d", cfg.Log.Level)
	}

	return nil
}

// Options converts the configuration into application options
func (cfg *Config) Options() *Options {
	return &Options{
		ControllerID:    cfg.ControllerID,
		LogLevel:        LogLevel(cfg.Log.Level),
		RedisServerAddr: cfg.Redis.Addr,
		RedisServerPort: uint16(cfg.Redis.Port),
		CANDevice:       cfg.CANDevice,
		CyclePeriodMs:   uint32(cfg.Cycle.PeriodMs),
		DoorTravelMs:    uint32(cfg.Cycle.DoorTravelMs),
		StatusPeriodMs:  uint32(cfg.Cycle.StatusPeriodMs),
		Log:             cfg.Log,
	}
}
