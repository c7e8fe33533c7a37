package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		// Addr of the read-only API; empty disables it.
		Addr string
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Scheduler struct {
		Tick          time.Duration `validate:"gt=0"`
		PoolSize      int           `validate:"gte=1"`
		Timeout       time.Duration `validate:"gt=0"`
		ShutdownGrace time.Duration `validate:"gte=0"`
		Timezone      string
	}
	TasksFile string
	// FunctionsRoot confines the file_operations builtin; empty means no restriction.
	FunctionsRoot string
	History       struct {
		Backend           string        `validate:"required,oneof=memory sqlite postgres"`
		SQLitePath        string        `validate:"required_if=Backend sqlite"`
		PostgresDSN       string        `validate:"required_if=Backend postgres"`
		MemoryLimit       int           `validate:"gte=1"`
		Retention         time.Duration `validate:"gte=0"`
		RetentionSchedule string
	}
	Telegram struct {
		Token      string
		ChatID     int64   `validate:"required_with=Token"`
		RatePerSec float64 `validate:"gte=0"`
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var (
		c   Config
		err error
		p   parser
	)
	c.Env = getenv("ENV", "prod")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/scheduler.log")

	c.Scheduler.Tick = p.durationVar("SCHEDULER_TICK", time.Second)
	c.Scheduler.PoolSize = p.intVar("SCHEDULER_POOL_SIZE", 4)
	c.Scheduler.Timeout = p.durationVar("SCHEDULER_DEFAULT_TIMEOUT", 300*time.Second)
	c.Scheduler.ShutdownGrace = p.durationVar("SCHEDULER_SHUTDOWN_GRACE", 30*time.Second)
	c.Scheduler.Timezone = os.Getenv("SCHEDULER_TIMEZONE")

	c.TasksFile = os.Getenv("TASKS_FILE")
	c.FunctionsRoot = os.Getenv("FUNCTIONS_FILE_ROOT")

	c.History.Backend = strings.ToLower(getenv("HISTORY_BACKEND", "memory"))
	c.History.SQLitePath = getenv("HISTORY_SQLITE_PATH", "data/history.db")
	c.History.PostgresDSN = os.Getenv("HISTORY_POSTGRES_DSN")
	c.History.MemoryLimit = p.intVar("HISTORY_MEMORY_LIMIT", 1000)
	c.History.Retention = p.durationVar("HISTORY_RETENTION", 0)
	c.History.RetentionSchedule = getenv("HISTORY_RETENTION_SCHEDULE", "@daily")

	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.ChatID = p.int64Var("TELEGRAM_CHAT_ID", 0)
	c.Telegram.RatePerSec = p.floatVar("NOTIFY_RATE_PER_SEC", 1)

	if p.err != nil {
		return Config{}, p.err
	}
	if err = validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.Scheduler.Timezone != "" {
		if _, err = time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return Config{}, fmt.Errorf("SCHEDULER_TIMEZONE: %w", err)
		}
	}
	return c, nil
}

// Location resolves Scheduler.Timezone; empty means local time.
func (c Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// parser keeps the first conversion error.
type parser struct {
	err error
}

func (p *parser) fail(k string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", k, err)
	}
}

func (p *parser) durationVar(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(k, err)
	}
	return d
}

func (p *parser) intVar(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(k, err)
	}
	return n
}

func (p *parser) int64Var(k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(k, err)
	}
	return n
}

func (p *parser) floatVar(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(k, err)
	}
	return f
}
