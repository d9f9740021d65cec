package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything the server, worker and CLI need.
type Config struct {
	GoogleAPIKey   string
	Addr           string
	Model          string
	Temperature    float64
	Timeout        time.Duration
	MaxRetries     int
	MaxUploadBytes int64
	MaxPlanDays    int
	Workers        int
	Location       *time.Location

	DBURL       string
	SQLitePath  string
	RabbitMQURL string
	R2          R2Config
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		Model:          "gemini-2.5-flash",
		Temperature:    0.1,
		Timeout:        120 * time.Second,
		MaxRetries:     1,
		MaxUploadBytes: 10 << 20,
		MaxPlanDays:    DefaultMaxPlanDays,
		Workers:        3,
		Location:       time.Local,
	}
}

// LoadConfig reads configuration from the environment on top of the
// defaults. Unparseable numbers are ignored.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	if cfg.GoogleAPIKey == "" {
		cfg.GoogleAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if v := os.Getenv("PLANNER_ADDR"); v != "" {
		cfg.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("PLANNER_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("PLANNER_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 2 {
			cfg.Temperature = f
		}
	}
	if v := os.Getenv("PLANNER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("PLANNER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("PLANNER_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("PLANNER_MAX_PLAN_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPlanDays = n
		}
	}
	if v := os.Getenv("PLANNER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("PLANNER_TIMEZONE"); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PLANNER_TIMEZONE %q: %w", v, err)
		}
		cfg.Location = loc
	}

	cfg.DBURL = os.Getenv("DB_URL")
	cfg.SQLitePath = os.Getenv("PLANNER_SQLITE_PATH")
	cfg.RabbitMQURL = os.Getenv("RABBITMQ_URL")

	cfg.R2 = R2Config{
		AccountID: os.Getenv("R2_ACCOUNT_ID"),
		Bucket:    os.Getenv("R2_BUCKET"),
		AccessKey: os.Getenv("R2_ACCESS_KEY"),
		SecretKey: os.Getenv("R2_SECRET_KEY"),
	}
	if cfg.R2.AccountID == "" {
		cfg.R2.AccountID = os.Getenv("R2_ACCCOUNT_ID")
	}

	return cfg, nil
}

// Validate reports required settings that are missing.
func (c Config) Validate() error {
	var errs []error
	if c.GoogleAPIKey == "" {
		errs = append(errs, errors.New("empty GOOGLE_API_KEY in environment"))
	}
	if c.DBURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("set only one of DB_URL and PLANNER_SQLITE_PATH"))
	}
	if c.RabbitMQURL != "" && !c.R2.Enabled() {
		errs = append(errs, errors.New("RABBITMQ_URL requires R2_ACCOUNT_ID, R2_BUCKET, R2_ACCESS_KEY and R2_SECRET_KEY"))
	}
	return errors.Join(errs...)
}

func (c Config) QueueEnabled() bool {
	return c.RabbitMQURL != ""
}
