// Package config содержит логику чтения конфигурации сервиса биллинга абонементов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config содержит параметры конфигурации сервиса биллинга.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	// AMQPURL адрес брокера RabbitMQ. Пустое значение включает запись событий в журнал.
	AMQPURL string `env:"AMQP_URL"`

	AuthSecret    string `env:"AUTH_SECRET"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	StaffKey      string `env:"STAFF_KEY"`

	DefaultCurrency      string          `env:"DEFAULT_CURRENCY" envDefault:"SAR"`
	VATRate              decimal.Decimal `env:"VAT_RATE" envDefault:"0.15"`
	InvoiceDueDays       int             `env:"INVOICE_DUE_DAYS" envDefault:"7"`
	LoyaltyPointsPerUnit decimal.Decimal `env:"LOYALTY_POINTS_PER_UNIT" envDefault:"1"`
	ReferralRewardPoints int64           `env:"REFERRAL_REWARD_POINTS" envDefault:"100"`

	ExpirySchedule   string        `env:"EXPIRY_SCHEDULE" envDefault:"5 0 * * *"`
	UnfreezeSchedule string        `env:"UNFREEZE_SCHEDULE" envDefault:"10 0 * * *"`
	OverdueSchedule  string        `env:"OVERDUE_SCHEDULE" envDefault:"0 1 * * *"`
	JobTimeout       time.Duration `env:"JOB_TIMEOUT" envDefault:"5m"`
	JobBatchSize     int           `env:"JOB_BATCH_SIZE" envDefault:"500"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAMQPURL := cfg.AMQPURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AMQPURL, "q", "", "RabbitMQ URL for billing events")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAMQPURL != "" {
		cfg.AMQPURL = envAMQPURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if len(c.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY %q is not an ISO 4217 code", c.DefaultCurrency))
	}
	if c.VATRate.IsNegative() {
		errs = append(errs, fmt.Errorf("VAT_RATE must not be negative, got %s", c.VATRate))
	}
	if c.InvoiceDueDays < 0 {
		errs = append(errs, fmt.Errorf("INVOICE_DUE_DAYS must not be negative, got %d", c.InvoiceDueDays))
	}
	if c.LoyaltyPointsPerUnit.IsNegative() {
		errs = append(errs, fmt.Errorf("LOYALTY_POINTS_PER_UNIT must not be negative, got %s", c.LoyaltyPointsPerUnit))
	}
	for name, spec := range map[string]string{
		"EXPIRY_SCHEDULE":   c.ExpirySchedule,
		"UNFREEZE_SCHEDULE": c.UnfreezeSchedule,
		"OVERDUE_SCHEDULE":  c.OverdueSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
