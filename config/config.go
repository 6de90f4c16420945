package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5101"

	EnvProduction = "production"
	EnvSandbox    = "sandbox"
)

// DefaultRetrySchedule is the webhook reprocessing backoff, in seconds.
// Attempts past the end of the table double the last delay.
var DefaultRetrySchedule = []int{1, 5, 15, 60, 300}

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"TUMA_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"TUMA_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"TUMA_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"TUMA_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"TUMA_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"TUMA_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"TUMA_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"TUMA_REDIS_DNS"`
}

type QueueConfig struct {
	WebhookRetryQueue string `json:"webhook_retry_queue" envconfig:"TUMA_QUEUE_WEBHOOK_RETRY"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"TUMA_QUEUE_MONITORING_PORT"`
}

// ProviderConfig describes one upstream mobile-money provider whose
// callbacks this service ingests.
type ProviderConfig struct {
	Name            string   `json:"name"`
	Secret          string   `json:"secret"`
	SignatureHeader string   `json:"signature_header"`
	AllowedSources  []string `json:"allowed_sources"`
	// SkipSourceCheck disables the source IP allow-list. Honored only
	// outside production.
	SkipSourceCheck bool `json:"skip_source_check"`
	// SkipSignatureCheck disables HMAC verification. Honored only in
	// sandbox.
	SkipSignatureCheck bool `json:"skip_signature_check"`
}

// StalePendingConfig controls the monitor for pending transactions that
// never received a provider callback.
type StalePendingConfig struct {
	AfterSec         int `json:"after_sec" envconfig:"TUMA_STALE_PENDING_AFTER_SEC"`
	SweepIntervalSec int `json:"sweep_interval_sec" envconfig:"TUMA_STALE_PENDING_SWEEP_INTERVAL_SEC"`
}

type WebhookRetryConfig struct {
	MaxAttempts      int   `json:"max_attempts" envconfig:"TUMA_WEBHOOK_RETRY_MAX_ATTEMPTS"`
	SweepIntervalSec int   `json:"sweep_interval_sec" envconfig:"TUMA_WEBHOOK_SWEEP_INTERVAL_SEC"`
	ScheduleSec      []int `json:"schedule_sec"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"TUMA_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"TUMA_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"TUMA_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"TUMA_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName  string             `json:"project_name" envconfig:"TUMA_PROJECT_NAME"`
	Environment  string             `json:"environment" envconfig:"TUMA_ENVIRONMENT"`
	Server       ServerConfig       `json:"server"`
	DataSource   DataSourceConfig   `json:"data_source"`
	Redis        RedisConfig        `json:"redis"`
	Queue        QueueConfig        `json:"queue"`
	Providers    []ProviderConfig   `json:"providers"`
	WebhookRetry WebhookRetryConfig `json:"webhook_retry"`
	StalePending StalePendingConfig `json:"stale_pending"`
	Notification Notification       `json:"notification"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("tuma", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called tuma.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Tuma Server"
	}

	if cnf.Environment == "" {
		cnf.Environment = EnvSandbox
		log.Printf("Warning: Environment not specified. Defaulting to %s", EnvSandbox)
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Environment = strings.ToLower(strings.TrimSpace(cnf.Environment))
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.WebhookRetryQueue == "" {
		cnf.Queue.WebhookRetryQueue = "webhook_retry"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5103"
	}

	if cnf.WebhookRetry.MaxAttempts <= 0 {
		cnf.WebhookRetry.MaxAttempts = 5
	}
	if cnf.WebhookRetry.SweepIntervalSec <= 0 {
		cnf.WebhookRetry.SweepIntervalSec = 60
	}
	if len(cnf.WebhookRetry.ScheduleSec) == 0 {
		cnf.WebhookRetry.ScheduleSec = DefaultRetrySchedule
	}

	if cnf.StalePending.AfterSec <= 0 {
		cnf.StalePending.AfterSec = 3600
	}
	if cnf.StalePending.SweepIntervalSec <= 0 {
		cnf.StalePending.SweepIntervalSec = 300
	}

	for i := range cnf.Providers {
		p := &cnf.Providers[i]
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		if p.Name == "" {
			return errors.New("provider name is required")
		}
		if p.SignatureHeader == "" {
			p.SignatureHeader = "X-Signature"
		}
		if p.Secret == "" && !p.SkipSignatureCheck {
			return fmt.Errorf("provider %s has no shared secret configured", p.Name)
		}
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// Provider returns the configuration for a named provider, matching
// case-insensitively.
func (cnf *Configuration) Provider(name string) (*ProviderConfig, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range cnf.Providers {
		if cnf.Providers[i].Name == name {
			return &cnf.Providers[i], true
		}
	}
	return nil, false
}

// IsProduction reports whether the service runs with production gates on.
func (cnf *Configuration) IsProduction() bool {
	return cnf.Environment == EnvProduction
}

// RetryDelay returns the wait before retry attempt n (zero-based), doubling
// the last scheduled delay for attempts past the end of the table.
func (cnf *Configuration) RetryDelay(attempt int) time.Duration {
	schedule := cnf.WebhookRetry.ScheduleSec
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(schedule) {
		return time.Duration(schedule[attempt]) * time.Second
	}
	delay := time.Duration(schedule[len(schedule)-1]) * time.Second
	for i := len(schedule); i <= attempt; i++ {
		delay *= 2
	}
	return delay
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if err := mockConfig.validateAndAddDefaults(); err != nil {
		logrus.Warnf("mock config validation: %v", err)
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
