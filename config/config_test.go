package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Configuration {
	return &Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/tuma"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Providers: []ProviderConfig{
			{Name: "MTNMOMO", Secret: "shh"},
		},
	}
}

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := validConfig()
	assert.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, "Tuma Server", cnf.ProjectName)
	assert.Equal(t, EnvSandbox, cnf.Environment)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "webhook_retry", cnf.Queue.WebhookRetryQueue)
	assert.Equal(t, 5, cnf.WebhookRetry.MaxAttempts)
	assert.Equal(t, 60, cnf.WebhookRetry.SweepIntervalSec)
	assert.Equal(t, DefaultRetrySchedule, cnf.WebhookRetry.ScheduleSec)
	assert.Equal(t, "5103", cnf.Queue.MonitoringPort)
	assert.Equal(t, 3600, cnf.StalePending.AfterSec)
	assert.Equal(t, 300, cnf.StalePending.SweepIntervalSec)
	assert.Equal(t, "mtnmomo", cnf.Providers[0].Name)
	assert.Equal(t, "X-Signature", cnf.Providers[0].SignatureHeader)
}

func TestValidateAndAddDefaults_Required(t *testing.T) {
	cnf := validConfig()
	cnf.DataSource.Dns = ""
	assert.Error(t, cnf.validateAndAddDefaults())

	cnf = validConfig()
	cnf.Redis.Dns = ""
	assert.Error(t, cnf.validateAndAddDefaults())

	cnf = validConfig()
	cnf.Providers[0].Secret = ""
	assert.Error(t, cnf.validateAndAddDefaults())

	cnf = validConfig()
	cnf.Providers[0].Secret = ""
	cnf.Providers[0].SkipSignatureCheck = true
	assert.NoError(t, cnf.validateAndAddDefaults())
}

func TestProviderLookup(t *testing.T) {
	cnf := validConfig()
	assert.NoError(t, cnf.validateAndAddDefaults())

	p, ok := cnf.Provider("mtnMomo")
	assert.True(t, ok)
	assert.Equal(t, "mtnmomo", p.Name)

	_, ok = cnf.Provider("unknown")
	assert.False(t, ok)
}

func TestRetryDelay(t *testing.T) {
	cnf := validConfig()
	assert.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, time.Second, cnf.RetryDelay(0))
	assert.Equal(t, 5*time.Second, cnf.RetryDelay(1))
	assert.Equal(t, 15*time.Second, cnf.RetryDelay(2))
	assert.Equal(t, time.Minute, cnf.RetryDelay(3))
	assert.Equal(t, 5*time.Minute, cnf.RetryDelay(4))

	// attempts beyond the table double the last delay
	assert.Equal(t, 10*time.Minute, cnf.RetryDelay(5))
	assert.Equal(t, 20*time.Minute, cnf.RetryDelay(6))
}

func TestIsProduction(t *testing.T) {
	cnf := validConfig()
	cnf.Environment = "Production"
	assert.NoError(t, cnf.validateAndAddDefaults())
	assert.True(t, cnf.IsProduction())
}

func TestMockConfig(t *testing.T) {
	MockConfig(validConfig())
	cnf, err := Fetch()
	assert.NoError(t, err)
	assert.Equal(t, "Tuma Server", cnf.ProjectName)
}
