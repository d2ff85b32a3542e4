package scheduler_config

import (
	"time"

	"github.com/NordCoder/Nudger/internal/content"
	"github.com/NordCoder/Nudger/internal/obs"
	outboxrunner "github.com/NordCoder/Nudger/internal/outbox"
	"github.com/NordCoder/Nudger/internal/push"
	kafkax "github.com/NordCoder/Nudger/internal/repository/kafka"
	pginfra "github.com/NordCoder/Nudger/internal/repository/postgres"
	redisinfra "github.com/NordCoder/Nudger/internal/repository/redis"
	"github.com/NordCoder/Nudger/internal/services/dispatcher"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type SchedCfg struct {
	Interval      time.Duration `mapstructure:"interval" validate:"gt=0"`
	Workers       int           `mapstructure:"workers" validate:"gte=1"`
	RecordTimeout time.Duration `mapstructure:"record_timeout" validate:"gt=0"`
	MetricsAddr   string        `mapstructure:"metrics_addr" validate:"required"`
	HealthAddr    string        `mapstructure:"health_addr"`
	// IANA zone for preferences that do not carry their own.
	TimeZone string `mapstructure:"time_zone" validate:"required"`

	dispatcher.Config `mapstructure:",squash"`
}

type LeaderCfg struct {
	Enable bool `mapstructure:"enable"`

	redisinfra.Config `mapstructure:",squash"`
}

type KafkaCfg struct {
	Enable  bool             `mapstructure:"enable"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   kafkax.TopicSpec `mapstructure:"topic"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (c *Config) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      c.OTEL.Enable,
		Endpoint:    c.OTEL.OTLPEndpoint,
		ServiceName: c.OTEL.ServiceName,
		Version:     c.App.Version,
		Env:         c.App.Env,
		SampleRatio: c.OTEL.SampleRatio,
	}
}

func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    c.App.Name,
		Env:    c.App.Env,
		Ver:    c.App.Version,
	}
}

type Config struct {
	App     App                 `mapstructure:"app"`
	DB      pginfra.Config      `mapstructure:"db"`
	Sched   SchedCfg            `mapstructure:"sched"`
	Gateway push.Config         `mapstructure:"gateway"`
	Content content.Config      `mapstructure:"content"`
	Leader  LeaderCfg           `mapstructure:"leader" validate:"-"`
	Kafka   KafkaCfg            `mapstructure:"kafka" validate:"-"`
	Outbox  outboxrunner.Config `mapstructure:"outbox"`
	OTEL    OTEL                `mapstructure:"otel"`
	Log     Log                 `mapstructure:"log"`
}

// Location resolves sched.time_zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Sched.TimeZone)
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
