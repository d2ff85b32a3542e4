package token_janitor_config

import (
	"time"

	"github.com/NordCoder/Nudger/internal/obs"
	kafkax "github.com/NordCoder/Nudger/internal/repository/kafka"
	pginfra "github.com/NordCoder/Nudger/internal/repository/postgres"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Janitor struct {
	Deregister      bool          `mapstructure:"deregister"`
	PurgeCron       string        `mapstructure:"purge_cron" validate:"required"`
	StaleAfter      time.Duration `mapstructure:"stale_after" validate:"gte=0"`
	OutboxRetention time.Duration `mapstructure:"outbox_retention" validate:"gte=0"`
	PurgeTimeout    time.Duration `mapstructure:"purge_timeout" validate:"gt=0"`
	TimeZone        string        `mapstructure:"time_zone" validate:"required"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr" validate:"required"`
	HealthAddr  string `mapstructure:"health_addr"`
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

type Config struct {
	App     App                   `mapstructure:"app"`
	DB      pginfra.Config        `mapstructure:"db"`
	In      kafkax.ConsumerConfig `mapstructure:"kafka_in"`
	Topic   kafkax.TopicSpec      `mapstructure:"topic" validate:"-"`
	Janitor Janitor               `mapstructure:"janitor"`
	Server  Server                `mapstructure:"server"`
	OTEL    OTEL                  `mapstructure:"otel"`
	Log     Log                   `mapstructure:"log"`
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
