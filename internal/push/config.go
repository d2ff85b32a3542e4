package push

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"go.uber.org/zap"
)

const (
	DriverFCM = "fcm"
	DriverLog = "log"
)

type Config struct {
	Driver  string        `mapstructure:"driver" validate:"required,oneof=fcm log"`
	FCM     FCMConfig     `mapstructure:"fcm"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type FCMConfig struct {
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	TTL             time.Duration `mapstructure:"ttl"`
	// Validate-only sends; FCM checks the message without delivering it.
	DryRun bool `mapstructure:"dry_run"`
}

type BreakerConfig struct {
	Enable           bool          `mapstructure:"enable"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// New builds the configured gateway, wrapped in a circuit breaker when enabled.
func New(ctx context.Context, cfg Config, log *zap.Logger) (notification.Gateway, error) {
	var (
		gw  notification.Gateway
		err error
	)
	switch cfg.Driver {
	case DriverFCM:
		gw, err = NewFCM(ctx, cfg.FCM, log)
		if err != nil {
			return nil, err
		}
	case DriverLog:
		gw = NewLogGateway(log)
	default:
		return nil, fmt.Errorf("unknown gateway driver %q", cfg.Driver)
	}

	if cfg.Breaker.Enable {
		gw = NewBreaker(cfg.Driver, gw, cfg.Breaker, log)
	}
	return gw, nil
}
