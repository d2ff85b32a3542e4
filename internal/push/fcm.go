package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/NordCoder/Nudger/internal/domain/notification"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type messagingClient interface {
	Send(ctx context.Context, m *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, m *messaging.Message) (string, error)
}

var _ notification.Gateway = (*FCM)(nil)

type FCM struct {
	client messagingClient
	cfg    FCMConfig
	log    *zap.Logger
}

func NewFCM(ctx context.Context, cfg FCMConfig, log *zap.Logger) (*FCM, error) {
	if cfg.ProjectID == "" && cfg.CredentialsFile == "" {
		return nil, errors.New("fcm: project_id or credentials_file is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}
	return newFCM(client, cfg, log), nil
}

func newFCM(client messagingClient, cfg FCMConfig, log *zap.Logger) *FCM {
	if log == nil {
		log = zap.NewNop()
	}
	return &FCM{
		client: client,
		cfg:    cfg,
		log:    log.With(zap.String("component", "push.fcm")),
	}
}

func (f *FCM) message(token string, p notification.Payload) *messaging.Message {
	m := &messaging.Message{
		Token: token,
		Data:  p.Data,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "normal",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
	if f.cfg.TTL > 0 {
		ttl := f.cfg.TTL
		m.Android.TTL = &ttl
	}
	return m
}

func (f *FCM) Send(ctx context.Context, token string, p notification.Payload) error {
	send := f.client.Send
	if f.cfg.DryRun {
		send = f.client.SendDryRun
	}

	id, err := send(ctx, f.message(token, p))
	if err != nil {
		cerr := classifyFCM(err)
		f.log.Debug("fcm send failed",
			zap.String("token_fp", Fingerprint(token)),
			zap.String("class", string(notification.Classify(cerr))),
			zap.Error(err),
		)
		return cerr
	}
	f.log.Debug("fcm sent", zap.String("token_fp", Fingerprint(token)), zap.String("message_id", id))
	return nil
}

// Errors after which resending to the same token cannot succeed.
// INVALID_ARGUMENT is not among them: it also covers a bad payload, and the
// token stays registered in that case.
var permanentFCM = []func(error) bool{
	messaging.IsUnregistered,
	messaging.IsSenderIDMismatch,
}

func classifyFCM(err error) error {
	for _, is := range permanentFCM {
		if is(err) {
			return notification.NewPermanent(err)
		}
	}
	return notification.NewTransient(err)
}
