package otp

import (
	"fmt"
	"net/http"

	"github.com/dreamerumesh/connecTu-backend/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewFromConfig builds the configured provider wrapped in a Guarded.
func NewFromConfig(cfg config.OTPConf, rdb *redis.Client, logger *zap.Logger) (*Guarded, error) {
	sessions := NewSessionStore(rdb, cfg.TTL)
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	local := LocalOptions{
		Length:      cfg.Length,
		TTL:         cfg.TTL,
		MaxAttempts: cfg.MaxAttempts,
		CountryCode: cfg.DefaultCountryCode,
	}

	var p Provider
	switch cfg.Provider {
	case "twilio":
		sender := NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.From, httpClient)
		p = NewLocalProvider("twilio", sender, sessions, local)
	case "twofactor":
		p = NewTwoFactorProvider(cfg.TwoFactor.APIKey, cfg.TwoFactor.BaseURL, cfg.DefaultCountryCode, httpClient, sessions, cfg.MaxAttempts)
	case "console":
		p = NewLocalProvider("console", NewConsoleSender(logger), sessions, local)
	default:
		return nil, fmt.Errorf("unknown otp provider %q", cfg.Provider)
	}
	logger.Info("otp provider ready", zap.String("provider", p.Name()))
	return NewGuarded(p, cfg.RequestTimeout, logger), nil
}
