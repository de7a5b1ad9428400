package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// LocalProvider generates the code itself, keeps a bcrypt hash of it in the
// session store and hands the text to an SMS Sender.
type LocalProvider struct {
	name        string
	sender      Sender
	sessions    *SessionStore
	length      int
	ttl         time.Duration
	maxAttempts int
	countryCode string
}

type LocalOptions struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
	CountryCode string
}

func NewLocalProvider(name string, sender Sender, sessions *SessionStore, opts LocalOptions) *LocalProvider {
	return &LocalProvider{
		name:        name,
		sender:      sender,
		sessions:    sessions,
		length:      opts.Length,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		countryCode: opts.CountryCode,
	}
}

func (p *LocalProvider) Name() string { return p.name }

func (p *LocalProvider) Send(ctx context.Context, phone string) (string, error) {
	if phone == "" {
		return "", ErrPhoneMissing
	}
	code, err := GenerateCode(p.length)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}
	id, err := p.sessions.Create(ctx, phone, string(hash), "")
	if err != nil {
		return "", err
	}

	body := fmt.Sprintf("Your connecTu verification code is %s. It is valid for %d minutes.", code, int(p.ttl.Minutes()))
	if err := p.sender.SendSMS(ctx, E164(phone, p.countryCode), body); err != nil {
		_ = p.sessions.Delete(ctx, id)
		return "", err
	}
	return id, nil
}

func (p *LocalProvider) Verify(ctx context.Context, sessionID, phone, code string) error {
	s, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Phone != phone || s.CodeHash == "" {
		return ErrInvalidCode
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.CodeHash), []byte(code)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			if ferr := p.sessions.Fail(ctx, sessionID, p.maxAttempts); ferr != nil {
				return ferr
			}
			return ErrInvalidCode
		}
		return err
	}
	return p.sessions.Delete(ctx, sessionID)
}
