// Package otp delivers and checks one-time login codes sent by SMS.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

var (
	ErrInvalidCode  = errors.New("invalid or expired OTP")
	ErrRateLimited  = errors.New("too many OTP requests, please try again later")
	ErrPhoneMissing = errors.New("phone number required")
)

// Provider sends a code to a phone and later checks it. The session id
// returned by Send must be presented to Verify together with the code.
type Provider interface {
	Name() string
	Send(ctx context.Context, phone string) (sessionID string, err error)
	Verify(ctx context.Context, sessionID, phone, code string) error
}

// GenerateCode returns a numeric code of the given length.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("otp length must be positive")
	}
	const digits = "0123456789"
	max := big.NewInt(int64(len(digits)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = digits[n.Int64()]
	}
	return string(b), nil
}

// E164 prefixes bare national numbers with countryCode.
func E164(phone, countryCode string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return countryCode + phone
}
