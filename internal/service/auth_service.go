package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/dreamerumesh/connecTu-backend/internal/auth"
	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/otp"
	"github.com/dreamerumesh/connecTu-backend/internal/repository"
	"go.uber.org/zap"
)

const msgTokenInvalid = "Not authorized, token invalid or expired"

type PhoneLimiter interface {
	Allow(ctx context.Context, phone string) error
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type AuthService struct {
	users    repository.UserStore
	provider otp.Provider
	limiter  PhoneLimiter
	tokens   *auth.JWTManager
	revoked  RevocationChecker
	logger   *zap.Logger
}

type AuthDeps struct {
	Users    repository.UserStore
	Provider otp.Provider
	Limiter  PhoneLimiter
	Tokens   *auth.JWTManager
	Revoked  RevocationChecker
	Logger   *zap.Logger
}

func NewAuthService(d AuthDeps) *AuthService {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &AuthService{
		users:    d.Users,
		provider: d.Provider,
		limiter:  d.Limiter,
		tokens:   d.Tokens,
		revoked:  d.Revoked,
		logger:   d.Logger,
	}
}

func (s *AuthService) SendOTP(ctx context.Context, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", apperr.Validation("Phone number is required")
	}
	if !validPhone(phone) {
		return "", apperr.Validation("Invalid phone number")
	}
	if s.limiter != nil {
		err := s.limiter.Allow(ctx, phone)
		if errors.Is(err, otp.ErrRateLimited) {
			return "", apperr.RateLimited("Too many OTP requests, please try again later")
		}
		if err != nil {
			return "", apperr.Internal(err)
		}
	}
	sessionID, err := s.provider.Send(ctx, phone)
	if err != nil {
		s.logger.Error("otp send failed", zap.String("provider", s.provider.Name()), zap.Error(err))
		return "", apperr.Upstream("Failed to send OTP", err)
	}
	return sessionID, nil
}

type VerifyInput struct {
	Phone     string
	OTP       string
	SessionID string
	Name      string
}

type VerifyResult struct {
	IsNewUser bool
	Token     string
	User      *models.User
	Message   string
}

// VerifyOTP checks the code and logs the user in, creating the account on
// first verification.
func (s *AuthService) VerifyOTP(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	in.Phone = strings.TrimSpace(in.Phone)
	in.OTP = strings.TrimSpace(in.OTP)
	in.Name = strings.TrimSpace(in.Name)
	if in.Phone == "" || in.OTP == "" || in.SessionID == "" {
		return nil, apperr.Validation("Phone, OTP and sessionId are required")
	}
	if nameTooLong(in.Name) {
		return nil, apperr.Validation("Name must be between 1 and 50 characters")
	}

	existing, err := s.users.GetByPhone(ctx, in.Phone)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Internal(err)
	}
	// checked before the code is consumed so the user can retry with a name
	if existing == nil && in.Name == "" {
		return nil, apperr.Validation("Name required for new users")
	}
	if existing != nil && existing.Status == models.UserBanned {
		return nil, apperr.Forbidden("Account has been banned")
	}

	if err := s.provider.Verify(ctx, in.SessionID, in.Phone, in.OTP); err != nil {
		if errors.Is(err, otp.ErrInvalidCode) {
			return nil, apperr.Validation("Invalid or expired OTP")
		}
		s.logger.Error("otp verify failed", zap.String("provider", s.provider.Name()), zap.Error(err))
		return nil, apperr.Upstream("Failed to verify OTP", err)
	}

	res := &VerifyResult{}
	if existing == nil {
		u := &models.User{
			Phone:    in.Phone,
			Name:     in.Name,
			About:    models.DefaultAbout,
			Status:   models.UserActive,
			Settings: models.Settings{ReadReceipts: true},
			LastSeen: time.Now().UTC(),
		}
		err := s.users.Create(ctx, u)
		switch {
		case err == nil:
			res.IsNewUser = true
			res.User = u
		case errors.Is(err, repository.ErrDuplicate):
			// lost a concurrent registration race; log in instead
			existing, err = s.users.GetByPhone(ctx, in.Phone)
			if err != nil {
				return nil, storeErr(err, "User not found")
			}
		default:
			return nil, apperr.Internal(err)
		}
	}
	if existing != nil {
		u, err := s.users.SetStatus(ctx, existing.ID, models.UserActive)
		if err != nil {
			return nil, storeErr(err, "User not found")
		}
		res.User = u
	}

	token, _, err := s.tokens.Generate(res.User.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	res.Token = token
	res.Message = "Login successful"
	if res.IsNewUser {
		res.Message = "Registration successful"
	}
	return res, nil
}

// Authenticate resolves a bearer token to its user.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.User, *auth.Claims, error) {
	if token == "" {
		return nil, nil, apperr.Unauthorized("Not authorized, no token")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, nil, apperr.Unauthorized(msgTokenInvalid)
	}
	if s.revoked != nil && claims.ID != "" {
		revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, nil, apperr.Internal(err)
		}
		if revoked {
			return nil, nil, apperr.Unauthorized(msgTokenInvalid)
		}
	}
	u, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, apperr.Unauthorized("User not found")
	}
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	if u.Status == models.UserBanned {
		return nil, nil, apperr.Forbidden("Account has been banned")
	}
	return u, claims, nil
}
