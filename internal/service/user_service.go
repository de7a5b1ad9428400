package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/dreamerumesh/connecTu-backend/internal/events"
	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/repository"
	"go.uber.org/zap"
)

const maxPhonesPerLookup = 100

// TokenRevoker invalidates an issued token before it expires.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

type UserService struct {
	users   repository.UserStore
	bc      Broadcaster
	events  events.Publisher
	revoker TokenRevoker
	logger  *zap.Logger
}

func NewUserService(users repository.UserStore, bc Broadcaster, pub events.Publisher, revoker TokenRevoker, logger *zap.Logger) *UserService {
	if bc == nil {
		bc = NopBroadcaster
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, bc: bc, events: pub, revoker: revoker, logger: logger}
}

func (s *UserService) Profile(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	return u, storeErr(err, "User not found")
}

// ProfileInput mirrors the update body. Phone is only present to be rejected.
type ProfileInput struct {
	Phone      *string
	Name       *string
	About      *string
	ProfilePic *string
}

func (s *UserService) UpdateProfile(ctx context.Context, id string, in ProfileInput) (*models.User, error) {
	if in.Phone != nil {
		return nil, apperr.Validation("Phone number cannot be updated")
	}
	var upd models.ProfileUpdate
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || nameTooLong(name) {
			return nil, apperr.Validation("Name must be between 1 and 50 characters")
		}
		upd.Name = &name
	}
	if in.About != nil {
		about := strings.TrimSpace(*in.About)
		if utf8.RuneCountInString(about) > 139 {
			return nil, apperr.Validation("About must be 139 characters or less")
		}
		upd.About = &about
	}
	if in.ProfilePic != nil {
		pic := strings.TrimSpace(*in.ProfilePic)
		upd.ProfilePic = &pic
	}
	u, err := s.users.UpdateProfile(ctx, id, upd)
	return u, storeErr(err, "User not found")
}

func (s *UserService) UpdateSettings(ctx context.Context, id string, readReceipts *bool) (*models.User, error) {
	if readReceipts == nil {
		return nil, apperr.Validation("readReceipts must be a boolean value")
	}
	u, err := s.users.UpdateSettings(ctx, id, models.Settings{ReadReceipts: *readReceipts})
	return u, storeErr(err, "User not found")
}

// SetAvatar stores the uploaded avatar URL on the profile.
func (s *UserService) SetAvatar(ctx context.Context, id, url string) (*models.User, error) {
	u, err := s.users.UpdateProfile(ctx, id, models.ProfileUpdate{ProfilePic: &url})
	return u, storeErr(err, "User not found")
}

// SetOnlineStatus is the REST toggle. It always stamps lastSeen.
func (s *UserService) SetOnlineStatus(ctx context.Context, id string, online *bool) (*models.User, error) {
	if online == nil {
		return nil, apperr.Validation("isOnline field is required")
	}
	now := time.Now().UTC()
	u, err := s.users.SetPresence(ctx, id, *online, &now)
	if err != nil {
		return nil, storeErr(err, "User not found")
	}
	s.broadcastStatus(ctx, u)
	return u, nil
}

// Connected is called for a user's first live socket across all nodes.
func (s *UserService) Connected(ctx context.Context, id string) {
	u, err := s.users.SetPresence(ctx, id, true, nil)
	if err != nil {
		s.logger.Warn("set online failed", zap.String("user_id", id), zap.Error(err))
		return
	}
	s.broadcastStatus(ctx, u)
}

// Disconnected is called once the user's last live socket closed.
func (s *UserService) Disconnected(ctx context.Context, id string) {
	now := time.Now().UTC()
	u, err := s.users.SetPresence(ctx, id, false, &now)
	if err != nil {
		s.logger.Warn("set offline failed", zap.String("user_id", id), zap.Error(err))
		return
	}
	s.broadcastStatus(ctx, u)
}

func (s *UserService) broadcastStatus(ctx context.Context, u *models.User) {
	payload := map[string]interface{}{
		"userId":   u.ID,
		"isOnline": u.IsOnline,
	}
	if !u.IsOnline {
		payload["lastSeen"] = u.LastSeen
	}
	s.bc.EmitToAll(ctx, EventUserStatus, payload)
	publish(ctx, s.events, s.logger, events.Event{Type: events.UserPresence, ActorID: u.ID, Data: payload})
}

type Presence struct {
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

func (s *UserService) Presence(ctx context.Context, id string) (Presence, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return Presence{}, storeErr(err, "User not found")
	}
	return Presence{IsOnline: u.IsOnline, LastSeen: u.LastSeen}, nil
}

// FindByPhones returns the registered users among phones. Malformed numbers
// are dropped; the caller sees how many were requested.
func (s *UserService) FindByPhones(ctx context.Context, phones []string) ([]models.PublicUser, error) {
	if phones == nil {
		return nil, apperr.Validation("phones must be an array")
	}
	if len(phones) == 0 {
		return nil, apperr.Validation("phones array cannot be empty")
	}
	if len(phones) > maxPhonesPerLookup {
		return nil, apperr.Validation("Maximum 100 phone numbers allowed per request")
	}

	seen := make(map[string]struct{}, len(phones))
	valid := make([]string, 0, len(phones))
	for _, p := range phones {
		p = strings.TrimSpace(p)
		if !validPhone(p) {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return nil, apperr.Validation("No valid phone numbers provided")
	}

	found, err := s.users.FindByPhones(ctx, valid)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]models.PublicUser, 0, len(found))
	for _, u := range found {
		out = append(out, u.Public())
	}
	return out, nil
}

// Logout marks the account inactive and revokes the presented token.
func (s *UserService) Logout(ctx context.Context, id, jti string, expiresAt time.Time) error {
	if _, err := s.users.SetStatus(ctx, id, models.UserInactive); err != nil {
		return storeErr(err, "User not found")
	}
	if s.revoker == nil || jti == "" {
		return nil
	}
	if err := s.revoker.Revoke(ctx, jti, expiresAt); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
