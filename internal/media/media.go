// Package media stores avatars and message attachments in object storage.
package media

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const thumbWidth = 320

type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Attachment describes an uploaded file a message can point at.
type Attachment struct {
	Key          string             `json:"key"`
	URL          string             `json:"url"`
	ThumbnailURL string             `json:"thumbnailUrl,omitempty"`
	Type         models.MessageType `json:"type"`
	ContentType  string             `json:"contentType"`
	Size         int64              `json:"size"`
	CreatedAt    time.Time          `json:"createdAt"`
}

type Options struct {
	AvatarSize     int
	MaxUploadBytes int
	PresignTTL     time.Duration
}

type Service struct {
	store  ObjectStore
	opts   Options
	logger *zap.Logger
}

func NewService(store ObjectStore, opts Options, logger *zap.Logger) *Service {
	if opts.AvatarSize <= 0 {
		opts.AvatarSize = 512
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, opts: opts, logger: logger}
}

func (s *Service) checkSize(data []byte) error {
	if len(data) == 0 {
		return apperr.Validation("File is empty")
	}
	if s.opts.MaxUploadBytes > 0 && len(data) > s.opts.MaxUploadBytes {
		return apperr.Validation(fmt.Sprintf("File exceeds the %d byte limit", s.opts.MaxUploadBytes))
	}
	return nil
}

// UploadAvatar center-crops the image to a square, re-encodes it as JPEG and
// returns a URL for it.
func (s *Service) UploadAvatar(ctx context.Context, userID string, data []byte) (string, error) {
	if err := s.checkSize(data); err != nil {
		return "", err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", apperr.Validation("Avatar must be a JPEG, PNG or GIF image")
	}
	avatar := imaging.Fill(img, s.opts.AvatarSize, s.opts.AvatarSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, avatar, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", apperr.Internal(fmt.Errorf("encode avatar: %w", err))
	}
	key := fmt.Sprintf("avatars/%s/%s.jpg", userID, uuid.NewString())
	return s.put(ctx, key, "image/jpeg", buf.Bytes())
}

// UploadAttachment stores a message attachment. Images also get a JPEG
// thumbnail; a thumbnail failure does not fail the upload.
func (s *Service) UploadAttachment(ctx context.Context, userID, filename, contentType string, data []byte) (*Attachment, error) {
	if err := s.checkSize(data); err != nil {
		return nil, err
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	key := fmt.Sprintf("attachments/%s/%s_%s", userID, uuid.NewString(), cleanName(filename))
	u, err := s.put(ctx, key, contentType, data)
	if err != nil {
		return nil, err
	}

	a := &Attachment{
		Key:         key,
		URL:         u,
		Type:        TypeFor(contentType),
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	if a.Type == models.TypeImage {
		thumb, err := thumbnail(data)
		if err == nil {
			a.ThumbnailURL, err = s.put(ctx, key+"_thumb.jpg", "image/jpeg", thumb)
		}
		if err != nil {
			s.logger.Warn("thumbnail failed", zap.String("key", key), zap.Error(err))
		}
	}
	return a, nil
}

func (s *Service) put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	u, err := s.store.Put(ctx, key, contentType, data)
	if err != nil {
		return "", apperr.Upstream("Failed to upload file", err)
	}
	if u != "" {
		return u, nil
	}
	u, err = s.store.PresignGet(ctx, key, s.opts.PresignTTL)
	if err != nil {
		return "", apperr.Upstream("Failed to upload file", err)
	}
	return u, nil
}

// TypeFor maps a MIME type to the message type it is sent as.
func TypeFor(contentType string) models.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.TypeImage
	case strings.HasPrefix(contentType, "video/"):
		return models.TypeVideo
	case strings.HasPrefix(contentType, "audio/"):
		return models.TypeAudio
	}
	return models.TypeDocument
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}

func thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
