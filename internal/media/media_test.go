package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	public  bool
	err     error
}

func newFakeStore(public bool) *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}, public: public}
}

func (f *fakeStore) Put(_ context.Context, key, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.objects[key] = data
	f.types[key] = contentType
	if f.public {
		return "https://cdn.test/" + key, nil
	}
	return "", nil
}

func (f *fakeStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.test/" + key + "?ttl=" + ttl.String(), nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadAvatarCropsToSquare(t *testing.T) {
	store := newFakeStore(true)
	svc := NewService(store, Options{AvatarSize: 64}, nil)

	u, err := svc.UploadAvatar(context.Background(), "u1", pngBytes(t, 200, 100))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://cdn.test/avatars/u1/"))

	key := strings.TrimPrefix(u, "https://cdn.test/")
	assert.Equal(t, "image/jpeg", store.types[key])
	img, err := imaging.Decode(bytes.NewReader(store.objects[key]))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

func TestUploadAvatarRejectsNonImages(t *testing.T) {
	svc := NewService(newFakeStore(true), Options{}, nil)
	_, err := svc.UploadAvatar(context.Background(), "u1", []byte("not an image"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.UploadAvatar(context.Background(), "u1", nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUploadAttachmentPrivateBucket(t *testing.T) {
	store := newFakeStore(false)
	svc := NewService(store, Options{PresignTTL: time.Minute}, nil)

	a, err := svc.UploadAttachment(context.Background(), "u1", "../holiday pic.png", "", pngBytes(t, 400, 200))
	require.NoError(t, err)
	assert.Equal(t, models.TypeImage, a.Type)
	assert.Equal(t, "image/png", a.ContentType)
	assert.True(t, strings.HasSuffix(a.Key, "_holiday_pic.png"))
	assert.Contains(t, a.URL, "https://signed.test/attachments/u1/")
	assert.Contains(t, a.URL, "ttl=1m0s")
	require.NotEmpty(t, a.ThumbnailURL)

	thumb, err := imaging.Decode(bytes.NewReader(store.objects[a.Key+"_thumb.jpg"]))
	require.NoError(t, err)
	assert.Equal(t, thumbWidth, thumb.Bounds().Dx())
}

func TestUploadAttachmentLimits(t *testing.T) {
	store := newFakeStore(true)
	svc := NewService(store, Options{MaxUploadBytes: 4}, nil)
	_, err := svc.UploadAttachment(context.Background(), "u1", "a.txt", "text/plain", []byte("hello"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	store.err = errors.New("bucket gone")
	_, err = svc.UploadAttachment(context.Background(), "u1", "a.txt", "text/plain", []byte("hi"))
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestTypeFor(t *testing.T) {
	assert.Equal(t, models.TypeImage, TypeFor("image/webp"))
	assert.Equal(t, models.TypeVideo, TypeFor("video/mp4"))
	assert.Equal(t, models.TypeAudio, TypeFor("audio/ogg"))
	assert.Equal(t, models.TypeDocument, TypeFor("application/pdf"))
}
