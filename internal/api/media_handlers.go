package api

import (
	"io"
	"mime/multipart"

	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/gofiber/fiber/v2"
)

var errMediaDisabled = fiber.NewError(fiber.StatusServiceUnavailable, "Media uploads are not configured")

// readUpload returns the contents of the multipart field "file".
func readUpload(c *fiber.Ctx) ([]byte, *multipart.FileHeader, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, nil, apperr.Validation("file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	return data, fh, nil
}

func (h *handler) uploadMedia(c *fiber.Ctx) error {
	if h.media == nil {
		return errMediaDisabled
	}
	data, fh, err := readUpload(c)
	if err != nil {
		return err
	}
	att, err := h.media.UploadAttachment(c.UserContext(), currentUser(c).ID, fh.Filename, fh.Header.Get(fiber.HeaderContentType), data)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "attachment": att})
}
