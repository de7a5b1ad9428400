package api

import (
	"errors"

	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// errorHandler renders every failure as {success:false, message}.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		var (
			fe *fiber.Error
			ve *ValidationError
		)
		switch {
		case errors.As(err, &fe):
			return c.Status(fe.Code).JSON(fiber.Map{"success": false, "message": fe.Message})
		case errors.As(err, &ve):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": ve.Error(),
				"errors":  ve.Fields,
			})
		}

		kind := apperr.KindOf(err)
		if kind == apperr.KindInternal || kind == apperr.KindUpstream {
			logger.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("kind", kind.String()),
				zap.Error(err),
			)
		}
		return c.Status(kind.Status()).JSON(fiber.Map{"success": false, "message": apperr.PublicMessage(err)})
	}
}
