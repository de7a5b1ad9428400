package api

import (
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/metrics"
	"github.com/dreamerumesh/connecTu-backend/internal/service"
	"github.com/gofiber/fiber/v2"
)

type sendOTPReq struct {
	Phone string `json:"phone"`
}

func (h *handler) sendOTP(c *fiber.Ctx) error {
	var req sendOTPReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	sessionID, err := h.auth.SendOTP(c.UserContext(), req.Phone)
	if err != nil {
		metrics.OTPSent.WithLabelValues("error").Inc()
		return err
	}
	metrics.OTPSent.WithLabelValues("ok").Inc()
	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "OTP sent successfully",
		"sessionId": sessionID,
	})
}

type verifyOTPReq struct {
	Phone     string `json:"phone"`
	OTP       string `json:"otp"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name" validate:"omitempty,max=50"`
}

func (h *handler) verifyOTP(c *fiber.Ctx) error {
	var req verifyOTPReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	res, err := h.auth.VerifyOTP(c.UserContext(), service.VerifyInput{
		Phone:     req.Phone,
		OTP:       req.OTP,
		SessionID: req.SessionID,
		Name:      req.Name,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"message":   res.Message,
		"isNewUser": res.IsNewUser,
		"token":     res.Token,
		"user":      res.User,
	})
}

func (h *handler) logout(c *fiber.Ctx) error {
	u := currentUser(c)
	var (
		jti string
		exp time.Time
	)
	if cl := currentClaims(c); cl != nil {
		jti = cl.ID
		if cl.ExpiresAt != nil {
			exp = cl.ExpiresAt.Time
		}
	}
	if err := h.users.Logout(c.UserContext(), u.ID, jti, exp); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Logged out successfully"})
}
