package api

import (
	"github.com/dreamerumesh/connecTu-backend/internal/service"
	"github.com/gofiber/fiber/v2"
)

func (h *handler) me(c *fiber.Ctx) error {
	u, err := h.users.Profile(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "user": u})
}

type updateProfileReq struct {
	Phone      *string `json:"phone"`
	Name       *string `json:"name"`
	About      *string `json:"about"`
	ProfilePic *string `json:"profilePic"`
}

func (h *handler) updateMe(c *fiber.Ctx) error {
	var req updateProfileReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	u, err := h.users.UpdateProfile(c.UserContext(), currentUser(c).ID, service.ProfileInput{
		Phone:      req.Phone,
		Name:       req.Name,
		About:      req.About,
		ProfilePic: req.ProfilePic,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Profile updated successfully", "user": u})
}

type settingsReq struct {
	ReadReceipts *bool `json:"readReceipts"`
}

func (h *handler) updateSettings(c *fiber.Ctx) error {
	var req settingsReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	u, err := h.users.UpdateSettings(c.UserContext(), currentUser(c).ID, req.ReadReceipts)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "settings": u.Settings})
}

type statusReq struct {
	IsOnline *bool `json:"isOnline"`
}

func (h *handler) updateStatus(c *fiber.Ctx) error {
	var req statusReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	u, err := h.users.SetOnlineStatus(c.UserContext(), currentUser(c).ID, req.IsOnline)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "isOnline": u.IsOnline, "lastSeen": u.LastSeen})
}

func (h *handler) presence(c *fiber.Ctx) error {
	p, err := h.users.Presence(c.UserContext(), c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "isOnline": p.IsOnline, "lastSeen": p.LastSeen})
}

type findByPhonesReq struct {
	Phones []string `json:"phones"`
}

func (h *handler) findByPhones(c *fiber.Ctx) error {
	var req findByPhonesReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	users, err := h.users.FindByPhones(c.UserContext(), req.Phones)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":        true,
		"users":          users,
		"count":          len(users),
		"requestedCount": len(req.Phones),
	})
}

func (h *handler) uploadAvatar(c *fiber.Ctx) error {
	if h.media == nil {
		return errMediaDisabled
	}
	data, _, err := readUpload(c)
	if err != nil {
		return err
	}
	url, err := h.media.UploadAvatar(c.UserContext(), currentUser(c).ID, data)
	if err != nil {
		return err
	}
	u, err := h.users.SetAvatar(c.UserContext(), currentUser(c).ID, url)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "profilePic": url, "user": u})
}
