package api

import (
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/service"
	"github.com/dreamerumesh/connecTu-backend/internal/visibility"
	"github.com/gofiber/fiber/v2"
)

func (h *handler) listChats(c *fiber.Ctx) error {
	chats, err := h.chats.ListChats(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "chats": chats})
}

type historyQuery struct {
	Limit  int64  `query:"limit" validate:"omitempty,min=1,max=200"`
	Before string `query:"before" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func (h *handler) history(c *fiber.Ctx) error {
	var q historyQuery
	if err := bindQuery(c, &q); err != nil {
		return err
	}
	page := visibility.Page{Limit: q.Limit}
	if q.Before != "" {
		// validated above
		page.Before, _ = time.Parse(time.RFC3339, q.Before)
	}
	msgs, err := h.chats.History(c.UserContext(), currentUser(c).ID, c.Params("chatId"), page)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return c.JSON(fiber.Map{"success": true, "messages": msgs})
}

type sendMessageReq struct {
	ReceiverPhone string `json:"receiverPhone"`
	Content       string `json:"content"`
	Type          string `json:"type" validate:"omitempty,oneof=text image video audio document"`
}

func (h *handler) sendMessage(c *fiber.Ctx) error {
	var req sendMessageReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	msg, err := h.chats.SendMessage(c.UserContext(), currentUser(c).ID, service.SendInput{
		ReceiverPhone: req.ReceiverPhone,
		Content:       req.Content,
		Type:          models.MessageType(req.Type),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "message": msg})
}

type editMessageReq struct {
	MessageID  string `json:"messageId"`
	NewContent string `json:"newContent"`
}

func (h *handler) editMessage(c *fiber.Ctx) error {
	var req editMessageReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	msg, isLast, err := h.chats.EditMessage(c.UserContext(), currentUser(c).ID, req.MessageID, req.NewContent)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": msg, "isLastMessage": isLast})
}

type messageIDReq struct {
	MessageID string `json:"messageId" validate:"required"`
}

func (h *handler) deleteForMe(c *fiber.Ctx) error {
	var req messageIDReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if _, err := h.chats.DeleteForMe(c.UserContext(), currentUser(c).ID, req.MessageID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Message deleted for you", "messageId": req.MessageID})
}

func (h *handler) deleteForEveryone(c *fiber.Ctx) error {
	var req messageIDReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	msg, isLast, err := h.chats.DeleteForEveryone(c.UserContext(), currentUser(c).ID, req.MessageID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"message":       "Message deleted for everyone",
		"messageId":     msg.ID,
		"chatId":        msg.ChatID,
		"isLastMessage": isLast,
	})
}

type chatIDReq struct {
	ChatID string `json:"chatId" validate:"required"`
}

func (h *handler) clearChat(c *fiber.Ctx) error {
	var req chatIDReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	at, err := h.chats.ClearChat(c.UserContext(), currentUser(c).ID, req.ChatID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Chat cleared", "clearedAt": at})
}

type createChatReq struct {
	Phone        string `json:"phone" validate:"required"`
	Name         string `json:"name"`
	IsNewContact bool   `json:"isNewContact"`
}

func (h *handler) createChat(c *fiber.Ctx) error {
	var req createChatReq
	if err := bindBody(c, &req); err != nil {
		return err
	}
	entry, created, err := h.chats.CreateChat(c.UserContext(), currentUser(c).ID, service.CreateChatInput{
		Phone:        req.Phone,
		Name:         req.Name,
		IsNewContact: req.IsNewContact,
	})
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"success": true, "chat": entry})
}

func (h *handler) markRead(c *fiber.Ctx) error {
	n, err := h.chats.MarkChatRead(c.UserContext(), currentUser(c).ID, c.Params("chatId"), "")
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "updated": n})
}

func (h *handler) contacts(c *fiber.Ctx) error {
	list, err := h.chats.Contacts(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "contacts": list})
}
