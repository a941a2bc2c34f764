package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/search"
	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
	"github.com/product-discovery/backend/pkg/logger"
)

const (
	callerLocal      = "caller"
	wsRequestTimeout = 10 * time.Second
)

type WebSocketHandler struct {
	engine *search.Engine
}

func NewWebSocketHandler(engine *search.Engine) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
	}
}

// Upgrade rejects plain HTTP requests and carries the caller identity over
// to the websocket connection.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals(callerLocal, callerFrom(c))
	return c.Next()
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	caller, _ := c.Locals(callerLocal).(models.Caller)
	logger.Debug("WebSocket search connection established", zap.String("user_id", caller.UserID))

	defer func() {
		c.Close()
		logger.Debug("WebSocket search connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if err := h.handleMessage(c, msg, caller); err != nil {
			logger.Warn("Failed to write WebSocket reply", zap.Error(err))
			break
		}
	}
}

type wsMessage struct {
	Type    string         `json:"type"`
	Request search.Request `json:"request"`
}

// jsonWriter is the write side of a websocket connection.
type jsonWriter interface {
	WriteJSON(v interface{}) error
}

// handleMessage answers one client message. Only write failures are returned.
func (h *WebSocketHandler) handleMessage(w jsonWriter, msg wsMessage, caller models.Caller) error {
	if msg.Type != "search" {
		return h.sendError(w, "unsupported message type", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsRequestTimeout)
	defer cancel()

	page, err := h.engine.Search(ctx, msg.Request, caller)
	if err != nil {
		var validation *apperr.ValidationError
		if errors.As(err, &validation) {
			return h.sendError(w, "validation failed", validation.Fields)
		}
		logger.Error("WebSocket search failed", zap.Error(err))
		return h.sendError(w, "Failed to search products", nil)
	}

	return w.WriteJSON(map[string]interface{}{
		"type":    "results",
		"results": page.Results,
		"total":   page.Total,
		"page":    page.Page,
		"limit":   page.Limit,
		"pages":   page.Pages,
	})
}

func (h *WebSocketHandler) sendError(w jsonWriter, errorMsg string, fields map[string]string) error {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}
	if len(fields) > 0 {
		msg["fields"] = fields
	}

	return w.WriteJSON(msg)
}
