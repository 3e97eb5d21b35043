package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	_ "github.com/botbridge/whatsapp-bridge-service/docs"
	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"github.com/botbridge/whatsapp-bridge-service/internal/provider"
	"github.com/botbridge/whatsapp-bridge-service/internal/service"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Handler struct {
	connections service.ConnectionManager
	webhooks    service.WebhookProcessor
	sender      service.MessageSender
	logger      *slog.Logger
	server      *http.Server
}

// @title WhatsApp Bridge API
// @version 1.0
// @description Bridge between chatbot backends and WhatsApp via an Evolution-compatible gateway
// @host localhost:6060
// @BasePath /
func NewHttpHandler(
	addr string,
	connections service.ConnectionManager,
	webhooks service.WebhookProcessor,
	sender service.MessageSender,
	logger *slog.Logger,
) *Handler {
	h := &Handler{
		connections: connections,
		webhooks:    webhooks,
		sender:      sender,
		logger:      logger,
	}

	// create router
	router := gin.Default()

	// register routes
	router.POST("/webhook", h.receiveWebhook)
	router.POST("/bots/:id/pair", h.pairBot)
	router.GET("/bots/:id/status", h.botStatus)
	router.POST("/bots/:id/disconnect", h.disconnectBot)
	router.DELETE("/bots/:id", h.deleteBot)
	router.POST("/messages/send", h.sendMessage)
	router.GET("/conversations/:id/messages", h.conversationMessages)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// create http server
	h.server = &http.Server{
		Addr:    addr,
		Handler: router.Handler(),
	}

	return h
}

func (h *Handler) Run() error {
	return h.server.ListenAndServe()
}

func (h *Handler) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

type pairResponse struct {
	BotID  string `json:"botId"`
	Status string `json:"status"`
	QRCode string `json:"qrcode,omitempty"`
}

type statusResponse struct {
	BotID       string `json:"botId"`
	Status      string `json:"status"`
	QRCode      string `json:"qrcode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	ProfileName string `json:"profileName,omitempty"`
	ConnectedAt string `json:"connectedAt,omitempty"`
}

type sendMessageRequest struct {
	BotID       string `json:"botId" binding:"required"`
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Text        string `json:"text" binding:"required"`
}

type sendMessageResponse struct {
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ReceiveWebhook godoc
// @Summary Receive a gateway webhook event
// @Description Logs and processes a provider callback. Always acknowledges once the event is durably logged.
// @Tags Webhook
// @Accept json
// @Param event body service.WebhookRequest true "provider event"
// @Success 200
// @Failure 400 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /webhook [post]
func (h *Handler) receiveWebhook(c *gin.Context) {
	var req service.WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := h.webhooks.Process(c.Request.Context(), req); err != nil {
		// only the audit log write can fail here; the gateway should redeliver
		h.logger.Error("webhook could not be logged", "error", err.Error())
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "event could not be logged"})
		return
	}
	c.Status(http.StatusOK)
}

// PairBot godoc
// @Summary Start pairing a bot with WhatsApp
// @Description Creates or reuses a gateway instance and returns a QR code to scan
// @Tags Bots
// @Produce json
// @Param id path string true "bot id"
// @Success 200 {object} pairResponse
// @Failure 502 {object} errorResponse
// @Router /bots/{id}/pair [post]
func (h *Handler) pairBot(c *gin.Context) {
	botID := c.Param("id")
	qr, err := h.connections.Pair(c.Request.Context(), botID)
	if err != nil {
		h.logger.Error("pairing failed", "botId", botID, "error", err.Error())
		c.JSON(http.StatusBadGateway, errorResponse{Error: "could not start pairing"})
		return
	}
	status := h.connections.Status(c.Request.Context(), botID)
	c.JSON(http.StatusOK, pairResponse{
		BotID:  botID,
		Status: string(status.Status),
		QRCode: qr,
	})
}

// BotStatus godoc
// @Summary Get the live connection status of a bot
// @Description Reconciles against the gateway and returns the current state, including a QR code while pairing
// @Tags Bots
// @Produce json
// @Param id path string true "bot id"
// @Success 200 {object} statusResponse
// @Router /bots/{id}/status [get]
func (h *Handler) botStatus(c *gin.Context) {
	botID := c.Param("id")
	bot := h.connections.Status(c.Request.Context(), botID)

	resp := statusResponse{
		BotID:       botID,
		Status:      string(bot.Status),
		QRCode:      bot.QRCode,
		PhoneNumber: bot.PhoneNumber,
		ProfileName: bot.ProfileName,
	}
	if bot.ConnectedAt != nil {
		resp.ConnectedAt = bot.ConnectedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	c.JSON(http.StatusOK, resp)
}

// DisconnectBot godoc
// @Summary Disconnect a bot from WhatsApp
// @Description Logs the gateway instance out and clears local pairing state
// @Tags Bots
// @Param id path string true "bot id"
// @Success 200
// @Failure 404 {object} errorResponse
// @Router /bots/{id}/disconnect [post]
func (h *Handler) disconnectBot(c *gin.Context) {
	botID := c.Param("id")
	if err := h.connections.Disconnect(c.Request.Context(), botID); err != nil {
		h.respondServiceError(c, botID, err)
		return
	}
	c.Status(http.StatusOK)
}

// DeleteBot godoc
// @Summary Delete a bot's WhatsApp pairing
// @Description Removes the gateway instance and clears local pairing state
// @Tags Bots
// @Param id path string true "bot id"
// @Success 200
// @Failure 404 {object} errorResponse
// @Router /bots/{id} [delete]
func (h *Handler) deleteBot(c *gin.Context) {
	botID := c.Param("id")
	if err := h.connections.Delete(c.Request.Context(), botID); err != nil {
		h.respondServiceError(c, botID, err)
		return
	}
	c.Status(http.StatusOK)
}

// SendMessage godoc
// @Summary Send a text message through a connected bot
// @Tags Messages
// @Accept json
// @Produce json
// @Param message body sendMessageRequest true "outbound message"
// @Success 200 {object} sendMessageResponse
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Failure 502 {object} errorResponse
// @Router /messages/send [post]
func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	msgID, err := h.sender.Send(c.Request.Context(), req.BotID, req.PhoneNumber, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBotNotFound):
			c.JSON(http.StatusNotFound, errorResponse{Error: "bot not found"})
		case errors.Is(err, domain.ErrNotPaired):
			c.JSON(http.StatusConflict, errorResponse{Error: "bot is not connected to whatsapp"})
		case errors.Is(err, domain.ErrInvalidPhone):
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid phone number"})
		case provider.IsTransient(err) || provider.IsRejected(err):
			h.logger.Error("gateway rejected outbound message",
				"botId", req.BotID, "error", err.Error())
			c.JSON(http.StatusBadGateway, errorResponse{Error: "gateway send failed"})
		default:
			// post-send persistence failures land here; never echo them
			h.logger.Error("outbound send failed after gateway accept",
				"botId", req.BotID, "error", err.Error())
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, sendMessageResponse{MessageID: msgID})
}

// ConversationMessages godoc
// @Summary Get the message history of a conversation
// @Description Returns messages oldest first, optionally capped by limit
// @Tags Messages
// @Produce json
// @Param id path string true "conversation id"
// @Param limit query int false "max messages to return"
// @Success 200 {array} domain.Message
// @Failure 500 {object} errorResponse
// @Router /conversations/{id}/messages [get]
func (h *Handler) conversationMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	msgs, err := h.sender.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Error("history query failed", "conversationId", c.Param("id"), "error", err.Error())
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) respondServiceError(c *gin.Context, botID string, err error) {
	if errors.Is(err, domain.ErrBotNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "bot not found"})
		return
	}
	h.logger.Error("request failed", "botId", botID, "error", err.Error())
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
