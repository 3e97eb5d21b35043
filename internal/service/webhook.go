package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/botbridge/whatsapp-bridge-service/internal/cache"
	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"github.com/botbridge/whatsapp-bridge-service/internal/normalize"
	"github.com/botbridge/whatsapp-bridge-service/internal/provider"
	botRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/bot"
	convRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/conversation"
	msgRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/message"
	eventRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/webhookevent"
)

const eventClaimTTL = 24 * time.Hour

// WebhookRequest is one raw provider callback as delivered to the
// webhook endpoint.
type WebhookRequest struct {
	Event    string          `json:"event" binding:"required"`
	Instance string          `json:"instance" binding:"required"`
	Data     json.RawMessage `json:"data"`
}

// WebhookProcessor turns raw provider callbacks into durable,
// deduplicated conversation records. Process returns an error only when
// the audit log row could not be written; every downstream failure is
// contained in that row so the endpoint can always acknowledge.
type WebhookProcessor interface {
	Process(ctx context.Context, req WebhookRequest) error
}

type webhookProcessor struct {
	events        eventRepo.Repository
	bots          botRepo.Repository
	conversations convRepo.Repository
	messages      msgRepo.Repository
	connections   ConnectionManager
	cache         cache.Cache
	logger        *slog.Logger
}

func NewWebhookProcessor(
	events eventRepo.Repository,
	bots botRepo.Repository,
	conversations convRepo.Repository,
	messages msgRepo.Repository,
	connections ConnectionManager,
	c cache.Cache,
	logger *slog.Logger,
) WebhookProcessor {
	return &webhookProcessor{
		events:        events,
		bots:          bots,
		conversations: conversations,
		messages:      messages,
		connections:   connections,
		cache:         c,
		logger:        logger,
	}
}

// messageUpsertData is the data object of a messages.upsert event.
type messageUpsertData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string            `json:"pushName"`
	MessageType      string            `json:"messageType"`
	Message          normalize.Content `json:"message"`
	MessageTimestamp int64             `json:"messageTimestamp"`
}

// connectionUpdateData is the data object of a connection.update event.
type connectionUpdateData struct {
	State       string `json:"state"`
	WUID        string `json:"wuid"`
	ProfileName string `json:"profileName"`
}

func (p *webhookProcessor) Process(ctx context.Context, req WebhookRequest) error {
	evt := &domain.WebhookEvent{
		Event:           req.Event,
		InstanceName:    req.Instance,
		ProviderEventID: eventIdentity(req),
		Payload:         string(req.Data),
	}
	// the audit row must exist before any side effect
	if err := p.events.Append(ctx, evt); err != nil {
		return fmt.Errorf("append webhook event: %w", err)
	}

	outcome := p.dispatch(ctx, req, evt)

	errText := ""
	if outcome != nil {
		errText = outcome.Error()
		p.logger.Error("webhook processing failed",
			"event", req.Event, "instance", req.Instance, "error", errText)
	}
	if err := p.events.MarkProcessed(ctx, evt.ID, errText); err != nil {
		p.logger.Error("failed to mark webhook event processed",
			"eventId", evt.ID, "error", err.Error())
	}
	return nil
}

func (p *webhookProcessor) dispatch(ctx context.Context, req WebhookRequest, evt *domain.WebhookEvent) error {
	if evt.ProviderEventID != "" {
		claimed, err := p.cache.SetNX(ctx, "wa_event:"+evt.ProviderEventID, "1", eventClaimTTL)
		if err != nil {
			// cache down: proceed, the message unique index is the backstop
			p.logger.Warn("idempotency claim unavailable", "error", err.Error())
		} else if !claimed {
			return errors.New("duplicate delivery, skipped")
		}
	}

	bot, err := p.bots.GetByInstanceName(ctx, req.Instance)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownInstance) {
			// expected after a bot was deleted; logged, never escalated
			return err
		}
		return fmt.Errorf("resolve instance owner: %w", err)
	}

	switch req.Event {
	case "messages.upsert":
		return p.handleMessageUpsert(ctx, bot, req.Data)
	case "connection.update":
		return p.handleConnectionUpdate(ctx, bot, req.Data)
	default:
		// forward compatibility: unknown kinds are acknowledged, not errors
		p.logger.Info("ignoring webhook event kind", "event", req.Event, "instance", req.Instance)
		return nil
	}
}

func (p *webhookProcessor) handleMessageUpsert(ctx context.Context, bot *domain.BotInstance, data json.RawMessage) error {
	var d messageUpsertData
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("decode messages.upsert data: %w", err)
	}
	if d.Key.FromMe {
		// echo of our own outbound message, not conversation content
		return nil
	}

	phone := phoneFromJID(d.Key.RemoteJID)
	if phone == "" {
		return fmt.Errorf("message without a usable remote jid: %q", d.Key.RemoteJID)
	}

	res := normalize.Message(d.MessageType, d.Message)

	conv, err := p.conversations.FindOrCreate(ctx, bot.ID, phone, d.PushName, d.Key.RemoteJID)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	ts := time.Now().UTC()
	if d.MessageTimestamp > 0 {
		ts = time.Unix(d.MessageTimestamp, 0).UTC()
	}
	msg := &domain.Message{
		ConversationID:    conv.ID,
		Sender:            domain.SenderUser,
		Content:           res.Text,
		ProviderMessageID: d.Key.ID,
		ProviderType:      d.MessageType,
		Timestamp:         ts,
		Media:             res.Media,
	}
	created, err := p.messages.Create(ctx, msg)
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	if !created {
		p.logger.Info("duplicate provider message, skipped",
			"botId", bot.ID, "providerMessageId", d.Key.ID)
		return nil
	}

	// advanced only after the message row is durable
	if err := p.conversations.TouchLastMessage(ctx, conv.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("advance last message time: %w", err)
	}
	return nil
}

func (p *webhookProcessor) handleConnectionUpdate(ctx context.Context, bot *domain.BotInstance, data json.RawMessage) error {
	var d connectionUpdateData
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("decode connection.update data: %w", err)
	}
	info := provider.StateInfo{
		State:       provider.NormalizeState(d.State),
		OwnerJID:    d.WUID,
		ProfileName: d.ProfileName,
	}
	if err := p.connections.ApplyProviderState(ctx, bot.ID, info); err != nil {
		return fmt.Errorf("apply connection state: %w", err)
	}
	return nil
}

// eventIdentity derives the dedup key for an event. The gateway supplies
// no event-level id, but message events carry a stable provider message
// id; other kinds are processed without a claim (their handlers are
// idempotent on their own).
func eventIdentity(req WebhookRequest) string {
	if req.Event != "messages.upsert" || len(req.Data) == 0 {
		return ""
	}
	var d struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	if err := json.Unmarshal(req.Data, &d); err != nil || d.Key.ID == "" {
		return ""
	}
	return req.Event + ":" + req.Instance + ":" + d.Key.ID
}
