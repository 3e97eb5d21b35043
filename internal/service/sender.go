package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aniladanir/retry"
	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"github.com/botbridge/whatsapp-bridge-service/internal/provider"
	botRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/bot"
	convRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/conversation"
	msgRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/message"
)

// MessageSender dispatches outbound text through the gateway, gated on
// the bot being connected. Nothing is persisted and no provider call is
// made when the precondition fails. It also serves conversation history,
// the read path chatbot backends poll.
type MessageSender interface {
	Send(ctx context.Context, botID, phoneNumber, text string) (providerMessageID string, err error)
	History(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

type messageSender struct {
	bots          botRepo.Repository
	conversations convRepo.Repository
	messages      msgRepo.Repository
	provider      provider.Client
	retrier       *retry.Retrier
	logger        *slog.Logger
}

func NewMessageSender(
	bots botRepo.Repository,
	conversations convRepo.Repository,
	messages msgRepo.Repository,
	providerClient provider.Client,
	maxRetryOnFail *int,
	logger *slog.Logger,
) (MessageSender, error) {
	// initialize retrier
	retrierOpts := make([]retry.Option, 0)
	if maxRetryOnFail != nil {
		retrierOpts = append(retrierOpts, retry.WithMaxAttemps(*maxRetryOnFail))
	}
	retrier, err := retry.New(retrierOpts...)
	if err != nil {
		return nil, fmt.Errorf("encountered error when initializing retrier: %w", err)
	}

	return &messageSender{
		bots:          bots,
		conversations: conversations,
		messages:      messages,
		provider:      providerClient,
		retrier:       retrier,
		logger:        logger,
	}, nil
}

func (s *messageSender) Send(ctx context.Context, botID, phoneNumber, text string) (string, error) {
	bot, err := s.bots.Get(ctx, botID)
	if err != nil {
		return "", err
	}
	if bot.Status != domain.StatusConnected {
		return "", domain.ErrNotPaired
	}

	phone := normalizePhone(phoneNumber)
	if phone == "" {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidPhone, phoneNumber)
	}

	sendLogger := s.logger.With(slog.String("botId", botID), slog.String("phone", phone))

	var (
		providerMessageID string
		sendErr           error
	)
	retryFunc := func(attempt int) (terminate bool) {
		providerMessageID, sendErr = s.provider.SendText(ctx, bot.InstanceName, phone, text)
		if sendErr == nil {
			return true
		}
		sendLogger.Error("provider send failed",
			"attempt", attempt, "error", sendErr.Error())
		// rejected sends never succeed on retry
		return provider.IsRejected(sendErr)
	}

	if ok := <-s.retrier.Retry(ctx, retryFunc, true); !ok || sendErr != nil {
		if sendErr == nil {
			sendErr = fmt.Errorf("send aborted")
		}
		return "", fmt.Errorf("send text: %w", sendErr)
	}

	// record the outbound message only after the provider accepted it
	conv, err := s.conversations.FindOrCreate(ctx, botID, phone, "", "")
	if err != nil {
		return providerMessageID, fmt.Errorf("resolve conversation: %w", err)
	}
	msg := &domain.Message{
		ConversationID:    conv.ID,
		Sender:            domain.SenderBot,
		Content:           text,
		ProviderMessageID: providerMessageID,
		ProviderType:      "conversation",
		Timestamp:         time.Now().UTC(),
	}
	if _, err := s.messages.Create(ctx, msg); err != nil {
		return providerMessageID, fmt.Errorf("persist outbound message: %w", err)
	}
	if err := s.conversations.TouchLastMessage(ctx, conv.ID, time.Now().UTC()); err != nil {
		return providerMessageID, fmt.Errorf("advance last message time: %w", err)
	}
	if err := s.messages.CacheSentMessage(ctx, providerMessageID, time.Now().UTC()); err != nil {
		sendLogger.Error("failed to cache sent message", "error", err.Error())
	}

	sendLogger.Info("message sent", "providerMessageId", providerMessageID)
	return providerMessageID, nil
}

// History returns a conversation's messages oldest first.
func (s *messageSender) History(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	return s.messages.ListByConversation(ctx, conversationID, limit)
}
