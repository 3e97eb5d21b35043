package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"github.com/botbridge/whatsapp-bridge-service/internal/provider"
	botRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/bot"
	"github.com/google/uuid"
)

// ConnectionManager owns the per-bot pairing state machine. Pairing,
// reconciliation and teardown for the same bot are serialized on a
// per-bot lock; different bots never block each other.
type ConnectionManager interface {
	Pair(ctx context.Context, botID string) (qr string, err error)
	Reconcile(ctx context.Context, botID string) (*domain.BotInstance, error)
	ApplyProviderState(ctx context.Context, botID string, info provider.StateInfo) error
	Status(ctx context.Context, botID string) *domain.BotInstance
	Disconnect(ctx context.Context, botID string) error
	Delete(ctx context.Context, botID string) error
}

type connectionManager struct {
	bots     botRepo.Repository
	provider provider.Client
	logger   *slog.Logger
	locks    map[string]*sync.Mutex
	locksMtx sync.Mutex
}

func NewConnectionManager(bots botRepo.Repository, providerClient provider.Client, logger *slog.Logger) ConnectionManager {
	return &connectionManager{
		bots:     bots,
		provider: providerClient,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *connectionManager) lock(botID string) *sync.Mutex {
	m.locksMtx.Lock()
	defer m.locksMtx.Unlock()
	mu, ok := m.locks[botID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[botID] = mu
	}
	return mu
}

// Pair moves a bot into connecting and returns a fresh QR code. When a
// provider instance name is already cached the manager first tries to
// reuse it; on any failure it falls back to creating a brand-new
// instance instead of failing the pairing request. Nothing is persisted
// when both steps fail.
func (m *connectionManager) Pair(ctx context.Context, botID string) (string, error) {
	mu := m.lock(botID)
	mu.Lock()
	defer mu.Unlock()

	bot, err := m.bots.Get(ctx, botID)
	if errors.Is(err, domain.ErrBotNotFound) {
		bot = &domain.BotInstance{ID: botID, Status: domain.StatusDisconnected}
	} else if err != nil {
		return "", fmt.Errorf("load bot instance: %w", err)
	}

	if bot.InstanceName != "" {
		qr, connectErr := m.provider.ConnectInstance(ctx, bot.InstanceName)
		if connectErr == nil && qr != "" {
			return qr, m.persistConnecting(ctx, bot, qr)
		}
		if connectErr == nil {
			// no QR means the instance may already be authenticated
			if info, stateErr := m.provider.ConnectionState(ctx, bot.InstanceName); stateErr == nil && info.State == provider.StateConnected {
				if err := m.applyStateLocked(ctx, bot, info); err != nil {
					return "", err
				}
				return "", nil
			}
		}
		m.logger.Warn("cached instance unusable, creating a new one",
			"botId", botID, "instance", bot.InstanceName, "error", errText(connectErr))
	}

	// second step is attempted unconditionally: a stale instance must
	// never fail the pairing request outright
	name := newInstanceName()
	qr, err := m.provider.CreateInstance(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}
	bot.InstanceName = name
	return qr, m.persistConnecting(ctx, bot, qr)
}

func (m *connectionManager) persistConnecting(ctx context.Context, bot *domain.BotInstance, qr string) error {
	bot.Status = domain.StatusConnecting
	bot.QRCode = qr
	bot.PhoneNumber = ""
	bot.ProfileName = ""
	bot.ConnectedAt = nil
	if err := m.bots.Save(ctx, bot); err != nil {
		return fmt.Errorf("persist pairing state: %w", err)
	}
	m.logger.Info("pairing started", "botId", bot.ID, "instance", bot.InstanceName)
	return nil
}

// Reconcile pulls the provider's authoritative state into the local
// record. It is idempotent and safe to call repeatedly; transient
// provider failures degrade to a disconnected view without touching the
// stored record.
func (m *connectionManager) Reconcile(ctx context.Context, botID string) (*domain.BotInstance, error) {
	mu := m.lock(botID)
	mu.Lock()
	defer mu.Unlock()

	bot, err := m.bots.Get(ctx, botID)
	if errors.Is(err, domain.ErrBotNotFound) {
		return &domain.BotInstance{ID: botID, Status: domain.StatusDisconnected}, nil
	} else if err != nil {
		return nil, fmt.Errorf("load bot instance: %w", err)
	}
	if bot.InstanceName == "" {
		return bot, nil
	}

	info, err := m.provider.ConnectionState(ctx, bot.InstanceName)
	if err != nil {
		if provider.IsRejected(err) {
			// instance is gone on the provider side: hard disconnect,
			// keeping the name so the next pairing can try to reuse it
			m.logger.Warn("provider rejected state query, marking disconnected",
				"botId", botID, "instance", bot.InstanceName, "error", err.Error())
			if bot.Status != domain.StatusDisconnected {
				bot.Status = domain.StatusDisconnected
				bot.QRCode = ""
				bot.PhoneNumber = ""
				bot.ProfileName = ""
				bot.ConnectedAt = nil
				if err := m.bots.Save(ctx, bot); err != nil {
					return nil, fmt.Errorf("persist disconnect: %w", err)
				}
			}
			return bot, nil
		}
		// transient: report disconnected, leave the record untouched
		m.logger.Warn("provider unreachable during reconciliation",
			"botId", botID, "instance", bot.InstanceName, "error", err.Error())
		view := *bot
		view.Status = domain.StatusDisconnected
		view.QRCode = ""
		return &view, nil
	}

	if err := m.applyStateLocked(ctx, bot, info); err != nil {
		return nil, err
	}
	return bot, nil
}

// ApplyProviderState feeds a webhook-reported connection state into the
// same reconciliation path, using the phone/profile from the event
// payload instead of an extra provider round-trip.
func (m *connectionManager) ApplyProviderState(ctx context.Context, botID string, info provider.StateInfo) error {
	mu := m.lock(botID)
	mu.Lock()
	defer mu.Unlock()

	bot, err := m.bots.Get(ctx, botID)
	if err != nil {
		return err
	}
	return m.applyStateLocked(ctx, bot, info)
}

// applyStateLocked is the single place provider state mutates the local
// record. No-op when the record already matches. Caller holds the
// per-bot lock.
func (m *connectionManager) applyStateLocked(ctx context.Context, bot *domain.BotInstance, info provider.StateInfo) error {
	switch info.State {
	case provider.StateConnected:
		phone := phoneFromJID(info.OwnerJID)
		if phone == "" {
			phone = bot.PhoneNumber
		}
		profile := info.ProfileName
		if profile == "" {
			profile = bot.ProfileName
		}
		if phone == "" {
			// connection.update events may omit the owner jid; ask the
			// gateway before recording the connection
			if st, err := m.provider.ConnectionState(ctx, bot.InstanceName); err == nil {
				phone = phoneFromJID(st.OwnerJID)
				if st.ProfileName != "" {
					profile = st.ProfileName
				}
			}
		}
		if phone == "" {
			// a connected record always carries the paired number; defer
			// the transition until the gateway reports it
			m.logger.Warn("connected state without owner jid, keeping previous status",
				"botId", bot.ID, "instance", bot.InstanceName)
			return nil
		}
		if profile == "" {
			profile = phone
		}
		if bot.Status == domain.StatusConnected && bot.QRCode == "" &&
			bot.PhoneNumber == phone && bot.ProfileName == profile {
			return nil
		}
		bot.Status = domain.StatusConnected
		bot.QRCode = ""
		bot.PhoneNumber = phone
		bot.ProfileName = profile
		if bot.ConnectedAt == nil {
			now := time.Now().UTC()
			bot.ConnectedAt = &now
		}
		m.logger.Info("bot connected", "botId", bot.ID, "instance", bot.InstanceName, "phone", phone)

	case provider.StateConnecting:
		if bot.Status == domain.StatusConnecting && bot.QRCode != "" {
			return nil
		}
		if bot.QRCode == "" {
			// a client polling status would otherwise see "connecting"
			// with nothing to scan
			qr, err := m.provider.ConnectInstance(ctx, bot.InstanceName)
			if err != nil || qr == "" {
				m.logger.Warn("unable to refresh qr code",
					"botId", bot.ID, "instance", bot.InstanceName, "error", errText(err))
				return nil
			}
			bot.QRCode = qr
		}
		bot.Status = domain.StatusConnecting
		bot.PhoneNumber = ""
		bot.ProfileName = ""
		bot.ConnectedAt = nil

	default:
		if bot.Status == domain.StatusDisconnected && bot.QRCode == "" && bot.PhoneNumber == "" {
			return nil
		}
		m.logger.Info("bot disconnected", "botId", bot.ID, "instance", bot.InstanceName)
		bot.Status = domain.StatusDisconnected
		bot.QRCode = ""
		bot.PhoneNumber = ""
		bot.ProfileName = ""
		bot.ConnectedAt = nil
	}

	if err := m.bots.Save(ctx, bot); err != nil {
		return fmt.Errorf("persist reconciled state: %w", err)
	}
	return nil
}

// Status is the read path used by the UI: it reconciles and never
// hard-fails, degrading to a disconnected view on any error.
func (m *connectionManager) Status(ctx context.Context, botID string) *domain.BotInstance {
	bot, err := m.Reconcile(ctx, botID)
	if err != nil {
		m.logger.Error("status reconciliation failed", "botId", botID, "error", err.Error())
		return &domain.BotInstance{ID: botID, Status: domain.StatusDisconnected}
	}
	return bot
}

// Disconnect logs the instance out (best effort) and wipes all pairing
// data locally.
func (m *connectionManager) Disconnect(ctx context.Context, botID string) error {
	return m.teardown(ctx, botID, false)
}

// Delete removes the instance on the provider and wipes all pairing
// data locally.
func (m *connectionManager) Delete(ctx context.Context, botID string) error {
	return m.teardown(ctx, botID, true)
}

func (m *connectionManager) teardown(ctx context.Context, botID string, deleteInstance bool) error {
	mu := m.lock(botID)
	mu.Lock()
	defer mu.Unlock()

	bot, err := m.bots.Get(ctx, botID)
	if err != nil {
		return err
	}

	if bot.InstanceName != "" {
		if deleteInstance {
			if err := m.provider.DeleteInstance(ctx, bot.InstanceName); err != nil {
				m.logger.Warn("provider delete failed, cleaning up locally",
					"botId", botID, "instance", bot.InstanceName, "error", err.Error())
			}
		} else {
			if err := m.provider.Logout(ctx, bot.InstanceName); err != nil {
				m.logger.Warn("provider logout failed, cleaning up locally",
					"botId", botID, "instance", bot.InstanceName, "error", err.Error())
			}
		}
	}

	bot.ClearPairing()
	if err := m.bots.Save(ctx, bot); err != nil {
		return fmt.Errorf("persist teardown: %w", err)
	}
	m.logger.Info("pairing removed", "botId", botID, "deleted", deleteInstance)
	return nil
}

// newInstanceName generates a collision-resistant provider instance
// slug, e.g. "bot_9f86d081a3b4".
func newInstanceName() string {
	return "bot_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
