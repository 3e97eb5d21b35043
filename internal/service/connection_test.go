package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"github.com/botbridge/whatsapp-bridge-service/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func transientErr(op string) error {
	return &provider.Error{Kind: provider.KindTransient, Op: op, Err: errors.New("connection refused")}
}

func rejectedErr(op string) error {
	return &provider.Error{Kind: provider.KindRejected, Op: op, Err: errors.New("instance does not exist")}
}

func TestPairFreshBotCreatesInstance(t *testing.T) {
	bots := newFakeBotRepo()
	gw := &fakeProvider{}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	qr, err := mgr.Pair(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "qr-created", qr)
	assert.Equal(t, 1, gw.createCalls)
	assert.Zero(t, gw.connectCalls)

	stored := bots.stored("bot-1")
	assert.Equal(t, domain.StatusConnecting, stored.Status)
	assert.Equal(t, qr, stored.QRCode)
	assert.NotEmpty(t, stored.InstanceName)
	assert.Empty(t, stored.PhoneNumber)
	assert.Nil(t, stored.ConnectedAt)
}

func TestPairReusesCachedInstance(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_cached",
		Status:       domain.StatusDisconnected,
	})
	gw := &fakeProvider{
		connectFn: func(name string) (string, error) { return "qr-reused", nil },
	}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	qr, err := mgr.Pair(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "qr-reused", qr)
	assert.Zero(t, gw.createCalls)
	assert.Equal(t, "bot_cached", bots.stored("bot-1").InstanceName)
}

func TestPairFallsBackToNewInstanceWhenCachedOneIsStale(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_stale",
		Status:       domain.StatusDisconnected,
	})
	gw := &fakeProvider{
		connectFn: func(name string) (string, error) { return "", rejectedErr("connect") },
	}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	qr, err := mgr.Pair(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "qr-created", qr)
	assert.Equal(t, 1, gw.connectCalls)
	assert.Equal(t, 1, gw.createCalls)

	stored := bots.stored("bot-1")
	assert.NotEqual(t, "bot_stale", stored.InstanceName)
	assert.Equal(t, domain.StatusConnecting, stored.Status)
}

func TestPairFailsWithoutPersistingWhenBothStepsFail(t *testing.T) {
	bots := newFakeBotRepo()
	gw := &fakeProvider{
		createFn: func(name string) (string, error) { return "", transientErr("create") },
	}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	_, err := mgr.Pair(context.Background(), "bot-1")
	require.Error(t, err)
	assert.Equal(t, domain.BotInstance{}, bots.stored("bot-1"))
}

func TestReconcileUnpairedBotIsDisconnected(t *testing.T) {
	bots := newFakeBotRepo()
	gw := &fakeProvider{}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	bot, err := mgr.Reconcile(context.Background(), "bot-unknown")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, bot.Status)
	assert.Zero(t, gw.stateCalls)
}

func TestReconcileTransientFailureDegradesWithoutPersisting(t *testing.T) {
	bots := newFakeBotRepo()
	connectedAt := time.Now().UTC().Add(-time.Hour)
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnected,
		PhoneNumber:  "5511999999999",
		ConnectedAt:  &connectedAt,
	})
	gw := &fakeProvider{
		stateFn: func(name string) (provider.StateInfo, error) {
			return provider.StateInfo{}, transientErr("connectionState")
		},
	}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	view, err := mgr.Reconcile(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, view.Status)
	assert.Empty(t, view.QRCode)

	// the stored record must survive a gateway blip untouched
	stored := bots.stored("bot-1")
	assert.Equal(t, domain.StatusConnected, stored.Status)
	assert.Equal(t, "5511999999999", stored.PhoneNumber)
}

func TestReconcileRejectedFailurePersistsDisconnect(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnected,
		PhoneNumber:  "5511999999999",
	})
	gw := &fakeProvider{
		stateFn: func(name string) (provider.StateInfo, error) {
			return provider.StateInfo{}, rejectedErr("connectionState")
		},
	}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	view, err := mgr.Reconcile(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, view.Status)

	stored := bots.stored("bot-1")
	assert.Equal(t, domain.StatusDisconnected, stored.Status)
	assert.Empty(t, stored.PhoneNumber)
	// instance name survives so the next pairing can try to reuse it
	assert.Equal(t, "bot_abc", stored.InstanceName)
}

func TestReconcileAppliesConnectedState(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnecting,
		QRCode:       "pending-qr",
	})
	gw := &fakeProvider{
		stateFn: func(name string) (provider.StateInfo, error) {
			return provider.StateInfo{
				State:       provider.StateConnected,
				OwnerJID:    "5511988887777:3@s.whatsapp.net",
				ProfileName: "Support Bot",
			}, nil
		},
	}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	bot, err := mgr.Reconcile(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, bot.Status)
	assert.Equal(t, "5511988887777", bot.PhoneNumber)
	assert.Equal(t, "Support Bot", bot.ProfileName)
	assert.Empty(t, bot.QRCode, "a connected bot never exposes a QR code")
	require.NotNil(t, bot.ConnectedAt)

	stored := bots.stored("bot-1")
	assert.Equal(t, domain.StatusConnected, stored.Status)
}

func TestReconcileConnectingWithoutQRRefetchesIt(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnecting,
	})
	gw := &fakeProvider{
		stateFn: func(name string) (provider.StateInfo, error) {
			return provider.StateInfo{State: provider.StateConnecting}, nil
		},
		connectFn: func(name string) (string, error) { return "fresh-qr", nil },
	}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	bot, err := mgr.Reconcile(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnecting, bot.Status)
	assert.Equal(t, "fresh-qr", bot.QRCode)
}

func TestApplyProviderStateConnectedWithoutJIDQueriesGateway(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnecting,
		QRCode:       "pending-qr",
	})
	gw := &fakeProvider{
		stateFn: func(name string) (provider.StateInfo, error) {
			return provider.StateInfo{
				State:       provider.StateConnected,
				OwnerJID:    "5511988887777@s.whatsapp.net",
				ProfileName: "Support Bot",
			}, nil
		},
	}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	// connection.update payloads sometimes omit wuid/profileName
	err := mgr.ApplyProviderState(context.Background(), "bot-1", provider.StateInfo{State: provider.StateConnected})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.stateCalls)

	stored := bots.stored("bot-1")
	assert.Equal(t, domain.StatusConnected, stored.Status)
	assert.Equal(t, "5511988887777", stored.PhoneNumber)
	assert.Equal(t, "Support Bot", stored.ProfileName)
}

func TestApplyProviderStateConnectedWithoutJIDDefersWhenGatewayIsDown(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnecting,
		QRCode:       "pending-qr",
	})
	gw := &fakeProvider{
		stateFn: func(name string) (provider.StateInfo, error) {
			return provider.StateInfo{}, transientErr("connectionState")
		},
	}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	err := mgr.ApplyProviderState(context.Background(), "bot-1", provider.StateInfo{State: provider.StateConnected})
	require.NoError(t, err)

	// never connected without a phone number; the next reconcile catches up
	stored := bots.stored("bot-1")
	assert.Equal(t, domain.StatusConnecting, stored.Status)
	assert.Empty(t, stored.PhoneNumber)
}

func TestApplyProviderStateConnectedWithoutProfileFallsBackToPhone(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnecting,
	})
	mgr := NewConnectionManager(bots, &fakeProvider{}, discardLogger())

	err := mgr.ApplyProviderState(context.Background(), "bot-1", provider.StateInfo{
		State:    provider.StateConnected,
		OwnerJID: "5511988887777@s.whatsapp.net",
	})
	require.NoError(t, err)

	stored := bots.stored("bot-1")
	assert.Equal(t, domain.StatusConnected, stored.Status)
	assert.Equal(t, "5511988887777", stored.ProfileName)
}

func TestApplyProviderStateDisconnectClearsPairingData(t *testing.T) {
	bots := newFakeBotRepo()
	now := time.Now().UTC()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnected,
		PhoneNumber:  "5511999999999",
		ProfileName:  "Support Bot",
		ConnectedAt:  &now,
	})
	mgr := NewConnectionManager(bots, &fakeProvider{}, discardLogger())

	err := mgr.ApplyProviderState(context.Background(), "bot-1", provider.StateInfo{State: provider.StateDisconnected})
	require.NoError(t, err)

	stored := bots.stored("bot-1")
	assert.Equal(t, domain.StatusDisconnected, stored.Status)
	assert.Empty(t, stored.PhoneNumber)
	assert.Empty(t, stored.ProfileName)
	assert.Nil(t, stored.ConnectedAt)
}

func TestStatusDegradesToDisconnectedOnError(t *testing.T) {
	bots := newFakeBotRepo()
	mgr := NewConnectionManager(bots, &fakeProvider{}, discardLogger())

	bot := mgr.Status(context.Background(), "bot-ghost")
	assert.Equal(t, "bot-ghost", bot.ID)
	assert.Equal(t, domain.StatusDisconnected, bot.Status)
}

func TestDisconnectLogsOutAndClearsLocally(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnected,
		PhoneNumber:  "5511999999999",
	})
	gw := &fakeProvider{}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	require.NoError(t, mgr.Disconnect(context.Background(), "bot-1"))
	assert.Equal(t, 1, gw.logoutCalls)
	assert.Zero(t, gw.deleteCalls)

	stored := bots.stored("bot-1")
	assert.Equal(t, domain.StatusDisconnected, stored.Status)
	assert.Empty(t, stored.InstanceName)
}

func TestDeleteSucceedsEvenWhenProviderFails(t *testing.T) {
	bots := newFakeBotRepo()
	bots.Save(context.Background(), &domain.BotInstance{
		ID:           "bot-1",
		InstanceName: "bot_abc",
		Status:       domain.StatusConnected,
	})
	gw := &fakeProvider{deleteErr: transientErr("delete")}
	mgr := NewConnectionManager(bots, gw, discardLogger())

	require.NoError(t, mgr.Delete(context.Background(), "bot-1"))
	assert.Equal(t, 1, gw.deleteCalls)
	assert.Empty(t, bots.stored("bot-1").InstanceName)
}

func TestDeleteUnknownBotReturnsNotFound(t *testing.T) {
	mgr := NewConnectionManager(newFakeBotRepo(), &fakeProvider{}, discardLogger())
	err := mgr.Delete(context.Background(), "bot-ghost")
	assert.ErrorIs(t, err, domain.ErrBotNotFound)
}

func TestPhoneFromJID(t *testing.T) {
	cases := map[string]string{
		"5511999999999@s.whatsapp.net":    "5511999999999",
		"5511999999999:12@s.whatsapp.net": "5511999999999",
		"5511999999999":                   "5511999999999",
		"":                                "",
	}
	for jid, want := range cases {
		assert.Equal(t, want, phoneFromJID(jid), "jid %q", jid)
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "5511999999999", normalizePhone("+55 (11) 99999-9999"))
	assert.Equal(t, "", normalizePhone("not a phone"))
}
