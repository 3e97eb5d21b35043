package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"github.com/botbridge/whatsapp-bridge-service/internal/provider"
	"github.com/google/uuid"
)

// fakeProvider lets each test script the gateway's behavior per call and
// records call counts for interaction assertions.
type fakeProvider struct {
	mtx sync.Mutex

	createFn  func(name string) (string, error)
	connectFn func(name string) (string, error)
	stateFn   func(name string) (provider.StateInfo, error)
	sendFn    func(name, phone, text string) (string, error)
	logoutErr error
	deleteErr error

	createCalls  int
	connectCalls int
	stateCalls   int
	sendCalls    int
	logoutCalls  int
	deleteCalls  int
}

func (f *fakeProvider) CreateInstance(ctx context.Context, name string) (string, error) {
	f.mtx.Lock()
	f.createCalls++
	fn := f.createFn
	f.mtx.Unlock()
	if fn == nil {
		return "qr-created", nil
	}
	return fn(name)
}

func (f *fakeProvider) ConnectInstance(ctx context.Context, name string) (string, error) {
	f.mtx.Lock()
	f.connectCalls++
	fn := f.connectFn
	f.mtx.Unlock()
	if fn == nil {
		return "qr-connected", nil
	}
	return fn(name)
}

func (f *fakeProvider) ConnectionState(ctx context.Context, name string) (provider.StateInfo, error) {
	f.mtx.Lock()
	f.stateCalls++
	fn := f.stateFn
	f.mtx.Unlock()
	if fn == nil {
		return provider.StateInfo{State: provider.StateDisconnected}, nil
	}
	return fn(name)
}

func (f *fakeProvider) SendText(ctx context.Context, name, phone, text string) (string, error) {
	f.mtx.Lock()
	f.sendCalls++
	fn := f.sendFn
	f.mtx.Unlock()
	if fn == nil {
		return "WAMID-" + uuid.NewString(), nil
	}
	return fn(name, phone, text)
}

func (f *fakeProvider) Logout(ctx context.Context, name string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.logoutCalls++
	return f.logoutErr
}

func (f *fakeProvider) DeleteInstance(ctx context.Context, name string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.deleteCalls++
	return f.deleteErr
}

// fakeBotRepo is an in-memory bot repository. Get returns copies so the
// stored record only changes through Save, mirroring the database.
type fakeBotRepo struct {
	mtx  sync.Mutex
	bots map[string]domain.BotInstance
}

func newFakeBotRepo() *fakeBotRepo {
	return &fakeBotRepo{bots: make(map[string]domain.BotInstance)}
}

func (f *fakeBotRepo) Get(ctx context.Context, botID string) (*domain.BotInstance, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	bot, ok := f.bots[botID]
	if !ok {
		return nil, domain.ErrBotNotFound
	}
	return &bot, nil
}

func (f *fakeBotRepo) GetByInstanceName(ctx context.Context, instanceName string) (*domain.BotInstance, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for _, bot := range f.bots {
		if bot.InstanceName == instanceName {
			b := bot
			return &b, nil
		}
	}
	return nil, domain.ErrUnknownInstance
}

func (f *fakeBotRepo) Save(ctx context.Context, bot *domain.BotInstance) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.bots[bot.ID] = *bot
	return nil
}

func (f *fakeBotRepo) stored(botID string) domain.BotInstance {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.bots[botID]
}

// fakeConvRepo emulates the (bot_id, phone_number) unique index: the
// first FindOrCreate for a pair creates, every later one returns the
// same row.
type fakeConvRepo struct {
	mtx     sync.Mutex
	byKey   map[string]*domain.Conversation
	created int
	touched map[string]time.Time
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		byKey:   make(map[string]*domain.Conversation),
		touched: make(map[string]time.Time),
	}
}

func (f *fakeConvRepo) FindOrCreate(ctx context.Context, botID, phoneNumber, name, remoteJID string) (*domain.Conversation, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	key := botID + "|" + phoneNumber
	if conv, ok := f.byKey[key]; ok {
		return conv, nil
	}
	conv := &domain.Conversation{
		ID:          uuid.NewString(),
		BotID:       botID,
		PhoneNumber: phoneNumber,
		Name:        name,
		Status:      domain.ConversationActive,
		RemoteJID:   remoteJID,
	}
	f.byKey[key] = conv
	f.created++
	return conv, nil
}

func (f *fakeConvRepo) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.touched[conversationID] = at
	return nil
}

func (f *fakeConvRepo) count() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.byKey)
}

// fakeMsgRepo emulates the provider_message_id unique index and the
// auto-increment id.
type fakeMsgRepo struct {
	mtx       sync.Mutex
	nextID    int64
	messages  []domain.Message
	byProvID  map[string]bool
	cachedIDs []string
}

func newFakeMsgRepo() *fakeMsgRepo {
	return &fakeMsgRepo{byProvID: make(map[string]bool)}
}

func (f *fakeMsgRepo) Create(ctx context.Context, msg *domain.Message) (bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if msg.ProviderMessageID == "" {
		msg.ProviderMessageID = uuid.NewString()
	}
	if f.byProvID[msg.ProviderMessageID] {
		return false, nil
	}
	f.nextID++
	msg.ID = f.nextID
	f.byProvID[msg.ProviderMessageID] = true
	f.messages = append(f.messages, *msg)
	return true, nil
}

func (f *fakeMsgRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMsgRepo) CacheSentMessage(ctx context.Context, providerMessageID string, sentTime time.Time) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.cachedIDs = append(f.cachedIDs, providerMessageID)
	return nil
}

func (f *fakeMsgRepo) count() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.messages)
}

// fakeEventRepo records the webhook audit log.
type fakeEventRepo struct {
	mtx    sync.Mutex
	nextID int64
	events []domain.WebhookEvent
	errs   map[int64]string

	appendErr error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{errs: make(map[int64]string)}
}

func (f *fakeEventRepo) Append(ctx context.Context, event *domain.WebhookEvent) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.nextID++
	event.ID = f.nextID
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeEventRepo) MarkProcessed(ctx context.Context, eventID int64, errText string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.errs[eventID] = errText
	return nil
}

func (f *fakeEventRepo) count() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.events)
}

// fakeCache implements SetNX with an in-memory map, ignoring TTLs.
type fakeCache struct {
	mtx   sync.Mutex
	store map[string]string

	setNXErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string]string)}
}

func (f *fakeCache) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.store[key] = val
	return nil
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	val, ok := f.store[key]
	if !ok {
		return "", errors.New("cache miss")
	}
	return val, nil
}

func (f *fakeCache) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.setNXErr != nil {
		return false, f.setNXErr
	}
	if _, ok := f.store[key]; ok {
		return false, nil
	}
	f.store[key] = val
	return true, nil
}
