package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/whatsapp-assistant/internal/identity"
	"github.com/capitalize-ai/whatsapp-assistant/internal/keylock"
	"github.com/capitalize-ai/whatsapp-assistant/internal/llm"
	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
	"github.com/capitalize-ai/whatsapp-assistant/internal/store"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sender = "whatsapp:+5215512345678"

var senderKey = identity.Key("5215512345678")

type fakeCompleter struct {
	mu       sync.Mutex
	requests [][]llm.ChatMessage
	reply    func(ctx context.Context, req *llm.CompletionRequest) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req.Messages)
	f.mu.Unlock()

	if f.reply == nil {
		last := req.Messages[len(req.Messages)-1]
		return &llm.CompletionResponse{Content: "echo: " + last.Content, Model: "fake"}, nil
	}
	content, err := f.reply(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content, Model: "fake"}, nil
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type sentMessage struct {
	key  identity.Key
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, key identity.Key, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{key: key, text: text})
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// faultyStore wraps the memory store with injectable failures.
type faultyStore struct {
	*store.MemoryStore

	mu          sync.Mutex
	getErr      error
	upsertErr   error
	blockUpsert bool
	upserts     int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: store.NewMemoryStore()}
}

func (s *faultyStore) Get(ctx context.Context, key string) (*model.Conversation, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Upsert(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	s.upserts++
	err, block := s.upsertErr, s.blockUpsert
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	return s.MemoryStore.Upsert(ctx, conv)
}

func (s *faultyStore) set(fn func(s *faultyStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

type fakePublisher struct {
	mu     sync.Mutex
	turns  []*model.TurnEvent
	events []*model.ConversationEvent
}

func (f *fakePublisher) PublishTurn(_ context.Context, turn *model.TurnEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakePublisher) PublishEvent(_ context.Context, event *model.ConversationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type failingLocker struct{ err error }

func (l failingLocker) Lock(context.Context, string) (func(), error) { return nil, l.err }

type fixture struct {
	store     *faultyStore
	locks     *keylock.Map
	completer *fakeCompleter
	sender    *fakeSender
	publisher *fakePublisher
	manager   *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     newFaultyStore(),
		locks:     keylock.NewMap(),
		completer: &fakeCompleter{},
		sender:    &fakeSender{},
		publisher: &fakePublisher{},
	}
	base := []Option{
		WithLogger(logger.NewNop()),
		WithPublisher(f.publisher),
		WithTimeouts(Timeouts{Store: time.Second, Completion: time.Second, Delivery: time.Second}),
	}
	f.manager = NewManager(f.store, f.locks, f.completer, f.sender, append(base, opts...)...)
	return f
}

// seed stores a transcript of n alternating messages for key.
func (f *fixture) seed(t *testing.T, key identity.Key, n int) {
	t.Helper()
	conv := model.NewConversation(key.String(), time.Now().UTC())
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 0 {
			role = model.RoleAssistant
		}
		conv.Append(model.Message{Role: role, Content: fmt.Sprintf("m%d", i), Timestamp: time.Now().UTC()})
	}
	require.NoError(t, f.store.MemoryStore.Upsert(context.Background(), conv))
}

func (f *fixture) transcript(t *testing.T, key identity.Key) []model.Message {
	t.Helper()
	conv, err := f.store.MemoryStore.Get(context.Background(), key.String())
	require.NoError(t, err)
	return conv.Messages
}

func TestHandleInbound_FirstContactExample(t *testing.T) {
	f := newFixture(t)

	res, err := f.manager.HandleInbound(context.Background(), "0445512345678", "Hola")
	require.NoError(t, err)

	assert.True(t, res.IsNewSender)
	assert.True(t, res.Delivered)
	assert.Equal(t, identity.Key("52445512345678"), res.Key)
	assert.Equal(t, DetailWelcome, res.Detail)

	msgs := f.transcript(t, "52445512345678")
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
	assert.Equal(t, DefaultWelcomeMessage, msgs[0].Content)

	assert.Equal(t, []sentMessage{{key: "52445512345678", text: DefaultWelcomeMessage}}, f.sender.messages())
	assert.Zero(t, f.completer.calls(), "bootstrap never calls the model")
}

func TestHandleInbound_FirstContactPublishesWelcomeEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.HandleInbound(context.Background(), sender, "Hola")
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, model.EventTypeWelcome, f.publisher.events[0].Type)
	assert.Equal(t, senderKey.String(), f.publisher.events[0].ConversationKey)
	assert.Empty(t, f.publisher.events[0].Reason)
	require.Len(t, f.publisher.turns, 1)
	assert.Equal(t, model.RoleAssistant, f.publisher.turns[0].Message.Role)
}

func TestHandleInbound_StoresTrimmedBody(t *testing.T) {
	f := newFixture(t)
	f.seed(t, senderKey, 1)

	res, err := f.manager.HandleInbound(context.Background(), sender, "  ¿Sigues ahí?\n")
	require.NoError(t, err)
	assert.Equal(t, "echo: ¿Sigues ahí?", res.Reply)

	msgs := f.transcript(t, senderKey)
	require.Len(t, msgs, 3)
	assert.Equal(t, "¿Sigues ahí?", msgs[1].Content)

	req := f.completer.requests[0]
	assert.Equal(t, "¿Sigues ahí?", req[len(req)-1].Content)
}

func TestHandleInbound_WelcomeOnlyOnce(t *testing.T) {
	f := newFixture(t, WithPrompts("be brief", "hi there"))
	ctx := context.Background()

	first, err := f.manager.HandleInbound(ctx, sender, "Hola")
	require.NoError(t, err)
	assert.True(t, first.IsNewSender)

	second, err := f.manager.HandleInbound(ctx, sender, "¿Qué hora es?")
	require.NoError(t, err)
	assert.False(t, second.IsNewSender)
	assert.Equal(t, "echo: ¿Qué hora es?", second.Reply)
	assert.Equal(t, DetailProcessed, second.Detail)

	msgs := f.transcript(t, senderKey)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	assert.Equal(t, model.RoleAssistant, msgs[2].Role)

	sent := f.sender.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "hi there", sent[0].text)
	assert.Equal(t, "echo: ¿Qué hora es?", sent[1].text)

	req := f.completer.requests[0]
	assert.Equal(t, llm.ChatMessage{Role: "system", Content: "be brief"}, req[0])
}

func TestHandleInbound_ConcurrentSameSenderNoLostUpdate(t *testing.T) {
	f := newFixture(t)
	f.completer.reply = func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		// Widen the race window between load and persist.
		time.Sleep(2 * time.Millisecond)
		return "re: " + req.Messages[len(req.Messages)-1].Content, nil
	}
	f.seed(t, senderKey, 1)

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("msg-%d", i)
		g.Go(func() error {
			res, err := f.manager.HandleInbound(context.Background(), sender, text)
			if err != nil {
				return err
			}
			if res.IsNewSender {
				return errors.New("existing sender treated as new")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	msgs := f.transcript(t, senderKey)
	require.Len(t, msgs, 1+2*n)

	seen := make(map[string]bool)
	for i := 1; i < len(msgs); i += 2 {
		user, reply := msgs[i], msgs[i+1]
		require.Equal(t, model.RoleUser, user.Role)
		require.Equal(t, model.RoleAssistant, reply.Role)
		assert.Equal(t, "re: "+user.Content, reply.Content, "reply follows its own user turn")
		assert.False(t, seen[user.Content], "duplicate turn %q", user.Content)
		seen[user.Content] = true
	}
	assert.Len(t, seen, n)
	assert.Zero(t, f.locks.Len(), "lock entries are released")
}

func TestHandleInbound_ConcurrentFirstContactWelcomesOnce(t *testing.T) {
	f := newFixture(t)

	const n = 10
	var (
		mu      sync.Mutex
		newOnes int
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := f.manager.HandleInbound(context.Background(), sender, "Hola")
			if err != nil {
				return err
			}
			if res.IsNewSender {
				mu.Lock()
				newOnes++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, newOnes)

	welcomes := 0
	for _, msg := range f.transcript(t, senderKey) {
		if msg.Content == DefaultWelcomeMessage {
			welcomes++
		}
	}
	assert.Equal(t, 1, welcomes)
	assert.Len(t, f.transcript(t, senderKey), 1+2*(n-1))
}

func TestHandleInbound_ContextWindow(t *testing.T) {
	for _, existing := range []int{1, 5, 8, 9, 20} {
		t.Run(fmt.Sprintf("existing=%d", existing), func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, senderKey, existing)

			_, err := f.manager.HandleInbound(context.Background(), sender, "latest")
			require.NoError(t, err)

			require.Equal(t, 1, f.completer.calls())
			req := f.completer.requests[0]

			want := existing + 1
			if want > ContextWindow {
				want = ContextWindow
			}
			assert.Len(t, req, want+1)
			assert.Equal(t, "system", req[0].Role)
			assert.Equal(t, llm.ChatMessage{Role: "user", Content: "latest"}, req[len(req)-1])
		})
	}
}

func TestHandleInbound_CompletionFailureKeepsUserTurn(t *testing.T) {
	f := newFixture(t)
	f.seed(t, senderKey, 1)
	boom := errors.New("model overloaded")
	f.completer.reply = func(context.Context, *llm.CompletionRequest) (string, error) { return "", boom }

	res, err := f.manager.HandleInbound(context.Background(), sender, "hello?")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCompletionFailed)
	assert.ErrorIs(t, err, boom)

	msgs := f.transcript(t, senderKey)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	assert.Equal(t, "hello?", msgs[1].Content)
	assert.Empty(t, f.sender.messages())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, model.EventTypeCompletionFailed, f.publisher.events[0].Type)
	require.Len(t, f.publisher.turns, 1, "only the user turn was persisted")
	assert.Equal(t, 1, f.publisher.turns[0].Index)
}

func TestHandleInbound_CompletionTimeout(t *testing.T) {
	f := newFixture(t, WithTimeouts(Timeouts{Completion: 20 * time.Millisecond}))
	f.seed(t, senderKey, 1)
	f.completer.reply = func(ctx context.Context, _ *llm.CompletionRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := f.manager.HandleInbound(context.Background(), sender, "slow")
	assert.ErrorIs(t, err, ErrCompletionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, f.transcript(t, senderKey), 2)
}

func TestHandleInbound_EmptyCompletionFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, senderKey, 1)
	f.completer.reply = func(context.Context, *llm.CompletionRequest) (string, error) { return "  ", nil }

	_, err := f.manager.HandleInbound(context.Background(), sender, "hi")
	assert.ErrorIs(t, err, ErrCompletionFailed)
	assert.Len(t, f.transcript(t, senderKey), 2)
}

func TestHandleInbound_LoadFailureIsNotNewSender(t *testing.T) {
	f := newFixture(t)
	f.seed(t, senderKey, 3)
	f.store.set(func(s *faultyStore) { s.getErr = errors.New("connection reset") })

	res, err := f.manager.HandleInbound(context.Background(), sender, "hola")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.Empty(t, f.sender.messages(), "no welcome after a failed read")
	assert.Zero(t, f.store.upserts)
	assert.Len(t, f.transcript(t, senderKey), 3)
}

func TestHandleInbound_PersistTimeoutReleasesLock(t *testing.T) {
	f := newFixture(t, WithTimeouts(Timeouts{Store: 20 * time.Millisecond}))
	f.seed(t, senderKey, 1)
	f.store.set(func(s *faultyStore) { s.blockUpsert = true })

	_, err := f.manager.HandleInbound(context.Background(), sender, "first")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.locks.Len())

	f.store.set(func(s *faultyStore) { s.blockUpsert = false })

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.HandleInbound(context.Background(), sender, "second")
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("next message from the same sender is blocked")
	}
	assert.Len(t, f.transcript(t, senderKey), 3)
}

func TestHandleInbound_ReplyPersistFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, senderKey, 1)
	f.completer.reply = func(context.Context, *llm.CompletionRequest) (string, error) {
		f.store.set(func(s *faultyStore) { s.upsertErr = errors.New("read-only replica") })
		return "answer", nil
	}

	_, err := f.manager.HandleInbound(context.Background(), sender, "q")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, f.sender.messages(), "an unpersisted reply is never delivered")
	assert.Len(t, f.transcript(t, senderKey), 2)
	assert.Len(t, f.publisher.turns, 1)
}

func TestHandleInbound_DeliveryFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	f.seed(t, senderKey, 1)
	f.sender.err = errors.New("twilio 503")

	res, err := f.manager.HandleInbound(context.Background(), sender, "hola")
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.ErrorIs(t, res.DeliveryError, ErrDeliveryFailed)
	assert.Equal(t, "echo: hola", res.Reply)
	assert.Len(t, f.transcript(t, senderKey), 3)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, model.EventTypeDeliveryFailed, f.publisher.events[0].Type)
}

func TestHandleInbound_WelcomeDeliveryFailureKeepsWelcome(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("unreachable")

	res, err := f.manager.HandleInbound(context.Background(), sender, "hola")
	require.NoError(t, err)
	assert.True(t, res.IsNewSender)
	assert.False(t, res.Delivered)
	assert.Len(t, f.transcript(t, senderKey), 1)

	res, err = f.manager.HandleInbound(context.Background(), sender, "hola?")
	require.NoError(t, err)
	assert.False(t, res.IsNewSender, "welcome is not retried")
}

func TestHandleInbound_InvalidRequest(t *testing.T) {
	cases := []struct {
		name, from, body string
	}{
		{"empty body", sender, ""},
		{"blank body", sender, " \n\t"},
		{"no digits", "whatsapp:+", "hola"},
		{"empty sender", "", "hola"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.manager.HandleInbound(context.Background(), tc.from, tc.body)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Zero(t, f.store.Len())
			assert.Zero(t, f.store.upserts)
			assert.Empty(t, f.sender.messages())
		})
	}
}

func TestHandleInbound_LockFailure(t *testing.T) {
	lockErr := errors.New("redis down")
	m := NewManager(newFaultyStore(), failingLocker{err: lockErr}, &fakeCompleter{}, &fakeSender{},
		WithLogger(logger.NewNop()))

	_, err := m.HandleInbound(context.Background(), sender, "hola")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, lockErr)
}

func TestHandleInbound_PublishesTurnsAndUsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CST", -6*3600))
	f := newFixture(t, WithClock(func() time.Time { return fixed }))
	f.seed(t, senderKey, 1)

	_, err := f.manager.HandleInbound(context.Background(), sender, "hola")
	require.NoError(t, err)

	require.Len(t, f.publisher.turns, 2)
	assert.Equal(t, 1, f.publisher.turns[0].Index)
	assert.Equal(t, model.RoleUser, f.publisher.turns[0].Message.Role)
	assert.Equal(t, 2, f.publisher.turns[1].Index)
	assert.Equal(t, string(senderKey), f.publisher.turns[1].ConversationKey)

	msgs := f.transcript(t, senderKey)
	assert.Equal(t, time.UTC, msgs[2].Timestamp.Location())
	assert.True(t, fixed.Equal(msgs[2].Timestamp))
}

func TestHandleInbound_CustomNormalizer(t *testing.T) {
	n, err := identity.NewNormalizer("1", "0")
	require.NoError(t, err)
	f := newFixture(t, WithNormalizer(n))

	res, err := f.manager.HandleInbound(context.Background(), "whatsapp:+14155238886", "hi")
	require.NoError(t, err)
	assert.Equal(t, identity.Key("14155238886"), res.Key)
}
