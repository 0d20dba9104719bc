// Package session implements the conversation session manager: it serializes
// each sender's load, mutate and persist cycle, bootstraps first contact with a
// welcome message, and drives the completion and delivery calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/whatsapp-assistant/internal/delivery"
	"github.com/capitalize-ai/whatsapp-assistant/internal/identity"
	"github.com/capitalize-ai/whatsapp-assistant/internal/keylock"
	"github.com/capitalize-ai/whatsapp-assistant/internal/llm"
	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
	"github.com/capitalize-ai/whatsapp-assistant/internal/store"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/logger"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/whatsapp-assistant/internal/session")

// Delivery kinds, used as metric labels.
const (
	kindWelcome = "welcome"
	kindReply   = "reply"
)

// Completer is the part of llm.Client the manager needs.
type Completer interface {
	Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error)
	Name() string
}

// EventPublisher receives persisted turns and failure events. Publishing is best effort.
type EventPublisher interface {
	PublishTurn(ctx context.Context, turn *model.TurnEvent) error
	PublishEvent(ctx context.Context, event *model.ConversationEvent) error
}

// Timeouts bound each external call made while handling one message.
type Timeouts struct {
	Store      time.Duration
	Completion time.Duration
	Delivery   time.Duration
}

// lockWait bounds how long a message queues behind others from the same sender:
// two full exchanges of the current holder and one waiter ahead.
func (t Timeouts) lockWait() time.Duration {
	return 2 * (3*t.Store + t.Completion)
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Store:      5 * time.Second,
		Completion: 30 * time.Second,
		Delivery:   10 * time.Second,
	}
}

// Result describes a handled inbound message.
type Result struct {
	Key         identity.Key
	IsNewSender bool
	Delivered   bool
	Reply       string
	Detail      string

	// DeliveryError wraps ErrDeliveryFailed when the reply was persisted but not sent.
	DeliveryError error
}

// Manager handles inbound messages. Collaborators are fixed at construction and
// the manager keeps no conversation state between calls.
type Manager struct {
	store      store.Store
	locker     keylock.Locker
	completer  Completer
	sender     delivery.Sender
	publisher  EventPublisher
	normalizer *identity.Normalizer
	logger     *logger.Logger
	timeouts   Timeouts
	now        func() time.Time

	systemPrompt string
	welcome      string
	model        string
	maxTokens    int
	temperature  float64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithNormalizer sets the dialing plan used to derive conversation keys.
func WithNormalizer(n *identity.Normalizer) Option {
	return func(m *Manager) {
		if n != nil {
			m.normalizer = n
		}
	}
}

// WithPrompts sets the system prompt and the welcome message. Empty values keep the defaults.
func WithPrompts(systemPrompt, welcome string) Option {
	return func(m *Manager) {
		if systemPrompt != "" {
			m.systemPrompt = systemPrompt
		}
		if welcome != "" {
			m.welcome = welcome
		}
	}
}

// WithTimeouts sets per-call timeouts. Zero fields keep the defaults.
func WithTimeouts(t Timeouts) Option {
	return func(m *Manager) {
		if t.Store > 0 {
			m.timeouts.Store = t.Store
		}
		if t.Completion > 0 {
			m.timeouts.Completion = t.Completion
		}
		if t.Delivery > 0 {
			m.timeouts.Delivery = t.Delivery
		}
	}
}

// WithPublisher enables turn and failure events.
func WithPublisher(p EventPublisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithModel sets the completion parameters. An empty name leaves the provider default.
func WithModel(name string, maxTokens int, temperature float64) Option {
	return func(m *Manager) {
		m.model = name
		m.maxTokens = maxTokens
		m.temperature = temperature
	}
}

// NewManager creates a session manager.
func NewManager(st store.Store, locker keylock.Locker, completer Completer, sender delivery.Sender, opts ...Option) *Manager {
	m := &Manager{
		store:        st,
		locker:       locker,
		completer:    completer,
		sender:       sender,
		normalizer:   identity.Default(),
		logger:       logger.Global(),
		timeouts:     DefaultTimeouts(),
		now:          time.Now,
		systemPrompt: DefaultSystemPrompt,
		welcome:      DefaultWelcomeMessage,
		temperature:  0.7,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// exchange is the outcome of the locked section.
type exchange struct {
	result *Result
	kind   string
	turns  []*model.TurnEvent
	events []*model.ConversationEvent
}

// HandleInbound processes one message from rawSender. The body is stored and
// sent to the model with surrounding whitespace removed. The returned error wraps one
// of ErrInvalidRequest, ErrStoreUnavailable or ErrCompletionFailed. Delivery
// failures do not fail the call; they are reported in Result.DeliveryError.
func (m *Manager) HandleInbound(ctx context.Context, rawSender, text string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "session.HandleInbound")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, m.fail(span, "invalid", fmt.Errorf("%w: empty message body", ErrInvalidRequest))
	}
	key, err := m.normalizer.Parse(rawSender)
	if err != nil {
		return nil, m.fail(span, "invalid", fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	span.SetAttributes(attribute.String("conversation.key", key.String()))
	log := m.logger.With(zap.String("conversation_key", key.String()))

	ex, err := m.exchange(ctx, key, text, log)
	if ex != nil {
		m.publish(ctx, ex, log)
	}
	if err != nil {
		outcome := "store_error"
		if errors.Is(err, ErrCompletionFailed) {
			outcome = "completion_error"
		}
		log.Error("inbound message failed", zap.String("outcome", outcome), zap.Error(err))
		return nil, m.fail(span, outcome, err)
	}

	res := ex.result
	if err := m.deliver(ctx, key, ex.kind, res.Reply); err != nil {
		res.DeliveryError = err
		log.Warn("delivery failed", zap.String("kind", ex.kind), zap.Error(err))
		m.publish(ctx, &exchange{events: []*model.ConversationEvent{
			m.newEvent(key, model.EventTypeDeliveryFailed, err),
		}}, log)
	} else {
		res.Delivered = true
	}

	outcome := "processed"
	if res.IsNewSender {
		outcome = "welcomed"
	}
	metrics.RecordInbound(outcome)
	span.SetAttributes(
		attribute.Bool("conversation.new_sender", res.IsNewSender),
		attribute.Bool("delivery.ok", res.Delivered),
	)
	log.Info("inbound message handled",
		zap.String("outcome", outcome),
		zap.Bool("delivered", res.Delivered),
	)
	return res, nil
}

// exchange runs the load, mutate and persist cycle inside the key's exclusive
// section. The section is released before the reply is delivered.
func (m *Manager) exchange(ctx context.Context, key identity.Key, text string, log *logger.Logger) (*exchange, error) {
	lockCtx, cancel := context.WithTimeout(ctx, m.timeouts.lockWait())
	defer cancel()

	waitStart := time.Now()
	unlock, err := m.locker.Lock(lockCtx, key.String())
	metrics.LockWaitDuration.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire conversation lock: %w", ErrStoreUnavailable, err)
	}
	defer unlock()

	conv, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}

	ex := &exchange{result: &Result{Key: key}}

	if conv.Len() == 0 {
		if conv == nil {
			conv = model.NewConversation(key.String(), m.clock())
		}
		ex.add(conv, model.Message{Role: model.RoleAssistant, Content: m.welcome, Timestamp: m.clock()})
		if err := m.persist(ctx, conv); err != nil {
			return nil, err
		}
		metrics.NewSendersTotal.Inc()
		log.Info("new sender, welcome recorded")
		ex.events = append(ex.events, m.newEvent(key, model.EventTypeWelcome, nil))

		ex.kind = kindWelcome
		ex.result.IsNewSender = true
		ex.result.Reply = m.welcome
		ex.result.Detail = DetailWelcome
		return ex, nil
	}

	ex.add(conv, model.Message{Role: model.RoleUser, Content: text, Timestamp: m.clock()})
	if err := m.persist(ctx, conv); err != nil {
		return nil, err
	}

	reply, err := m.complete(ctx, conv)
	if err != nil {
		ex.events = append(ex.events, m.newEvent(key, model.EventTypeCompletionFailed, err))
		return ex, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	ex.add(conv, model.Message{Role: model.RoleAssistant, Content: reply, Timestamp: m.clock()})
	if err := m.persist(ctx, conv); err != nil {
		// The user turn made it; the reply did not.
		ex.turns = ex.turns[:1]
		return ex, err
	}

	ex.kind = kindReply
	ex.result.Reply = reply
	ex.result.Detail = DetailProcessed
	return ex, nil
}

// add appends msg to conv and queues the matching turn event.
func (ex *exchange) add(conv *model.Conversation, msg model.Message) {
	conv.Append(msg)
	ex.turns = append(ex.turns, &model.TurnEvent{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ConversationKey: conv.Key,
		Index:           conv.Len() - 1,
		Message:         msg,
		PublishedAt:     msg.Timestamp,
	})
}

// load returns nil without error when the sender has no conversation yet. Any
// other store failure is surfaced; it is never mistaken for a new sender.
func (m *Manager) load(ctx context.Context, key identity.Key) (*model.Conversation, error) {
	ctx, span := tracer.Start(ctx, "session.load")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.timeouts.Store)
	defer cancel()

	conv, err := m.store.Get(ctx, key.String())
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordStoreOp("get", nil)
		return nil, nil
	}
	metrics.RecordStoreOp("get", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, fmt.Errorf("%w: failed to load conversation: %w", ErrStoreUnavailable, err)
	}
	return conv, nil
}

func (m *Manager) persist(ctx context.Context, conv *model.Conversation) error {
	ctx, span := tracer.Start(ctx, "session.persist")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.timeouts.Store)
	defer cancel()

	err := m.store.Upsert(ctx, conv)
	metrics.RecordStoreOp("upsert", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return fmt.Errorf("%w: failed to persist conversation: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (m *Manager) complete(ctx context.Context, conv *model.Conversation) (string, error) {
	ctx, span := tracer.Start(ctx, "session.complete")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.timeouts.Completion)
	defer cancel()

	start := time.Now()
	resp, err := m.completer.Complete(ctx, &llm.CompletionRequest{
		Model:       m.model,
		Messages:    BuildContext(m.systemPrompt, conv),
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
	})
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errEmptyCompletion
	}

	status, modelName, tokensIn, tokensOut := "success", m.model, 0, 0
	if err != nil {
		status = "error"
	} else {
		modelName, tokensIn, tokensOut = resp.Model, resp.TokensIn, resp.TokensOut
	}
	metrics.RecordCompletion(m.completer.Name(), modelName, status, time.Since(start).Seconds(), tokensIn, tokensOut)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", err
	}
	return resp.Content, nil
}

func (m *Manager) deliver(ctx context.Context, key identity.Key, kind, text string) error {
	ctx, span := tracer.Start(ctx, "session.deliver", trace.WithAttributes(attribute.String("delivery.kind", kind)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.timeouts.Delivery)
	defer cancel()

	err := m.sender.Send(ctx, key, text)
	metrics.RecordDelivery(kind, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// publish sends queued turns and events. Failures are logged and counted only.
func (m *Manager) publish(ctx context.Context, ex *exchange, log *logger.Logger) {
	if m.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeouts.Store)
	defer cancel()

	for _, turn := range ex.turns {
		err := m.publisher.PublishTurn(ctx, turn)
		metrics.RecordEventPublished(err)
		if err != nil {
			log.Warn("failed to publish turn", zap.Int("index", turn.Index), zap.Error(err))
		}
	}
	for _, event := range ex.events {
		err := m.publisher.PublishEvent(ctx, event)
		metrics.RecordEventPublished(err)
		if err != nil {
			log.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
		}
	}
}

// newEvent builds a stream event. cause is nil for events that record no failure.
func (m *Manager) newEvent(key identity.Key, typ model.EventType, cause error) *model.ConversationEvent {
	event := &model.ConversationEvent{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ConversationKey: key.String(),
		Type:            typ,
		CreatedAt:       m.clock(),
	}
	if cause != nil {
		event.Reason = cause.Error()
	}
	return event
}

func (m *Manager) fail(span trace.Span, outcome string, err error) error {
	metrics.RecordInbound(outcome)
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	return err
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}
