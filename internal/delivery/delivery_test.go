package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/capitalize-ai/whatsapp-assistant/internal/identity"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/logger"
)

type fakeCreator struct {
	mu     sync.Mutex
	params []*twilioApi.CreateMessageParams
	err    error
	block  chan struct{}
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	return &twilioApi.ApiV2010Message{}, f.err
}

func TestTwilioConfig_Validate(t *testing.T) {
	valid := TwilioConfig{AccountSID: "AC123", AuthToken: "tok", WhatsAppNumber: "+14155238886"}
	assert.NoError(t, valid.Validate())

	mx := valid
	mx.WhatsAppNumber = "+5215512345678"
	assert.NoError(t, mx.Validate())

	bad := valid
	bad.WhatsAppNumber = "+447700900000"
	assert.Error(t, bad.Validate())

	err := TwilioConfig{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWILIO_ACCOUNT_SID")
	assert.Contains(t, err.Error(), "TWILIO_WHATSAPP_NUMBER")
}

func TestTwilioSender_Send(t *testing.T) {
	fake := &fakeCreator{}
	s := &TwilioSender{api: fake, from: "whatsapp:+14155238886"}

	err := s.Send(context.Background(), identity.Key("5215512345678"), "¡Hola!")
	require.NoError(t, err)

	require.Len(t, fake.params, 1)
	p := fake.params[0]
	require.NotNil(t, p.To)
	require.NotNil(t, p.From)
	require.NotNil(t, p.Body)
	assert.Equal(t, "whatsapp:+5215512345678", *p.To)
	assert.Equal(t, "whatsapp:+14155238886", *p.From)
	assert.Equal(t, "¡Hola!", *p.Body)
}

func TestTwilioSender_SplitsLongBodies(t *testing.T) {
	fake := &fakeCreator{}
	s := &TwilioSender{api: fake, from: "whatsapp:+14155238886"}

	long := strings.Repeat("palabra ", 500)
	require.NoError(t, s.Send(context.Background(), identity.Key("52155"), long))

	require.Greater(t, len(fake.params), 1)
	var rebuilt strings.Builder
	for _, p := range fake.params {
		assert.LessOrEqual(t, len([]rune(*p.Body)), MaxBodyLength)
		rebuilt.WriteString(*p.Body)
	}
	assert.Equal(t, long, rebuilt.String())
}

func TestTwilioSender_Error(t *testing.T) {
	boom := errors.New("21211 invalid To")
	s := &TwilioSender{api: &fakeCreator{err: boom}, from: "whatsapp:+1"}

	err := s.Send(context.Background(), identity.Key("52"), "hi")
	assert.ErrorIs(t, err, boom)
}

func TestTwilioSender_Timeout(t *testing.T) {
	fake := &fakeCreator{block: make(chan struct{})}
	defer close(fake.block)
	s := &TwilioSender{api: fake, from: "whatsapp:+1"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Send(ctx, identity.Key("52"), "hi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	chunks := splitMessage("aaaa bbbb cccc", 10)
	assert.Equal(t, []string{"aaaa bbbb ", "cccc"}, chunks)

	chunks = splitMessage(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)

	chunks = splitMessage(strings.Repeat("ñ", 12), 10)
	assert.Len(t, chunks, 2)
	assert.Equal(t, 10, len([]rune(chunks[0])))
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(logger.NewNop())
	assert.NoError(t, s.Send(context.Background(), identity.Key("52155"), "hola"))
}
