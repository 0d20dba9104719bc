package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/capitalize-ai/whatsapp-assistant/internal/ctxutil"
	"github.com/capitalize-ai/whatsapp-assistant/internal/identity"
)

// MaxBodyLength is Twilio's limit for a single WhatsApp message body.
const MaxBodyLength = 1600

// TwilioConfig holds Twilio credentials and the sending WhatsApp number.
type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	WhatsAppNumber string
}

// Validate checks that every credential is present and the number is a +1 or +52 number.
func (c TwilioConfig) Validate() error {
	var missing []string
	if c.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if c.AuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if c.WhatsAppNumber == "" {
		missing = append(missing, "TWILIO_WHATSAPP_NUMBER")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing twilio settings: %s", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(c.WhatsAppNumber, "+1") && !strings.HasPrefix(c.WhatsAppNumber, "+52") {
		return errors.New("twilio WhatsApp number must start with +1 or +52")
	}
	return nil
}

// messageCreator is the slice of the Twilio REST API this package uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender delivers WhatsApp messages through the Twilio Messages API.
type TwilioSender struct {
	api  messageCreator
	from string
}

// NewTwilioSender creates a new Twilio sender.
func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioSender{
		api:  client.Api,
		from: "whatsapp:" + cfg.WhatsAppNumber,
	}, nil
}

// Send implements Sender. Bodies longer than MaxBodyLength go out as several
// messages in order; the first failure stops the rest.
func (s *TwilioSender) Send(ctx context.Context, key identity.Key, text string) error {
	to := key.WhatsAppAddress()

	for _, chunk := range splitMessage(text, MaxBodyLength) {
		if err := s.sendOne(ctx, to, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *TwilioSender) sendOne(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(to)
	params.SetBody(body)

	// The Twilio client has no context support; bound the call here.
	err := ctxutil.Run(ctx, func() error {
		_, err := s.api.CreateMessage(params)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send WhatsApp message: %w", err)
	}
	return nil
}

var _ Sender = (*TwilioSender)(nil)
