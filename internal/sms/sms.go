// Package sms carries conversations over Twilio text messages: parsing and
// authenticating inbound webhooks, rendering TwiML replies, and sending
// messages outside a webhook exchange.
package sms

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	twilio "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// ThreadID maps a sender number to its conversation thread.
func ThreadID(from string) string {
	return "sms_" + from
}

// Sender delivers a text message.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioOpts holds parameters for NewTwilio.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Twilio sends messages through the Twilio REST API.
type Twilio struct {
	client *twilio.RestClient
	from   string
}

// NewTwilio creates a Twilio sender.
func NewTwilio(opts TwilioOpts) (*Twilio, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" {
		return nil, fmt.Errorf("sms: account sid and auth token are required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("sms: from number is required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return &Twilio{client: client, from: opts.From}, nil
}

// Send posts a message. The Twilio client has no context support, so ctx is
// only checked before the request.
func (t *Twilio) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("sms: send to %s: %w", to, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	log.Info().Str("to", to).Str("sid", sid).Msg("sms: message sent")
	return nil
}

// Sent is a message captured by Recorder.
type Sent struct {
	To   string
	Body string
}

// Recorder is a Sender that keeps messages in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

func (r *Recorder) Send(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{To: to, Body: body})
	return nil
}

// Messages returns everything sent so far.
func (r *Recorder) Messages() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Inbound is a received text message.
type Inbound struct {
	MessageSID string
	From       string
	To         string
	Body       string
}

// ParseInbound reads a Twilio webhook form. It also returns the raw form
// parameters for signature validation.
func ParseInbound(r *http.Request) (Inbound, map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return Inbound{}, nil, fmt.Errorf("sms: parse form: %w", err)
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	in := Inbound{
		MessageSID: params["MessageSid"],
		From:       params["From"],
		To:         params["To"],
		Body:       strings.TrimSpace(params["Body"]),
	}
	if in.From == "" {
		return Inbound{}, params, fmt.Errorf("sms: missing From")
	}
	return in, params, nil
}

// Validator checks X-Twilio-Signature headers.
type Validator struct {
	rv twclient.RequestValidator
}

// NewValidator returns a Validator for the account's auth token.
func NewValidator(authToken string) *Validator {
	return &Validator{rv: twclient.NewRequestValidator(authToken)}
}

// Valid reports whether signature matches the request URL and form params.
func (v *Validator) Valid(url string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.rv.Validate(url, params, signature)
}

// Reply renders a TwiML messaging response carrying bodies in one message.
func Reply(bodies ...string) (string, error) {
	var parts []string
	for _, b := range bodies {
		if s := strings.TrimSpace(b); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return twiml.Messages(nil)
	}
	msg := &twiml.MessagingMessage{Body: strings.Join(parts, "\n\n")}
	out, err := twiml.Messages([]twiml.Element{msg})
	if err != nil {
		return "", fmt.Errorf("sms: render twiml: %w", err)
	}
	return out, nil
}
