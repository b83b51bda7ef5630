package tools

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/sms"
)

// SendConfirmation is the name of the confirmation tool.
const SendConfirmation = "send_confirmation"

// Caller identifies who a turn is being run for.
type Caller struct {
	Channel string
	UserID  string
}

type callerKey struct{}

// WithCaller attaches the caller to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// RegisterConfirmation adds send_confirmation to r. The confirmation goes by
// text to phone_number when given, else to the caller when the conversation
// itself is over SMS. Without a sender or a number it is only logged.
func RegisterConfirmation(r *Registry, sender sms.Sender) error {
	return r.Register(Tool{
		Name:        SendConfirmation,
		Description: "Send the user a confirmation of a booked, changed, or cancelled appointment.",
		Parameters: object([]string{"message"}, map[string]*openapi3.Schema{
			"message":      str("Confirmation text to send."),
			"phone_number": str("Destination phone number in E.164 format. Optional."),
		}),
		Call: func(ctx context.Context, a Args) (string, error) {
			msg := a.String("message")
			if msg == "" {
				return "", fmt.Errorf("message is required")
			}
			to := a.String("phone_number")
			if to == "" {
				if c, ok := CallerFrom(ctx); ok && c.Channel == "sms" {
					to = c.UserID
				}
			}
			if sender == nil || to == "" {
				log.Info().Str("confirmation", msg).Msg("tools: confirmation recorded")
				return "Confirmation recorded: " + msg, nil
			}
			if err := sender.Send(ctx, to, msg); err != nil {
				return "", err
			}
			return fmt.Sprintf("Confirmation sent to %s.", to), nil
		},
	}, Safe)
}
