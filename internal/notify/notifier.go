// Package notify fans monitor notifications out to all configured
// recipients, degrading to text-only delivery when evidence attachments
// cannot be sent.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Sender delivers to a single chat. Implemented by telegram.Client.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendDocuments(ctx context.Context, chatID, caption string, paths []string) error
}

// Notifier delivers monitor messages to every configured recipient.
// Recipients are independent: a failure for one never stops delivery to the
// others.
type Notifier struct {
	sender     Sender
	recipients []string
	log        zerolog.Logger
}

func NewNotifier(sender Sender, recipients []string, log zerolog.Logger) *Notifier {
	return &Notifier{
		sender:     sender,
		recipients: recipients,
		log:        log.With().Str("component", "notifier").Logger(),
	}
}

// Info sends a plain text message to all recipients.
func (n *Notifier) Info(ctx context.Context, text string) error {
	var errs []error
	for _, chat := range n.recipients {
		if err := n.sender.SendMessage(ctx, chat, text); err != nil {
			n.log.Error().Err(err).Str("chat_id", chat).Msg("Notification delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Alert sends the alert text with its screenshot evidence attached. When the
// attachments cannot be delivered to a recipient, the text still goes out to
// that recipient with an explicit note that evidence was dropped.
func (n *Notifier) Alert(ctx context.Context, text string, screenshots []string) error {
	var errs []error
	for _, chat := range n.recipients {
		err := n.sender.SendDocuments(ctx, chat, text, screenshots)
		if err == nil {
			continue
		}
		n.log.Warn().Err(err).Str("chat_id", chat).
			Msg("Evidence delivery failed, falling back to text-only alert")

		fallback := text + "\n\n(screenshot evidence could not be delivered)"
		if err := n.sender.SendMessage(ctx, chat, fallback); err != nil {
			n.log.Error().Err(err).Str("chat_id", chat).Msg("Notification delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
