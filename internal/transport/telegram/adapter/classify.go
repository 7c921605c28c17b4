package adapter

import (
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	kit "berealbot/internal/transport"
)

// classifySendErr wraps permanent per-recipient failures with
// kit.ErrRecipientUnreachable so callers can classify without importing
// telebot. Anything else passes through unchanged.
func classifySendErr(err error) error {
	if err == nil {
		return nil
	}
	if isUnreachable(err) {
		return fmt.Errorf("%w: %w", kit.ErrRecipientUnreachable, err)
	}
	return err
}

func isUnreachable(err error) bool {
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound):
		return true
	}
	// Any other 403 means the bot has no way to reach this recipient
	// (kicked from the group, can't initiate the conversation, ...).
	var teleErr *tele.Error
	if errors.As(err, &teleErr) && teleErr.Code == 403 {
		return true
	}
	return false
}
