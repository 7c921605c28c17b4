// Package dispatch sends single messages to single recipients, absorbing
// delivery failures so one bad recipient never aborts a fan-out.
package dispatch

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"berealbot/internal/registry"
	"berealbot/internal/transport"
	logx "berealbot/pkg/logx"
)

// Outcome classifies one delivery attempt.
type Outcome int

const (
	Delivered Outcome = iota
	// Unreachable means the recipient is permanently gone (blocked the bot,
	// deactivated, chat deleted). The stale registry entry is removed as a
	// side effect; this is cleanup, not an error.
	Unreachable
	// Failed is any other transport failure. Reported, never retried.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Unreachable:
		return "unreachable"
	default:
		return "failed"
	}
}

// Dispatcher performs exactly one delivery attempt per call and never
// propagates an error to the caller. Callers inspect the Outcome only when
// they need to know whether anything got through (e.g. to update destination
// activity).
type Dispatcher struct {
	adapter transport.Adapter
	reg     *registry.Registry
	limiter *rate.Limiter
	log     logx.Logger
}

// DefaultRatePerSec bounds outbound sends; Telegram starts throttling bots
// around 30 messages per second.
const DefaultRatePerSec = 20

func New(adapter transport.Adapter, reg *registry.Registry, ratePerSec int, log logx.Logger) *Dispatcher {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		adapter: adapter,
		reg:     reg,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}
}

// SendText delivers a text message.
func (d *Dispatcher) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) Outcome {
	return d.attempt(ctx, chatID, "text", func() error {
		return d.adapter.SendText(ctx, chatID, text, opt)
	})
}

// SendPhoto delivers a photo by its transport handle with a caption.
func (d *Dispatcher) SendPhoto(ctx context.Context, chatID int64, ref, caption string, opt *transport.SendOptions) Outcome {
	return d.attempt(ctx, chatID, "photo", func() error {
		return d.adapter.SendPhoto(ctx, chatID, ref, caption, opt)
	})
}

// SendVideo delivers a video by its transport handle. Captions go out as a
// separate text message because the transport can't caption this media kind
// directly.
func (d *Dispatcher) SendVideo(ctx context.Context, chatID int64, ref string, opt *transport.SendOptions) Outcome {
	return d.attempt(ctx, chatID, "video", func() error {
		return d.adapter.SendVideo(ctx, chatID, ref, opt)
	})
}

func (d *Dispatcher) attempt(ctx context.Context, chatID int64, kind string, send func() error) Outcome {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.log.Debug("send canceled", logx.Int64("chat_id", chatID), logx.Err(err))
			return Failed
		}
	}

	err := send()
	if err == nil {
		d.log.Debug("sent", logx.Int64("chat_id", chatID), logx.String("kind", kind))
		return Delivered
	}

	if errors.Is(err, transport.ErrRecipientUnreachable) {
		// Self-healing removal: the entry is stale, drop it so future
		// fan-outs stop attempting this recipient.
		removed, rerr := d.reg.RemoveParticipant(chatID)
		if rerr != nil {
			d.log.Error("self-heal removal not persisted", logx.Int64("chat_id", chatID), logx.Err(rerr))
		} else if removed {
			d.log.Info("unreachable recipient removed", logx.Int64("chat_id", chatID))
		} else {
			d.log.Debug("unreachable recipient (not a participant)", logx.Int64("chat_id", chatID))
		}
		return Unreachable
	}

	d.log.Warn("send failed", logx.Int64("chat_id", chatID), logx.String("kind", kind), logx.Err(err))
	return Failed
}
