// Package router consumes transport updates and maps them to registry,
// cycle and broadcast operations.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"berealbot/internal/broadcast"
	"berealbot/internal/cycle"
	"berealbot/internal/dispatch"
	"berealbot/internal/registry"
	"berealbot/internal/transport"
	"berealbot/pkg/logx"
)

var htmlReply = &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}

// RoundGate reports whether submissions are currently accepted.
// The cycle service implements it.
type RoundGate interface {
	Accepting() bool
}

type Router struct {
	reg    *registry.Registry
	cyc    RoundGate
	disp   *dispatch.Dispatcher
	bcast  *broadcast.Service
	owners map[int64]struct{}
	log    logx.Logger
}

func New(reg *registry.Registry, cyc RoundGate, disp *dispatch.Dispatcher, bcast *broadcast.Service, owners []int64, log logx.Logger) *Router {
	set := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		set[id] = struct{}{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{reg: reg, cyc: cyc, disp: disp, bcast: bcast, owners: set, log: log}
}

func (r *Router) isOwner(id int64) bool {
	_, ok := r.owners[id]
	return ok
}

// DispatchLoop drains updates until the context ends or the channel closes.
// It returns non-nil only on a persistence failure, which callers treat as
// fatal.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, up); err != nil {
				return err
			}
		}
	}
}

func (r *Router) handle(ctx context.Context, up transport.Update) error {
	switch up.Kind {
	case transport.UpdateMember:
		if up.Member == nil {
			return nil
		}
		return r.handleMember(ctx, up.Member)
	case transport.UpdateMessage:
		if up.Message == nil {
			return nil
		}
		if up.Message.IsPrivate {
			return r.handlePrivate(ctx, up.Message)
		}
		return nil
	default:
		return nil
	}
}

func (r *Router) handleMember(ctx context.Context, ev *transport.MemberEvent) error {
	// Only the bot's own membership matters here; other members are tracked
	// at the adapter level.
	if !ev.IsSelf {
		return nil
	}
	if ev.Joined {
		changed, err := r.reg.RegisterDestination(ev.ChatID)
		if err != nil {
			return err
		}
		if changed {
			r.log.Info("destination added",
				logx.Int64("chat_id", ev.ChatID), logx.String("title", ev.ChatTitle))
			r.disp.SendText(ctx, ev.ChatID, textGroupHello, htmlReply)
		}
		return nil
	}
	changed, err := r.reg.RemoveDestination(ev.ChatID)
	if err != nil {
		return err
	}
	if changed {
		r.log.Info("destination removed", logx.Int64("chat_id", ev.ChatID))
	}
	return nil
}

func (r *Router) handlePrivate(ctx context.Context, m *transport.Message) error {
	if cmd, args, ok := parseCommand(m.Text); ok {
		return r.handleCommand(ctx, m, cmd, args)
	}
	if m.Media != nil {
		return r.handleSubmission(ctx, m)
	}
	r.disp.SendText(ctx, m.FromID, textDefault, htmlReply)
	return nil
}

func (r *Router) handleCommand(ctx context.Context, m *transport.Message, cmd, args string) error {
	switch cmd {
	case "start":
		if _, exists := r.reg.Participant(m.FromID); exists {
			r.disp.SendText(ctx, m.FromID, textAlreadyIn, htmlReply)
			return nil
		}
		if err := r.reg.RegisterParticipant(m.FromID, m.FromName); err != nil {
			return err
		}
		r.log.Info("participant registered",
			logx.Int64("user_id", m.FromID), logx.String("name", m.FromName))
		r.disp.SendText(ctx, m.FromID, textGreeting, htmlReply)
		return nil

	case "stop":
		removed, err := r.reg.RemoveParticipant(m.FromID)
		if err != nil {
			return err
		}
		if !removed {
			r.disp.SendText(ctx, m.FromID, textNotRegistered, htmlReply)
			return nil
		}
		r.log.Info("participant left", logx.Int64("user_id", m.FromID))
		r.disp.SendText(ctx, m.FromID, textFarewell, htmlReply)
		return nil

	case "broadcast":
		if !r.isOwner(m.FromID) {
			r.disp.SendText(ctx, m.FromID, textDefault, htmlReply)
			return nil
		}
		text := strings.TrimSpace(args)
		if text == "" {
			r.disp.SendText(ctx, m.FromID, textBroadcastUsage, htmlReply)
			return nil
		}
		n := r.bcast.Stage(text, m.FromID)
		reply := fmt.Sprintf("Staged for <b>%d</b> participants. Send /confirm within %s or /cancel.",
			n, broadcast.PendingTTL)
		r.disp.SendText(ctx, m.FromID, reply, htmlReply)
		return nil

	case "confirm":
		if !r.isOwner(m.FromID) {
			r.disp.SendText(ctx, m.FromID, textDefault, htmlReply)
			return nil
		}
		delivered, failed, ok := r.bcast.Confirm(ctx, m.FromID)
		if !ok {
			r.disp.SendText(ctx, m.FromID, textBroadcastNothing, htmlReply)
			return nil
		}
		reply := fmt.Sprintf("Broadcast done: %d delivered, %d failed.", delivered, failed)
		r.disp.SendText(ctx, m.FromID, reply, htmlReply)
		return nil

	case "cancel":
		if !r.isOwner(m.FromID) {
			r.disp.SendText(ctx, m.FromID, textDefault, htmlReply)
			return nil
		}
		if r.bcast.Cancel(m.FromID) {
			r.disp.SendText(ctx, m.FromID, "Broadcast cancelled.", htmlReply)
		} else {
			r.disp.SendText(ctx, m.FromID, textBroadcastNothing, htmlReply)
		}
		return nil

	default:
		r.disp.SendText(ctx, m.FromID, textDefault, htmlReply)
		return nil
	}
}

func (r *Router) handleSubmission(ctx context.Context, m *transport.Message) error {
	if !r.cyc.Accepting() {
		r.disp.SendText(ctx, m.FromID, cycle.TextMediaRejected, htmlReply)
		return nil
	}
	err := r.reg.RecordSubmission(m.FromID, m.Media.Kind, m.Media.Ref)
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		r.disp.SendText(ctx, m.FromID, textNotRegistered, htmlReply)
		return nil
	case err != nil:
		return err
	}
	r.log.Info("submission recorded",
		logx.Int64("user_id", m.FromID), logx.String("kind", string(m.Media.Kind)))
	r.disp.SendText(ctx, m.FromID, cycle.TextMediaAccepted, htmlReply)
	return nil
}

// parseCommand splits "/cmd@bot args" into its command and argument parts.
func parseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, tail, _ := strings.Cut(text[1:], " ")
	if head == "" {
		return "", "", false
	}
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(tail), true
}
