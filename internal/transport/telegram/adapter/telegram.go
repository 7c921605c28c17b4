// Package adapter implements the transport contract on top of the Telegram
// Bot API via telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "berealbot/internal/runtime/supervisor"
	kit "berealbot/internal/transport"
	logx "berealbot/pkg/logx"
)

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	tracker *memberTracker

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger, stop watcher).
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, tracker: newMemberTracker()}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.noteTraffic(m)
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: a.mapMessage(m, nil)})
		return nil
	})

	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Photo == nil {
			return nil
		}
		a.noteTraffic(m)
		media := &kit.Media{Kind: kit.MediaPhoto, Ref: m.Photo.FileID}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: a.mapMessage(m, media)})
		return nil
	})

	a.bot.Handle(tele.OnVideo, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Video == nil {
			return nil
		}
		a.noteTraffic(m)
		media := &kit.Media{Kind: kit.MediaVideo, Ref: m.Video.FileID}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: a.mapMessage(m, media)})
		return nil
	})

	a.bot.Handle(tele.OnAddedToGroup, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMember, Member: &kit.MemberEvent{
			ChatID:    m.Chat.ID,
			ChatTitle: m.Chat.Title,
			UserID:    a.bot.Me.ID,
			IsSelf:    true,
			Joined:    true,
		}})
		return nil
	})

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		joined := m.UsersJoined
		if len(joined) == 0 && m.UserJoined != nil {
			joined = []tele.User{*m.UserJoined}
		}
		for i := range joined {
			u := &joined[i]
			self := u.ID == a.bot.Me.ID
			if !self {
				a.tracker.note(m.Chat.ID, u.ID)
			}
			a.sendUpdate(kit.Update{Kind: kit.UpdateMember, Member: &kit.MemberEvent{
				ChatID:    m.Chat.ID,
				ChatTitle: m.Chat.Title,
				UserID:    u.ID,
				IsSelf:    self,
				Joined:    true,
			}})
		}
		return nil
	})

	a.bot.Handle(tele.OnUserLeft, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil || m.UserLeft == nil {
			return nil
		}
		self := m.UserLeft.ID == a.bot.Me.ID
		if self {
			a.tracker.dropChat(m.Chat.ID)
		} else {
			a.tracker.forget(m.Chat.ID, m.UserLeft.ID)
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMember, Member: &kit.MemberEvent{
			ChatID:    m.Chat.ID,
			ChatTitle: m.Chat.Title,
			UserID:    m.UserLeft.ID,
			IsSelf:    self,
			Joined:    false,
		}})
		return nil
	})
}

// noteTraffic feeds the membership tracker from regular group messages.
func (a *Adapter) noteTraffic(m *tele.Message) {
	if m.Private() || m.Sender == nil || m.Sender.IsBot {
		return
	}
	a.tracker.note(m.Chat.ID, m.Sender.ID)
}

func (a *Adapter) mapMessage(m *tele.Message, media *kit.Media) *kit.Message {
	return &kit.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		FromID:    m.Sender.ID,
		FromName:  displayName(m.Sender),
		Username:  m.Sender.Username,
		Text:      m.Text,
		IsPrivate: m.Private(),
		Media:     media,
	}
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	// Stop telebot when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if sup != nil {
		if err := sup.Wait(wctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				a.log.Warn("telegram stop timed out", logx.Err(err))
				return nil
			}
			a.log.Warn("telegram stop error", logx.Err(err))
		}
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, text, sendOptions(opt))
	return classifySendErr(err)
}

func (a *Adapter) SendPhoto(ctx context.Context, chatID int64, ref, caption string, opt *kit.SendOptions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.File{FileID: ref}, Caption: caption}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, photo, sendOptions(opt))
	return classifySendErr(err)
}

func (a *Adapter) SendVideo(ctx context.Context, chatID int64, ref string, opt *kit.SendOptions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	video := &tele.Video{File: tele.File{FileID: ref}}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, video, sendOptions(opt))
	return classifySendErr(err)
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		return &tele.SendOptions{}
	}
	return &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
	}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
