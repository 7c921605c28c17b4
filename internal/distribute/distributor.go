// Package distribute redistributes the media collected in a closed round to
// every destination group.
package distribute

import (
	"context"
	"fmt"
	"time"

	"berealbot/internal/dispatch"
	"berealbot/internal/registry"
	"berealbot/internal/transport"
	logx "berealbot/pkg/logx"
)

// Distributor walks destinations × their current membership and hands every
// qualifying media item to the dispatcher. One bad destination or member
// never aborts the rest of the walk; Distribute itself never fails.
type Distributor struct {
	reg     *registry.Registry
	members transport.MemberLister
	disp    *dispatch.Dispatcher
	log     logx.Logger
	now     func() time.Time
}

func New(reg *registry.Registry, members transport.MemberLister, disp *dispatch.Dispatcher, log logx.Logger) *Distributor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Distributor{reg: reg, members: members, disp: disp, log: log, now: time.Now}
}

// WithClock overrides the time source (tests).
func (d *Distributor) WithClock(now func() time.Time) *Distributor {
	d.now = now
	return d
}

// Distribute sends every posted media item to every destination whose current
// membership includes the submitting participant. Destinations that received
// at least one successful send get their activity timestamp updated.
func (d *Distributor) Distribute(ctx context.Context) {
	start := d.now()
	dests := d.reg.Destinations()
	var sent, failed int

	for _, dest := range dests {
		ids, err := d.members.Members(ctx, dest.ID)
		if err != nil {
			d.log.Warn("membership enumeration failed; skipping destination",
				logx.Int64("destination", dest.ID), logx.Err(err))
			continue
		}

		delivered := false
		for _, id := range ids {
			p, ok := d.reg.Participant(id)
			if !ok || !p.PostedMedia {
				continue
			}
			switch d.sendOne(ctx, dest.ID, p) {
			case dispatch.Delivered:
				delivered = true
				sent++
			default:
				failed++
			}
		}

		if delivered {
			if err := d.reg.TouchDestinationActivity(dest.ID, d.now()); err != nil {
				d.log.Error("activity update not persisted", logx.Int64("destination", dest.ID), logx.Err(err))
			}
		}
	}

	d.log.Info("distribution finished",
		logx.Int("destinations", len(dests)),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
		logx.Duration("took", d.now().Sub(start)))
}

func (d *Distributor) sendOne(ctx context.Context, destID int64, p registry.Participant) dispatch.Outcome {
	caption := Caption(p)
	opt := &transport.SendOptions{ParseMode: "HTML"}

	switch p.MediaKind {
	case transport.MediaPhoto:
		return d.disp.SendPhoto(ctx, destID, p.MediaRef, caption, opt)
	case transport.MediaVideo:
		// Two-step: the transport can't caption videos directly.
		out := d.disp.SendVideo(ctx, destID, p.MediaRef, opt)
		if out == dispatch.Delivered {
			d.disp.SendText(ctx, destID, caption, opt)
		}
		return out
	default:
		d.log.Warn("posted media with unknown kind; skipping",
			logx.Int64("participant", p.ID), logx.String("kind", string(p.MediaKind)))
		return dispatch.Failed
	}
}

// Caption renders the attribution line shown next to redistributed media.
func Caption(p registry.Participant) string {
	return fmt.Sprintf("<b>%s</b>, %s", p.DisplayName, p.SubmittedAt.Format("15:04"))
}
