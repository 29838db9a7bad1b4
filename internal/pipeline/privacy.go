package pipeline

import (
	"context"

	"wristrelay/internal/eventbus"
	"wristrelay/internal/notification"
	logx "wristrelay/pkg/logx"
)

const (
	coverSubtitle = "Hidden notification"
	coverText     = "Use Show action to uncover it."
	revealLabel   = "Show"
	dismissLabel  = "Dismiss"
)

// coverFor builds the placeholder shown instead of hidden. The cover itself can never be
// hidden again.
func coverFor(hidden *notification.Outbound) *notification.Source {
	src := hidden.Source
	return &notification.Source{
		Key:                  src.Key,
		Title:                src.Title,
		Subtitle:             coverSubtitle,
		Text:                 coverText,
		PostedAt:             src.PostedAt,
		HidingTextDisallowed: true,
		NoHistory:            true,
		Actions: []notification.Action{
			{Kind: notification.ActionReveal, Label: revealLabel, Hidden: hidden},
			{Kind: notification.ActionDismiss, Label: dismissLabel},
		},
	}
}

// sendPrivate processes the cover in place of n. n keeps its id and is registered only
// once revealed.
func (f *Forwarder) sendPrivate(ctx context.Context, n *notification.Outbound) Outcome {
	inner := f.process(ctx, coverFor(n), true)
	if inner.Status != StatusDispatched {
		f.d.Log.Debug("privacy cover not sent",
			logx.String("app", n.App()),
			logx.Int32("hidden_id", n.ID),
			logx.String("reason", inner.Reason),
		)
		return Outcome{Status: inner.Status, Reason: ReasonCoverNotAccepted + ":" + inner.Reason, ID: inner.ID, Mode: inner.Mode}
	}
	f.publish(eventbus.RelayHidden, n.App(), n.ID, "", inner.Mode.String())
	return Outcome{Status: StatusHidden, ID: inner.ID, Mode: inner.Mode}
}
