package pipeline

import (
	"errors"
	"fmt"

	"wristrelay/internal/eventbus"
	"wristrelay/internal/notification"
	"wristrelay/internal/transport"
	logx "wristrelay/pkg/logx"
)

var (
	ErrUnknownNotification = errors.New("unknown notification")
	ErrUnknownAction       = errors.New("unknown action")
	ErrNotRevealable       = errors.New("reveal action without hidden notification")
)

// HandleAction runs entry index of the action menu of notification id.
func (f *Forwarder) HandleAction(id int32, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.d.Registry.Lookup(id)
	if !ok || n.Source == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNotification, id)
	}
	if index < 0 || index >= len(n.Source.Actions) {
		return fmt.Errorf("%w: %d/%d", ErrUnknownAction, id, index)
	}
	a := n.Source.Actions[index]
	log := f.d.Log.With(logx.String("app", n.App()), logx.Int32("id", id), logx.String("action", a.Label))

	switch a.Kind {
	case notification.ActionReveal:
		if a.Hidden == nil {
			return ErrNotRevealable
		}
		mode := f.d.Dispatcher.Dispatch(a.Hidden)
		log.Debug("hidden notification revealed", logx.Int32("revealed_id", a.Hidden.ID), logx.String("mode", mode.String()))
		return nil
	case notification.ActionDismiss:
		if f.d.Dismisser == nil {
			return nil
		}
		if err := f.d.Dismisser.Dismiss(n.Source.Key); err != nil {
			return fmt.Errorf("dismiss %s: %w", n.Source.Key, err)
		}
		return nil
	default:
		f.d.Bus.Publish(eventbus.Event{Type: eventbus.RelayAction, Data: eventbus.ActionEvent{
			App:     n.App(),
			ID:      id,
			Index:   index,
			Label:   a.Label,
			Payload: a.Payload,
		}})
		if f.d.Invoker == nil {
			log.Debug("custom action published")
			return nil
		}
		if err := f.d.Invoker.InvokeAction(transport.CustomAction{Key: n.Source.Key, Label: a.Label, Payload: a.Payload}); err != nil {
			return fmt.Errorf("invoke %q on %s: %w", a.Label, n.Source.Key, err)
		}
		log.Debug("custom action forwarded")
		return nil
	}
}

// Withdraw cancels queued transfers of notifications posted under key after the phone
// removed it. It returns the canceled ids; the transfer on screen is left alone.
func (f *Forwarder) Withdraw(key notification.Key) []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var canceled []int32
	for _, n := range f.d.Registry.Snapshot() {
		if n.Source == nil || n.Source.Key != key {
			continue
		}
		if f.d.Dispatcher.Cancel(n.ID) {
			canceled = append(canceled, n.ID)
		}
	}
	if len(canceled) > 0 {
		f.d.Log.Debug("queued transfers withdrawn",
			logx.String("app", key.Package),
			logx.Int("count", len(canceled)))
	}
	return canceled
}
