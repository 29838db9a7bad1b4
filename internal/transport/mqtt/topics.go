package mqtt

import "strings"

// Topic suffixes under the configured prefix.
const (
	// relay -> bridge
	TopicOut     = "out"     // binary dictionary packets for the companion app
	TopicOpen    = "open"    // request to launch the companion app
	TopicNative  = "native"  // JSON native notifications
	TopicDismiss = "dismiss" // JSON dismiss / retract requests
	TopicInvoke  = "invoke"  // JSON custom action presses for the phone to run

	// bridge -> relay
	TopicReady         = "ready"         // device accepted the last packet
	TopicOpened        = "opened"        // companion app (re)opened
	TopicStatus        = "status"        // JSON device status
	TopicHost          = "host"          // JSON phone state
	TopicNotifications = "notifications" // JSON notification sources
	TopicActions       = "actions"       // JSON action presses
	TopicRemoved       = "removed"       // JSON notification keys withdrawn on the phone
)

const DefaultPrefix = "wristrelay"

type topics struct{ prefix string }

func newTopics(prefix string) topics {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		p = DefaultPrefix
	}
	return topics{prefix: p}
}

func (t topics) of(suffix string) string { return t.prefix + "/" + suffix }

// suffix strips the prefix from an inbound topic; ok is false for foreign topics.
func (t topics) suffix(topic string) (string, bool) {
	return strings.CutPrefix(topic, t.prefix+"/")
}

func (t topics) inbound() []string {
	return []string{
		t.of(TopicReady), t.of(TopicOpened), t.of(TopicStatus),
		t.of(TopicHost), t.of(TopicNotifications), t.of(TopicActions),
		t.of(TopicRemoved),
	}
}
