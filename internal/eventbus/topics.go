package eventbus

// Relay pipeline events.
const (
	// RelayAccepted carries a RelayEvent for a notification handed to dispatch.
	RelayAccepted = "relay.accepted"
	// RelayDropped carries a RelayEvent with the gate that rejected the notification.
	RelayDropped = "relay.dropped"
	// RelayHidden is published when a notification is replaced by its privacy cover.
	RelayHidden = "relay.hidden"
	// RelayAction carries an ActionEvent for custom actions the relay cannot run itself.
	RelayAction = "relay.action"
)

// Transfer state machine events.
const (
	TransferStarted   = "transfer.started"
	TransferCompleted = "transfer.completed"
	TransferRestarted = "transfer.restarted"
	TransferQueued    = "transfer.queued"
	TransferSendError = "transfer.send_error"
)

// ConfigReloaded is published after a config change has been applied.
const ConfigReloaded = "config.reloaded"

type RelayEvent struct {
	App    string `json:"app"`
	ID     int32  `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

type TransferEvent struct {
	App      string `json:"app"`
	ID       int32  `json:"id"`
	Chunks   int    `json:"chunks"`
	Vibrated bool   `json:"vibrated,omitempty"`
	Queue    int    `json:"queue"`
	Err      string `json:"err,omitempty"`
}

type ActionEvent struct {
	App     string `json:"app"`
	ID      int32  `json:"id"`
	Index   int    `json:"index"`
	Label   string `json:"label"`
	Payload string `json:"payload,omitempty"`
}
