package domain

// Bus channel names. The poller and orchestrator publish; the WebSocket
// hub and notifiers subscribe.
const (
	ChannelStatus = "status:events"
	ChannelOps    = "ops:events"
)

// StatusEvent announces a reconciled display status over the status bus.
type StatusEvent struct {
	PredictionID string `json:"prediction_id"`
	PoolAddress  string `json:"pool_address,omitempty"`
	Status       string `json:"status"`
	Display      string `json:"display"`
	Changed      bool   `json:"changed"`
}
