package events

import (
	"time"

	"womnet/core/types"
)

// Hub event types published on the bus.
const (
	TypeHubConnected     = "HUB_CONNECTED"
	TypeHubDisconnected  = "HUB_DISCONNECTED"
	TypeHubSaved         = "HUB_SAVED"
	TypeHubStatusChanged = "HUB_STATUS_CHANGED"
)

// HubLifecycle is the shared payload for hub registration events.
type HubLifecycle struct {
	Type      string
	Address   string
	DeedID    uint64
	Owner     string
	Manager   string
	Enabled   bool
	UntilDate time.Time
}

func (e HubLifecycle) EventType() string { return e.Type }

func (e HubLifecycle) Event() *types.Event {
	return &types.Event{
		Type: e.Type,
		Attributes: map[string]string{
			"address":   normalizeAddress(e.Address),
			"deedId":    uintToString(e.DeedID),
			"owner":     normalizeAddress(e.Owner),
			"manager":   normalizeAddress(e.Manager),
			"enabled":   boolToString(e.Enabled),
			"untilDate": timeToString(e.UntilDate),
		},
	}
}
