package types

// Event represents a typed event emitted during reconciliation state
// transitions. Attributes are flat strings so downstream consumers (REST
// stream, indexers) can forward payloads without schema knowledge.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
