package observerproto

import "crateloot.ai/internal/loot/tables"

// Version is the observer protocol version.
const Version = "0.2"

const (
	TypeSubscribe        = "SUBSCRIBE"
	TypeContainer        = "CONTAINER"
	TypeContainerRemoved = "CONTAINER_REMOVED"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: only stream containers of these prefab ids. Empty means all.
	Prefabs []string `json:"prefabs,omitempty"`
	// Optional: send the current contents of every matching container right after subscribing.
	Replay bool `json:"replay,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string           `json:"protocol_version"`
	WorldID         string           `json:"world_id"`
	Tick            uint64           `json:"tick"`
	TickRateHz      int              `json:"tick_rate_hz"`
	Tables          []tables.Summary `json:"tables"`
	Blacklist       []string         `json:"blacklist"`
	Containers      int              `json:"containers"`
}

type ItemStack struct {
	Item   string `json:"item"`
	Amount int    `json:"amount"`
	// Target is the researched item when Item is a blueprint carrier.
	Target string `json:"target,omitempty"`
}

// Server -> Client. Sent whenever a container re-broadcasts its contents.
type ContainerMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	ContainerID     string      `json:"container_id"`
	PrefabID        string      `json:"prefab_id"`
	Pos             [3]float64  `json:"pos"`
	Capacity        int         `json:"capacity"`
	EngineLoot      bool        `json:"engine_loot"`
	Items           []ItemStack `json:"items"`
}

// Server -> Client. The container left the world.
type ContainerRemovedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	ContainerID     string `json:"container_id"`
	PrefabID        string `json:"prefab_id"`
}
