package ds

import (
	"encoding/json"

	"github.com/karansahani78/sattrack/common"
)

// ClientMessage is the envelope dashboard clients send over the feed
// websocket.
type ClientMessage struct {
	Version uint32 `json:"version"`

	Id                    string `json:"id"`
	IsControlPlaneMessage bool   `json:"is_control_plane_message"`

	Payload json.RawMessage `json:"payload"`
}

type ControlPlaneOp uint32

const (
	StartTracking ControlPlaneOp = iota
	StopTracking
)

// ControlPlaneMessage starts or stops tracking of one entity for the
// sending connection.
type ControlPlaneMessage struct {
	Version uint32 `json:"version"`

	ControlPlaneOp ControlPlaneOp  `json:"control_plane_op"`
	Payload        json.RawMessage `json:"payload"`
}

type TrackingPayload struct {
	EntityID common.EntityID `json:"entity_id"`
}

// FeedMessage is pushed to feed clients whenever the cache accepts a new
// position for an entity they track.
type FeedMessage struct {
	EntityID common.EntityID `json:"entity_id"`
	Position *Position       `json:"position"`
}
