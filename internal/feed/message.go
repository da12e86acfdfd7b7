// Package feed connects one view to its upstream and turns received frames
// into world events. Byte-level game protocol decoding happens upstream; a
// feed carries already-decoded messages, one JSON object or array per frame.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cellsync/internal/world"
)

// ErrUnknownKind is returned when a message names no known event
var ErrUnknownKind = errors.New("unknown message kind")

// Kind names one event type on the feed
type Kind string

const (
	KindUpdate      Kind = "update"      // entityUpdated
	KindConsume     Kind = "consume"     // entityConsumed
	KindRemove      Kind = "remove"      // entityRemoved
	KindBatch       Kind = "batch"       // entityBatchComplete
	KindOwn         Kind = "own"         // ownershipGranted
	KindClearOwned  Kind = "clearOwned"  // allOwnedCleared
	KindBorder      Kind = "border"      // world border
	KindLeaderboard Kind = "leaderboard" // leaderboard snapshot
	KindSpectate    Kind = "spectate"    // spectate camera position
)

// Message is one decoded event from a view's feed
type Message struct {
	Kind   Kind    `json:"kind"`
	ID     uint32  `json:"id,omitempty"`
	Killer uint32  `json:"killer,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	R      float64 `json:"r,omitempty"`
	Flags  uint8   `json:"flags,omitempty"`
	Color  string  `json:"color,omitempty"`
	Skin   string  `json:"skin,omitempty"`
	Name   string  `json:"name,omitempty"`
	Clan   string  `json:"clan,omitempty"`
	Scale  float64 `json:"scale,omitempty"`

	Border      *world.Border            `json:"border,omitempty"`
	Leaderboard []world.LeaderboardEntry `json:"leaderboard,omitempty"`
}

// Apply dispatches the message to the world as an event of view
func (m Message) Apply(w *world.World, view world.ViewID, now time.Time) error {
	switch m.Kind {
	case KindUpdate:
		return w.EntityUpdated(view, world.Update{
			ID: m.ID, X: m.X, Y: m.Y, R: m.R,
			Flags: m.Flags,
			Color: m.Color, Skin: m.Skin, Name: m.Name, Clan: m.Clan,
		}, now)
	case KindConsume:
		return w.EntityConsumed(view, m.ID, m.Killer, now)
	case KindRemove:
		return w.EntityRemoved(view, m.ID, now)
	case KindBatch:
		_, err := w.BatchComplete(view, now)
		return err
	case KindOwn:
		return w.OwnershipGranted(view, m.ID, now)
	case KindClearOwned:
		return w.AllOwnedCleared(view)
	case KindBorder:
		if m.Border == nil {
			return fmt.Errorf("border message without border")
		}
		return w.BorderUpdated(view, *m.Border)
	case KindLeaderboard:
		return w.LeaderboardUpdated(view, m.Leaderboard)
	case KindSpectate:
		return w.SpectatePosition(view, m.X, m.Y, m.Scale)
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
}

// Decoder turns one transport frame into messages
type Decoder interface {
	Decode(data []byte) ([]Message, error)
}

// JSONDecoder accepts a single message object or an array of them
type JSONDecoder struct{}

// Decode implements Decoder
func (JSONDecoder) Decode(data []byte) ([]Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return msgs, nil
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return []Message{m}, nil
}

// Encode is the inverse of JSONDecoder.Decode for a batch of messages
func Encode(msgs []Message) ([]byte, error) {
	return json.Marshal(msgs)
}
