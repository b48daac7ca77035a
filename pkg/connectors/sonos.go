package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SpeakerState is a snapshot of one speaker
type SpeakerState struct {
	Room    string `json:"room"`
	Volume  int    `json:"volume"`
	Playing bool   `json:"playing"`
}

// SpeakerController drives Sonos speakers. The network discovery and UPnP
// plumbing live behind this boundary.
type SpeakerController interface {
	SetVolume(ctx context.Context, room string, volume int) (SpeakerState, error)
	State(ctx context.Context, room string) (SpeakerState, error)
}

// MemoryController is an in-process speaker controller for development and
// tests. Rooms are created on first use with a conservative default volume.
type MemoryController struct {
	mu       sync.Mutex
	speakers map[string]*SpeakerState
}

// NewMemoryController creates an empty controller
func NewMemoryController() *MemoryController {
	return &MemoryController{
		speakers: make(map[string]*SpeakerState),
	}
}

// SetVolume implements SpeakerController
func (c *MemoryController) SetVolume(_ context.Context, room string, volume int) (SpeakerState, error) {
	if volume < 0 || volume > 100 {
		return SpeakerState{}, fmt.Errorf("volume out of range: %d", volume)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sp := c.speaker(room)
	sp.Volume = volume
	return *sp, nil
}

// State implements SpeakerController
func (c *MemoryController) State(_ context.Context, room string) (SpeakerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.speaker(room), nil
}

func (c *MemoryController) speaker(room string) *SpeakerState {
	sp, ok := c.speakers[room]
	if !ok {
		sp = &SpeakerState{Room: room, Volume: 20}
		c.speakers[room] = sp
	}
	return sp
}

// setVolumeHandler builds the sonos.set_volume handler
func setVolumeHandler(controller SpeakerController, now func() time.Time) func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		room := stringField(input, "room")
		volume, ok := numberField(input, "volume")
		if !ok {
			return nil, fmt.Errorf("volume must be an integer")
		}

		state, err := controller.SetVolume(ctx, room, volume)
		if err != nil {
			return nil, fmt.Errorf("failed to set volume: %w", err)
		}

		return map[string]interface{}{
			"room":   state.Room,
			"volume": state.Volume,
			"meta": map[string]interface{}{
				"source":     "sonos",
				"applied_at": now().UTC().Format(time.RFC3339),
			},
		}, nil
	}
}

// getStateHandler builds the sonos.get_state handler
func getStateHandler(controller SpeakerController, now func() time.Time) func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		room := stringField(input, "room")

		state, err := controller.State(ctx, room)
		if err != nil {
			return nil, fmt.Errorf("failed to read speaker state: %w", err)
		}

		return map[string]interface{}{
			"room":    state.Room,
			"volume":  state.Volume,
			"playing": state.Playing,
			"meta": map[string]interface{}{
				"source":     "sonos",
				"fetched_at": now().UTC().Format(time.RFC3339),
			},
		}, nil
	}
}

func numberField(input map[string]interface{}, field string) (int, bool) {
	switch n := input[field].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
