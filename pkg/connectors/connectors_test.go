package connectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/gapura/pkg/registry"
)

var fixedNow = func() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func TestBuiltin_RegistersCleanly(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterAll(Builtin(Deps{})))
	assert.Equal(t, 5, r.Count())

	for _, name := range []string{
		"calendar.google.get_agenda",
		"github.pr.create_draft",
		"sonos.set_volume",
		"sonos.get_state",
		"system.noop",
	} {
		_, err := r.Lookup(name)
		assert.NoError(t, err, "builtin %s missing", name)
	}
}

func TestNoopHandler(t *testing.T) {
	h := noopHandler(fixedNow)

	out, err := h(context.Background(), map[string]interface{}{"message": "hi", "count": 3})
	require.NoError(t, err)

	echo := out["echo"].([]interface{})
	require.Len(t, echo, 3)
	assert.Equal(t, "hi", echo[0])

	meta := out["meta"].(map[string]interface{})
	assert.Equal(t, "noop", meta["source"])
	assert.Equal(t, "2026-03-10T12:00:00Z", meta["applied_at"])
}

func TestNoopHandler_DefaultCount(t *testing.T) {
	h := noopHandler(fixedNow)

	out, err := h(context.Background(), map[string]interface{}{"message": "once"})
	require.NoError(t, err)
	assert.Len(t, out["echo"].([]interface{}), 1)
}

func TestGetAgendaHandler(t *testing.T) {
	source := &StaticAgendaSource{Items: []AgendaEvent{
		{
			ID:    "ev-1",
			Title: "Standup",
			Start: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC),
		},
		{
			ID:       "ev-2",
			Title:    "Dentist",
			Start:    time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC),
			End:      time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC),
			Location: "Downtown",
		},
	}}
	h := getAgendaHandler(source, fixedNow)

	t.Run("returns overlapping events", func(t *testing.T) {
		out, err := h(context.Background(), map[string]interface{}{
			"time_min": "2026-03-10T00:00:00Z",
			"time_max": "2026-03-11T00:00:00Z",
		})
		require.NoError(t, err)

		events := out["events"].([]interface{})
		require.Len(t, events, 1)
		first := events[0].(map[string]interface{})
		assert.Equal(t, "Standup", first["title"])
		_, hasLocation := first["location"]
		assert.False(t, hasLocation, "empty location stays absent")
	})

	t.Run("empty range yields empty list not nil", func(t *testing.T) {
		out, err := h(context.Background(), map[string]interface{}{
			"time_min": "2027-01-01T00:00:00Z",
			"time_max": "2027-01-02T00:00:00Z",
		})
		require.NoError(t, err)
		events := out["events"].([]interface{})
		assert.NotNil(t, events)
		assert.Empty(t, events)
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		_, err := h(context.Background(), map[string]interface{}{
			"time_min": "2026-03-11T00:00:00Z",
			"time_max": "2026-03-10T00:00:00Z",
		})
		assert.Error(t, err)
	})

	t.Run("malformed timestamp rejected", func(t *testing.T) {
		_, err := h(context.Background(), map[string]interface{}{
			"time_min": "yesterday",
			"time_max": "2026-03-10T00:00:00Z",
		})
		assert.Error(t, err)
	})
}

func TestCreateDraftPRHandler(t *testing.T) {
	creator := &DryRunCreator{}
	h := createDraftPRHandler(creator, fixedNow)

	t.Run("creates with defaults", func(t *testing.T) {
		out, err := h(context.Background(), map[string]interface{}{
			"repo":  "harun/notes",
			"title": "Weekly sync",
			"head":  "feature/sync",
			"draft": true,
		})
		require.NoError(t, err)

		assert.Equal(t, 1, out["number"])
		assert.Equal(t, "https://github.com/harun/notes/pull/1", out["url"])
		assert.Equal(t, true, out["draft"])
	})

	t.Run("numbers increment", func(t *testing.T) {
		out, err := h(context.Background(), map[string]interface{}{
			"repo":  "harun/notes",
			"title": "Another",
			"head":  "feature/other",
		})
		require.NoError(t, err)
		assert.Equal(t, 2, out["number"])
	})

	t.Run("head equal to base rejected", func(t *testing.T) {
		_, err := h(context.Background(), map[string]interface{}{
			"repo":  "harun/notes",
			"title": "Broken",
			"head":  "main",
		})
		assert.Error(t, err, "base defaults to main")
	})
}

func TestSonosHandlers(t *testing.T) {
	controller := NewMemoryController()
	setVol := setVolumeHandler(controller, fixedNow)
	getState := getStateHandler(controller, fixedNow)

	t.Run("rooms start at default volume", func(t *testing.T) {
		out, err := getState(context.Background(), map[string]interface{}{"room": "office"})
		require.NoError(t, err)
		assert.Equal(t, 20, out["volume"])
		assert.Equal(t, false, out["playing"])
	})

	t.Run("set then read back", func(t *testing.T) {
		out, err := setVol(context.Background(), map[string]interface{}{"room": "office", "volume": 35})
		require.NoError(t, err)
		assert.Equal(t, 35, out["volume"])

		out, err = getState(context.Background(), map[string]interface{}{"room": "office"})
		require.NoError(t, err)
		assert.Equal(t, 35, out["volume"])
	})

	t.Run("json float volume accepted", func(t *testing.T) {
		out, err := setVol(context.Background(), map[string]interface{}{"room": "office", "volume": float64(40)})
		require.NoError(t, err)
		assert.Equal(t, 40, out["volume"])
	})

	t.Run("fractional volume rejected", func(t *testing.T) {
		_, err := setVol(context.Background(), map[string]interface{}{"room": "office", "volume": 40.5})
		assert.Error(t, err)
	})

	t.Run("out of range rejected by controller", func(t *testing.T) {
		_, err := controller.SetVolume(context.Background(), "office", 150)
		assert.Error(t, err)
	})
}
