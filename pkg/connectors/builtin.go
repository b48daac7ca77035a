package connectors

import (
	"time"

	"github.com/harun/gapura/pkg/registry"
)

// Deps are the external collaborators the builtin tools need. Zero values
// get safe in-process defaults, so tests and development need no wiring.
type Deps struct {
	Agenda       AgendaSource
	PullRequests PullRequestCreator
	Speakers     SpeakerController
	Now          func() time.Time
}

func (d *Deps) fill() {
	if d.Agenda == nil {
		d.Agenda = &StaticAgendaSource{}
	}
	if d.PullRequests == nil {
		d.PullRequests = &DryRunCreator{}
	}
	if d.Speakers == nil {
		d.Speakers = NewMemoryController()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// Builtin returns the registration table for all builtin tools. Adding a
// tool is adding one entry here plus one handler implementation.
func Builtin(deps Deps) []registry.Spec {
	deps.fill()

	return []registry.Spec{
		{
			Name:        "calendar.google.get_agenda",
			Version:     "v0.1",
			Mode:        registry.ModeReadOnly,
			Description: "Read the agenda for a time range",
			InputSchema: objectSchema(map[string]interface{}{
				"time_min": map[string]interface{}{"type": "string", "format": "date-time"},
				"time_max": map[string]interface{}{"type": "string", "format": "date-time"},
				"timezone": map[string]interface{}{"type": "string"},
			}, "time_min", "time_max"),
			OutputSchema: objectSchema(map[string]interface{}{
				"events": map[string]interface{}{
					"type": "array",
					"items": objectSchema(map[string]interface{}{
						"id":       map[string]interface{}{"type": "string"},
						"title":    map[string]interface{}{"type": "string"},
						"start":    map[string]interface{}{"type": "string"},
						"end":      map[string]interface{}{"type": "string"},
						"location": map[string]interface{}{"type": "string"},
					}, "id", "title", "start", "end"),
				},
				"meta": metaSchema("fetched_at"),
			}, "events", "meta"),
			Handler: getAgendaHandler(deps.Agenda, deps.Now),
		},
		{
			Name:        "github.pr.create_draft",
			Version:     "v0.1",
			Mode:        registry.ModeDraft,
			Description: "Open a draft pull request",
			InputSchema: objectSchema(map[string]interface{}{
				"repo":  map[string]interface{}{"type": "string", "minLength": 1},
				"title": map[string]interface{}{"type": "string", "minLength": 1},
				"body":  map[string]interface{}{"type": "string"},
				"head":  map[string]interface{}{"type": "string", "minLength": 1},
				"base":  map[string]interface{}{"type": "string"},
				"draft": map[string]interface{}{"type": "boolean"},
			}, "repo", "title", "head"),
			OutputSchema: objectSchema(map[string]interface{}{
				"number": map[string]interface{}{"type": "integer"},
				"url":    map[string]interface{}{"type": "string"},
				"draft":  map[string]interface{}{"type": "boolean"},
				"meta":   metaSchema("created_at"),
			}, "number", "url", "draft", "meta"),
			Handler: createDraftPRHandler(deps.PullRequests, deps.Now),
		},
		{
			Name:        "sonos.set_volume",
			Version:     "v0.1",
			Mode:        registry.ModeExecuteGated,
			Description: "Set a speaker's volume",
			InputSchema: objectSchema(map[string]interface{}{
				"room":   map[string]interface{}{"type": "string", "minLength": 1},
				"volume": map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 100},
			}, "room", "volume"),
			OutputSchema: objectSchema(map[string]interface{}{
				"room":   map[string]interface{}{"type": "string"},
				"volume": map[string]interface{}{"type": "integer"},
				"meta":   metaSchema("applied_at"),
			}, "room", "volume", "meta"),
			Handler: setVolumeHandler(deps.Speakers, deps.Now),
		},
		{
			Name:        "sonos.get_state",
			Version:     "v0.1",
			Mode:        registry.ModeReadOnly,
			Description: "Read a speaker's current state",
			InputSchema: objectSchema(map[string]interface{}{
				"room": map[string]interface{}{"type": "string", "minLength": 1},
			}, "room"),
			OutputSchema: objectSchema(map[string]interface{}{
				"room":    map[string]interface{}{"type": "string"},
				"volume":  map[string]interface{}{"type": "integer"},
				"playing": map[string]interface{}{"type": "boolean"},
				"meta":    metaSchema("fetched_at"),
			}, "room", "volume", "playing", "meta"),
			Handler: getStateHandler(deps.Speakers, deps.Now),
		},
		{
			Name:        "system.noop",
			Version:     "v0.1",
			Mode:        registry.ModeReadOnly,
			Description: "Echo a message back",
			InputSchema: objectSchema(map[string]interface{}{
				"message": map[string]interface{}{"type": "string"},
				"count":   map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 10},
			}, "message"),
			OutputSchema: objectSchema(map[string]interface{}{
				"echo": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"meta": metaSchema("applied_at"),
			}, "echo", "meta"),
			Handler: noopHandler(deps.Now),
		},
	}
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

func metaSchema(tsField string) map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"source":  map[string]interface{}{"type": "string"},
		tsField:   map[string]interface{}{"type": "string"},
	}, "source", tsField)
}
