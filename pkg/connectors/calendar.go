// Package connectors holds the tool handlers behind the execution gateway.
// Each handler is a pure function of validated input to validated output;
// policy and persistence never live here. External systems are reached
// through narrow injected interfaces so the handlers stay testable and the
// gateway tests run without credentials.
package connectors

import (
	"context"
	"fmt"
	"time"
)

// AgendaEvent is one calendar entry
type AgendaEvent struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
}

// AgendaSource supplies calendar events for a time range. OAuth and the real
// Google Calendar client live behind this boundary, out of gateway scope.
type AgendaSource interface {
	Events(ctx context.Context, timeMin, timeMax time.Time) ([]AgendaEvent, error)
}

// StaticAgendaSource serves a fixed event list, used for development and tests
type StaticAgendaSource struct {
	Items []AgendaEvent
}

// Events returns the fixture events that overlap the requested range
func (s *StaticAgendaSource) Events(_ context.Context, timeMin, timeMax time.Time) ([]AgendaEvent, error) {
	var out []AgendaEvent
	for _, ev := range s.Items {
		if ev.End.After(timeMin) && ev.Start.Before(timeMax) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// getAgendaHandler builds the calendar.google.get_agenda handler
func getAgendaHandler(source AgendaSource, now func() time.Time) func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		timeMin, err := parseRFC3339(input, "time_min")
		if err != nil {
			return nil, err
		}
		timeMax, err := parseRFC3339(input, "time_max")
		if err != nil {
			return nil, err
		}
		if !timeMax.After(timeMin) {
			return nil, fmt.Errorf("time_max must be after time_min")
		}

		events, err := source.Events(ctx, timeMin, timeMax)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch agenda: %w", err)
		}

		items := make([]interface{}, 0, len(events))
		for _, ev := range events {
			item := map[string]interface{}{
				"id":    ev.ID,
				"title": ev.Title,
				"start": ev.Start.Format(time.RFC3339),
				"end":   ev.End.Format(time.RFC3339),
			}
			if ev.Location != "" {
				item["location"] = ev.Location
			}
			items = append(items, item)
		}

		return map[string]interface{}{
			"events": items,
			"meta": map[string]interface{}{
				"source":     "google_calendar",
				"fetched_at": now().UTC().Format(time.RFC3339),
			},
		}, nil
	}
}

func parseRFC3339(input map[string]interface{}, field string) (time.Time, error) {
	raw, _ := input[field].(string)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return t, nil
}
