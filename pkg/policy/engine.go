package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/harun/gapura/pkg/registry"
)

// Effect is the outcome of a policy evaluation
type Effect string

const (
	Allow           Effect = "allow"
	Deny            Effect = "deny"
	RequireApproval Effect = "require_approval"
)

// Decision is the result of evaluating one tool call. SanitizedInput is the
// payload execution must use; the engine may rewrite it (e.g. cap a volume,
// force a draft flag) but never mutates the caller's map.
type Decision struct {
	Effect         Effect
	Reason         string
	Details        map[string]interface{}
	SanitizedInput map[string]interface{}
}

// Engine evaluates tool calls against an immutable policy config
type Engine struct {
	cfg *Config
}

// NewEngine creates an engine bound to cfg. The config must not be mutated
// after construction.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Config returns the policy config the engine evaluates against
func (e *Engine) Config() *Config {
	return e.cfg
}

// Evaluate decides whether a tool call is allowed, denied, or requires
// human approval. Pure function of its arguments; at is the evaluation time
// used for time-window rules. Deny always wins over require_approval.
func (e *Engine) Evaluate(spec registry.Spec, input map[string]interface{}, at time.Time) Decision {
	sanitized := copyPayload(input)
	mode := e.effectiveMode(spec)

	// Time-window denies are checked before anything can suspend for approval
	if strings.HasPrefix(spec.Name, "sonos.") && e.inQuietHours(at) {
		return Decision{
			Effect:         Deny,
			Reason:         "Quiet hours are in effect",
			Details:        map[string]interface{}{"rule": "sonos.quiet_hours", "at": at.Format(time.RFC3339)},
			SanitizedInput: sanitized,
		}
	}

	switch mode {
	case registry.ModeReadOnly:
		return Decision{Effect: Allow, SanitizedInput: sanitized}

	case registry.ModeDraft:
		if strings.HasPrefix(spec.Name, "github.pr.") {
			return e.evalGitHubPR(spec, sanitized)
		}
		return Decision{Effect: Allow, SanitizedInput: sanitized}

	case registry.ModeExecuteGated:
		if strings.HasPrefix(spec.Name, "sonos.") {
			return e.evalSonos(spec, sanitized)
		}
		return Decision{
			Effect:         RequireApproval,
			Reason:         "execute_gated tool requires approval",
			Details:        map[string]interface{}{"rule": "execution.gated", "tool": spec.Name},
			SanitizedInput: sanitized,
		}
	}

	// Unknown mode routes to the most restrictive outcome
	return Decision{
		Effect:         Deny,
		Reason:         fmt.Sprintf("Unknown tool mode '%s'", mode),
		Details:        map[string]interface{}{"tool": spec.Name, "mode": string(mode)},
		SanitizedInput: sanitized,
	}
}

// effectiveMode applies any per-namespace mode override from the policy
// document; otherwise the tool's declared mode stands.
func (e *Engine) effectiveMode(spec registry.Spec) registry.Mode {
	ns := namespaceOf(spec.Name)
	if rule, ok := e.cfg.Namespaces[ns]; ok && rule.Mode != "" {
		return registry.Mode(rule.Mode)
	}
	return spec.Mode
}

func (e *Engine) evalGitHubPR(spec registry.Spec, sanitized map[string]interface{}) Decision {
	gh := e.cfg.GitHub
	if gh == nil {
		return Decision{
			Effect:         Deny,
			Reason:         "GitHub policy not configured",
			Details:        map[string]interface{}{"rule": "github.unconfigured", "tool": spec.Name},
			SanitizedInput: sanitized,
		}
	}

	repo, _ := sanitized["repo"].(string)
	if !contains(gh.AllowedRepos, repo) {
		return Decision{
			Effect: Deny,
			Reason: "Repo not allowlisted",
			Details: map[string]interface{}{
				"rule":          "github.allowed_repos",
				"repo":          repo,
				"allowed_repos": gh.AllowedRepos,
			},
			SanitizedInput: sanitized,
		}
	}

	// Enforce draft-only regardless of what the caller asked for
	if gh.DraftOnly {
		if draft, _ := sanitized["draft"].(bool); !draft {
			sanitized["draft"] = true
			return Decision{
				Effect:         Allow,
				Reason:         "Enforced draft-only PR creation",
				Details:        map[string]interface{}{"rule": "github.draft_only", "repo": repo},
				SanitizedInput: sanitized,
			}
		}
	}

	return Decision{Effect: Allow, SanitizedInput: sanitized}
}

func (e *Engine) evalSonos(spec registry.Spec, sanitized map[string]interface{}) Decision {
	s := e.cfg.Sonos
	if s == nil {
		return Decision{
			Effect:         Deny,
			Reason:         "Sonos policy not configured",
			Details:        map[string]interface{}{"rule": "sonos.unconfigured", "tool": spec.Name},
			SanitizedInput: sanitized,
		}
	}

	if room, ok := sanitized["room"].(string); ok && room != "" {
		if !contains(s.AllowedRooms, room) {
			return Decision{
				Effect: Deny,
				Reason: "Room not allowlisted",
				Details: map[string]interface{}{
					"rule":          "sonos.allowed_rooms",
					"room":          room,
					"allowed_rooms": s.AllowedRooms,
				},
				SanitizedInput: sanitized,
			}
		}
	}

	if raw, present := sanitized["volume"]; present && raw != nil {
		volume, ok := asInt(raw)
		if !ok {
			return Decision{
				Effect:         Deny,
				Reason:         "Invalid volume type",
				Details:        map[string]interface{}{"rule": "sonos.max_volume", "volume": raw},
				SanitizedInput: sanitized,
			}
		}
		if volume > s.MaxVolume {
			return Decision{
				Effect: Deny,
				Reason: "Requested volume exceeds cap",
				Details: map[string]interface{}{
					"rule":      "sonos.max_volume",
					"requested": volume,
					"max":       s.MaxVolume,
				},
				SanitizedInput: sanitized,
			}
		}
	}

	return Decision{
		Effect:         RequireApproval,
		Reason:         "Sonos actions require approval",
		Details:        map[string]interface{}{"rule": "execution.gated", "tool": spec.Name},
		SanitizedInput: sanitized,
	}
}

// inQuietHours reports whether at falls inside the configured window,
// evaluated in the policy timezone. The window may wrap midnight.
func (e *Engine) inQuietHours(at time.Time) bool {
	s := e.cfg.Sonos
	if s == nil || !s.QuietHours.Enabled {
		return false
	}
	start, okStart := parseClock(s.QuietHours.Start)
	end, okEnd := parseClock(s.QuietHours.End)
	if !okStart || !okEnd {
		// Malformed window blocks, never silently passes
		return true
	}

	loc, err := time.LoadLocation(e.cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	now := local.Hour()*60 + local.Minute()

	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func namespaceOf(name string) string {
	if idx := strings.Index(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
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

func copyPayload(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
