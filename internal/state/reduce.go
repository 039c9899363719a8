package state

import (
	"math"

	"github.com/beamcode/beamcode/internal/unified"
)

// TeamBuffer is the narrow interface Reduce needs from
// internal/teambuffer.Buffer, kept here to avoid an import cycle (teambuffer
// imports state for state.Team, so state cannot import teambuffer back).
type TeamBuffer interface {
	Observe(msg unified.Message, team *Team) *Team
}

// Reduce is the pure function named in spec §4.8: it applies msg to state
// and returns the (possibly identical) resulting state. It returns the same
// value (by content, not pointer — SessionState is not a pointer type) when
// nothing changed, letting the caller compare via reflect.DeepEqual or, more
// cheaply, a changed bool this function also returns.
func Reduce(s SessionState, msg unified.Message, team TeamBuffer) (SessionState, bool) {
	next := s
	changed := false

	switch msg.Type {
	case unified.TypeSessionInit:
		if v, ok := unified.Meta[string](msg, "model"); ok {
			next.Model = v
			changed = true
		}
		if v, ok := unified.Meta[string](msg, "cwd"); ok {
			next.Cwd = v
			changed = true
		}
		if v, ok := unified.Meta[[]string](msg, "tools"); ok {
			merged, add := insertUnique(append([]string(nil), next.Tools...), v)
			if add {
				next.Tools = merged
				changed = true
			}
		}
		if v, ok := unified.Meta[string](msg, "permissionMode"); ok {
			next.PermissionMode = v
			changed = true
		}
		if v, ok := unified.Meta[string](msg, "claude_code_version"); ok {
			next.ClaudeCodeVersion = v
			changed = true
		}
		if v, ok := unified.Meta[[]MCPServer](msg, "mcp_servers"); ok {
			next.MCPServers = v
			changed = true
		}
		if v, ok := unified.Meta[[]string](msg, "agents"); ok {
			next.Agents = v
			changed = true
		}
		if v, ok := unified.Meta[[]string](msg, "slash_commands"); ok {
			next.SlashCommands = v
			changed = true
		}
		if v, ok := unified.Meta[[]string](msg, "skills"); ok {
			next.Skills = v
			changed = true
		}

	case unified.TypeStatusChange:
		if v, ok := unified.Meta[string](msg, "status"); ok {
			wasCompacting := next.IsCompacting
			next.IsCompacting = v == "compacting"
			next.LastStatus = v
			if wasCompacting != next.IsCompacting {
				changed = true
			} else {
				changed = true // LastStatus itself changed
			}
		}
		if v, ok := unified.Meta[string](msg, "permissionMode"); ok {
			next.PermissionMode = v
			changed = true
		}

	case unified.TypeResult:
		if v, ok := unified.Meta[float64](msg, "total_cost_usd"); ok {
			next.TotalCostUSD = v
			changed = true
		}
		if v, ok := unified.Meta[int](msg, "num_turns"); ok {
			next.NumTurns = v
			changed = true
		}
		if v, ok := unified.Meta[int64](msg, "duration_ms"); ok {
			next.LastDurationMs = v
			changed = true
		}
		if v, ok := unified.Meta[int64](msg, "duration_api_ms"); ok {
			next.LastDurationAPIMs = v
			changed = true
		}
		if v, ok := unified.Meta[int64](msg, "total_lines_added"); ok {
			next.TotalLinesAdded = v
			changed = true
		}
		if v, ok := unified.Meta[int64](msg, "total_lines_removed"); ok {
			next.TotalLinesRemoved = v
			changed = true
		}
		if v, ok := unified.Meta[ModelUsage](msg, "modelUsage"); ok {
			usage := v
			next.LastModelUsage = &usage
			if usage.ContextWindow > 0 {
				pct := int(math.Round(float64(usage.InputTokens+usage.OutputTokens) / float64(usage.ContextWindow) * 100))
				next.ContextUsedPercent = pct
			}
			changed = true
		}
		next.LastStatus = "idle"
		changed = true

	case unified.TypeControlResponse:
		if subtype, ok := unified.Meta[string](msg, "subtype"); ok && subtype == "success" {
			if resp, ok := unified.Meta[Capabilities](msg, "response"); ok {
				c := resp
				next.Capabilities = &c
				changed = true
			}
		}
	}

	if team != nil {
		updatedTeam := team.Observe(msg, next.Team)
		if (updatedTeam == nil) != (next.Team == nil) || !teamEqual(updatedTeam, next.Team) {
			next.Team = updatedTeam
			if updatedTeam == nil {
				next.Agents = nil
			}
			changed = true
		}
	}

	if !changed {
		return s, false
	}
	return next, true
}

func teamEqual(a, b *Team) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name == b.Name && a.Role == b.Role
}
