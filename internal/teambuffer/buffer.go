// Package teambuffer implements the per-session team-tool correlation
// buffer: it pairs tool_use blocks naming a recognized team tool with their
// eventual tool_result, applying a small team-state reducer on correlation
// and pruning uncorrelated entries after a TTL. Grounded on the teacher's
// general correlation-buffer shape (internal/session/provider_run.go's
// mutex-guarded tracking pattern) since the teacher has no team-tool
// feature of its own to copy directly — spec §4.8 names the behavior but
// leaves the tool catalog implementation-defined.
package teambuffer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/beamcode/beamcode/internal/state"
	"github.com/beamcode/beamcode/internal/unified"
)

// DefaultTTL is the 30-second TTL named in spec §4.8 and §5.
const DefaultTTL = 30 * time.Second

// Recognized team tool names. A team tool's ToolUseBlock.Input carries the
// operation-specific fields (name/role for team_join, title/status for
// team_task, etc.); the result correlates back via ToolResultBlock.ToolUseID.
const (
	ToolTeamCreate = "team_create"
	ToolTeamJoin   = "team_join"
	ToolTeamLeave  = "team_leave"
	ToolTeamTask   = "team_task"
	ToolTeamDelete = "team_delete"
)

type pendingCall struct {
	toolName  string
	input     json.RawMessage
	createdAt time.Time
}

// Buffer correlates tool_use/tool_result pairs for one session.
type Buffer struct {
	mu      sync.Mutex
	pending map[string]pendingCall // tool_use id -> call
	ttl     time.Duration
	now     func() time.Time
}

// New constructs a Buffer with the default TTL.
func New() *Buffer {
	return &Buffer{pending: make(map[string]pendingCall), ttl: DefaultTTL, now: time.Now}
}

func isTeamTool(name string) bool {
	switch name {
	case ToolTeamCreate, ToolTeamJoin, ToolTeamLeave, ToolTeamTask, ToolTeamDelete:
		return true
	default:
		return false
	}
}

// Observe scans msg's content blocks, buffering recognized team tool_use
// calls and attempting to correlate any tool_result against a buffered
// call. When a correlation succeeds, it applies the team-state reducer and
// returns the updated Team (nil once team_delete correlates); when nothing
// correlates it returns team unchanged. It also prunes entries older
// than the TTL on every call, per spec's "scheduled prune, not a background
// scan" design note.
func (b *Buffer) Observe(msg unified.Message, team *state.Team) *state.Team {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked()

	updated := team
	for _, block := range msg.Content {
		if block.ToolUse != nil && isTeamTool(block.ToolUse.Name) {
			b.pending[block.ToolUse.ID] = pendingCall{
				toolName:  block.ToolUse.Name,
				input:     block.ToolUse.Input,
				createdAt: b.now(),
			}
		}
		if block.ToolResult != nil {
			call, ok := b.pending[block.ToolResult.ToolUseID]
			if !ok {
				continue
			}
			delete(b.pending, block.ToolResult.ToolUseID)
			if block.ToolResult.IsError {
				continue
			}
			updated = applyTeamReducer(updated, call)
		}
	}
	return updated
}

func (b *Buffer) pruneLocked() {
	cutoff := b.now().Add(-b.ttl)
	for id, call := range b.pending {
		if call.createdAt.Before(cutoff) {
			delete(b.pending, id)
		}
	}
}

// PendingCount reports how many uncorrelated team tool_use calls are
// currently buffered, for tests/metrics.
func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

type teamInput struct {
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Member string `json:"member,omitempty"`
	Task   struct {
		ID     string `json:"id,omitempty"`
		Title  string `json:"title,omitempty"`
		Status string `json:"status,omitempty"`
	} `json:"task,omitempty"`
}

func applyTeamReducer(team *state.Team, call pendingCall) *state.Team {
	var in teamInput
	_ = json.Unmarshal(call.input, &in)

	switch call.toolName {
	case ToolTeamCreate:
		return &state.Team{Name: in.Name, Role: in.Role, Members: []string{}, Tasks: []state.TeamTask{}}
	case ToolTeamDelete:
		return nil // deleting the team also resets agents=[] at the reducer call site
	case ToolTeamJoin:
		if team == nil {
			team = &state.Team{}
		}
		next := *team
		next.Members = append(append([]string(nil), team.Members...), in.Member)
		return &next
	case ToolTeamLeave:
		if team == nil {
			return nil
		}
		next := *team
		members := make([]string, 0, len(team.Members))
		for _, m := range team.Members {
			if m != in.Member {
				members = append(members, m)
			}
		}
		next.Members = members
		return &next
	case ToolTeamTask:
		if team == nil {
			team = &state.Team{}
		}
		next := *team
		tasks := append([]state.TeamTask(nil), team.Tasks...)
		found := false
		for i, t := range tasks {
			if t.ID == in.Task.ID {
				tasks[i].Title = in.Task.Title
				tasks[i].Status = in.Task.Status
				found = true
				break
			}
		}
		if !found {
			tasks = append(tasks, state.TeamTask{ID: in.Task.ID, Title: in.Task.Title, Status: in.Task.Status})
		}
		next.Tasks = tasks
		return &next
	default:
		return team
	}
}
