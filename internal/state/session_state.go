// Package state defines SessionState and the pure reducer that applies an
// incoming unified.Message to it, grounded on the teacher's
// internal/domain/session.go SessionState field set, generalized to the
// spec's exact field list.
package state

// MCPServer reflects one configured MCP server's status.
type MCPServer struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ModelUsage captures the last reported token usage for a model, used to
// derive ContextUsedPercent.
type ModelUsage struct {
	Model           string `json:"model"`
	InputTokens     int64  `json:"inputTokens"`
	OutputTokens    int64  `json:"outputTokens"`
	ContextWindow   int64  `json:"contextWindow"`
}

// Capabilities is the stored result of a successful capability handshake
// (spec §4.3).
type Capabilities struct {
	Commands  []CommandInfo  `json:"commands"`
	Models    []ModelInfo    `json:"models"`
	Account   map[string]any `json:"account,omitempty"`
	ReceivedAt int64         `json:"receivedAt"`
}

type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ModelInfo struct {
	Value string `json:"value"`
}

// Team reflects the team-tools reducer's derived team state.
type Team struct {
	Name    string       `json:"name"`
	Role    string       `json:"role"`
	Members []string     `json:"members"`
	Tasks   []TeamTask   `json:"tasks"`
}

type TeamTask struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// SessionState is one instance per session, mutable only via Reduce.
type SessionState struct {
	SessionID         string
	Model             string
	Cwd               string
	Tools             []string // insertion order preserved, set semantics
	PermissionMode    string
	ClaudeCodeVersion string
	MCPServers        []MCPServer
	Agents            []string
	SlashCommands     []string
	Skills            []string
	TotalCostUSD      float64
	NumTurns          int
	ContextUsedPercent int
	IsCompacting      bool

	GitBranch string
	IsWorktree bool
	RepoRoot  string
	GitAhead  int
	GitBehind int

	TotalLinesAdded   int64
	TotalLinesRemoved int64

	LastModelUsage    *ModelUsage
	LastDurationMs    int64
	LastDurationAPIMs int64

	Capabilities *Capabilities
	Team         *Team

	LastStatus string // "", "idle", "running", "compacting", etc.
}

// Clone returns a deep-enough copy for the copy-on-write reducer contract:
// every slice/pointer field that Reduce may mutate is copied so the new
// state never aliases the old one's mutable storage.
func (s SessionState) Clone() SessionState {
	c := s
	c.Tools = append([]string(nil), s.Tools...)
	c.MCPServers = append([]MCPServer(nil), s.MCPServers...)
	c.Agents = append([]string(nil), s.Agents...)
	c.SlashCommands = append([]string(nil), s.SlashCommands...)
	c.Skills = append([]string(nil), s.Skills...)
	if s.LastModelUsage != nil {
		u := *s.LastModelUsage
		c.LastModelUsage = &u
	}
	if s.Capabilities != nil {
		cap := *s.Capabilities
		cap.Commands = append([]CommandInfo(nil), s.Capabilities.Commands...)
		cap.Models = append([]ModelInfo(nil), s.Capabilities.Models...)
		c.Capabilities = &cap
	}
	if s.Team != nil {
		tm := *s.Team
		tm.Members = append([]string(nil), s.Team.Members...)
		tm.Tasks = append([]TeamTask(nil), s.Team.Tasks...)
		c.Team = &tm
	}
	return c
}

func insertUnique(existing []string, add []string) ([]string, bool) {
	changed := false
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	out := existing
	for _, v := range add {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
			changed = true
		}
	}
	return out, changed
}
