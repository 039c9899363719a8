// Package mcpregistry validates MCP server configurations before the
// agentsdk adapter spawns them as subprocess toolsets, adapted from the
// teacher's internal/provider/mcpregistry.go: the command must resolve to an
// absolute path and arguments are bounded, catching misconfiguration rather
// than attempting to sandbox a trusted local MCP server.
package mcpregistry

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath = errors.New("mcpregistry: command path is not absolute")
	ErrTooManyArgs = errors.New("mcpregistry: too many arguments")
	ErrArgTooLong  = errors.New("mcpregistry: argument exceeds maximum length")
	ErrInvalidArg  = errors.New("mcpregistry: argument contains invalid characters")
)

const (
	DefaultMaxArgs      = 50
	DefaultMaxArgLength = 4096
)

// ServerConfig mirrors agentsdk.MCPServerConfig's Name/Command/Args shape,
// kept as its own type so this package stays independent of the backend it
// validates for.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
}

// Registry validates MCP server configs before they are spawned. The
// teacher's registry also supported an allowlist-only mode
// (allowAll=false); BeamCode's MCP servers are operator-configured the same
// way the teacher's were (spec has no separate MCP-approval workflow), so
// only the always-on allowAll validation path is carried over.
type Registry struct {
	enabled      bool
	maxArgs      int
	maxArgLength int
}

// New constructs an enabled Registry with the teacher's default limits.
func New() *Registry {
	return &Registry{enabled: true, maxArgs: DefaultMaxArgs, maxArgLength: DefaultMaxArgLength}
}

// Disable turns off validation, letting every config through unchecked.
func (r *Registry) Disable() { r.enabled = false }

// Validate checks cfg against the absolute-path and argument-bound rules.
func (r *Registry) Validate(cfg ServerConfig) error {
	if !r.enabled {
		return nil
	}
	if !filepath.IsAbs(cfg.Command) {
		return fmt.Errorf("%w: %s", ErrInvalidPath, cfg.Command)
	}
	if len(cfg.Args) > r.maxArgs {
		return fmt.Errorf("%w: got %d, max %d", ErrTooManyArgs, len(cfg.Args), r.maxArgs)
	}
	for _, arg := range cfg.Args {
		if len(arg) > r.maxArgLength {
			return fmt.Errorf("%w: length %d exceeds max %d", ErrArgTooLong, len(arg), r.maxArgLength)
		}
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("%w: contains NUL byte", ErrInvalidArg)
		}
	}
	return nil
}
