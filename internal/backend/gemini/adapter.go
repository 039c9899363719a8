// Package gemini implements spec §4.1 adapter 4: it is not a distinct
// protocol but a thin parameterization of the ACP adapter, launching the
// `gemini` CLI with `--experimental-acp` and inheriting ACP's capability
// set, exactly as spec.md specifies ("Delegates to the ACP adapter with
// command gemini and the --experimental-acp flag").
package gemini

import (
	"context"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/backend/acp"
	"github.com/beamcode/beamcode/internal/process"
)

// Config configures the Gemini delegate. GeminiBin defaults to "gemini".
type Config struct {
	GeminiBin   string
	WorkingDir  string
	Environment map[string]string
	Supervisor  *process.Supervisor
	DenyListEnv []string
}

// Adapter wraps an ACP adapter pinned to the gemini CLI.
type Adapter struct {
	inner *acp.Adapter
}

func New(cfg Config) *Adapter {
	bin := cfg.GeminiBin
	if bin == "" {
		bin = "gemini"
	}
	return &Adapter{inner: acp.New(acp.Config{
		Command:     bin,
		Args:        []string{"--experimental-acp"},
		WorkingDir:  cfg.WorkingDir,
		Environment: cfg.Environment,
		Supervisor:  cfg.Supervisor,
		DenyListEnv: cfg.DenyListEnv,
	})}
}

func (a *Adapter) Capabilities() backend.Capabilities {
	return a.inner.Capabilities()
}

func (a *Adapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	return a.inner.Connect(ctx, opts)
}
