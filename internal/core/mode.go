// Package core is the orchestration layer.  It composes the loader
// packages into complete operational modes and provides a builder that
// selects the right mode from a Config.
//
// Layers (bottom → top):
//
//	frame  →  namespace/assembler  →  handoff  →  core  →  cmd (CLI)
//	payload  →  transport/tunnel   ─────────────┘
package core

import "context"

// Mode is a complete operational mode of stagehand (serve, pack, or
// deliver).  Each mode owns its full lifecycle.
type Mode interface {
	Run(ctx context.Context) error
}
