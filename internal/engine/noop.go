package engine

import (
	"context"
	"fmt"
)

// Noop is a minimal Engine with an empty catalog, used by cmd/mcpd as the
// default collaborator when no real engine is wired in. It answers every
// catalog listing with zero entries and fails any call that would
// require real business logic, so the transport core is runnable
// standalone without masking the absence of a real engine as success.
type Noop struct{}

func (Noop) GetAvailableTools(ctx context.Context) ([]Tool, error)                         { return nil, nil }
func (Noop) GetAvailableResources(ctx context.Context) ([]Resource, error)                 { return nil, nil }
func (Noop) GetAvailableResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) { return nil, nil }
func (Noop) GetAvailablePrompts(ctx context.Context) ([]Prompt, error)                     { return nil, nil }

func (Noop) ProcessRequest(ctx context.Context, req Request) (Result, error) {
	return Result{}, fmt.Errorf("no engine configured: cannot serve %s %s", req.Type, req.Method)
}

func (Noop) On(event Event, handler Handler) {}

func (Noop) Initialize(ctx context.Context, transport string) error { return nil }
func (Noop) Shutdown(ctx context.Context) error                     { return nil }
