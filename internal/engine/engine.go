// Package engine defines the contract this transport core dispatches
// validated MCP requests to. The engine itself (tool execution, resource
// reads, prompt rendering, sampling) is an external collaborator; this
// package only carries the interface and the request/
// result shapes the dispatcher and mission executor need to talk to it.
package engine

import "context"

// Tool describes one callable tool in the engine's catalog.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	ToolSet     string         `json:"-"`
}

// Resource describes one readable resource in the engine's catalog.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a templated URI pattern returned by
// resources/templates.
type ResourceTemplate struct {
	URITemplate string         `json:"uriTemplate"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	MimeType    string         `json:"mimeType,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Prompt describes one prompt template in the engine's catalog.
type Prompt struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Arguments   []PromptArg    `json:"arguments,omitempty"`
	Metadata    map[string]any `json:"-"`
}

// PromptArg is one named argument a prompt accepts.
type PromptArg struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// RequestType distinguishes the MCP surfaces Request may target.
type RequestType string

const (
	RequestToolCall      RequestType = "tool_call"
	RequestResourceRead  RequestType = "resource_read"
	RequestPromptGet     RequestType = "prompt_get"
	RequestSamplingMsg   RequestType = "sampling_create_message"
	RequestMissionCommand RequestType = "mission_command"
)

// Request is the uniform envelope the dispatcher and mission executor
// hand to the engine.
type Request struct {
	ID        string
	Type      RequestType
	Method    string
	Params    map[string]any
	Timestamp int64
}

// Result is what processRequest returns. Exactly one of Data or Error is
// meaningful when Success is false/true respectively.
type Result struct {
	Success      bool
	Data         any
	Error        *ResultError
	QualityScore float64
}

// ResultError carries an engine-originated failure. Message is always
// safe to show a client; Details may contain additional context that
// callers should log but not forward verbatim.
type ResultError struct {
	Message string
	Details string
}

func (e *ResultError) Error() string { return e.Message }

// Event is one of the three change notifications the engine may emit:
// toolsChanged, resourcesChanged, or promptsChanged.
type Event string

const (
	EventToolsChanged     Event = "toolsChanged"
	EventResourcesChanged Event = "resourcesChanged"
	EventPromptsChanged   Event = "promptsChanged"
)

// Handler reacts to an Engine change notification.
type Handler func(Event)

// Engine is the external collaborator that produces tool/resource/prompt
// results. Implementations are supplied by the embedding application;
// this module never implements business logic against it, only the
// transport and dispatch plumbing that calls it.
type Engine interface {
	GetAvailableTools(ctx context.Context) ([]Tool, error)
	GetAvailableResources(ctx context.Context) ([]Resource, error)
	GetAvailableResourceTemplates(ctx context.Context) ([]ResourceTemplate, error)
	GetAvailablePrompts(ctx context.Context) ([]Prompt, error)

	ProcessRequest(ctx context.Context, req Request) (Result, error)

	On(event Event, handler Handler)

	Initialize(ctx context.Context, transport string) error
	Shutdown(ctx context.Context) error
}
