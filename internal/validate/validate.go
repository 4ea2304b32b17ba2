// Package validate implements the Inbound/Outbound Validators:
// shape-checking Mission-Control WS inbound messages and outbound frames
// against compiled JSON Schemas. The JSON-RPC envelope check used by the
// MCP transports lives in package jsonrpc (ValidateEnvelope), not here.
// Schemas are compiled once at startup.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// The six Mission-Control WS inbound message types.
const (
	InboundSubscribe     = "subscribe"
	InboundUnsubscribe   = "unsubscribe"
	InboundPing          = "ping"
	InboundWhoami        = "whoami"
	InboundMissionStart  = "mission_start"
	InboundMissionCancel = "mission_cancel"
)

var inboundSchemas = map[string]map[string]any{
	InboundSubscribe: {
		"type":       "object",
		"properties": map[string]any{"type": map[string]any{"const": InboundSubscribe}, "channels": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
		"required":   []string{"type", "channels"},
	},
	InboundUnsubscribe: {
		"type":       "object",
		"properties": map[string]any{"type": map[string]any{"const": InboundUnsubscribe}, "channels": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
		"required":   []string{"type", "channels"},
	},
	InboundPing: {
		"type":       "object",
		"properties": map[string]any{"type": map[string]any{"const": InboundPing}},
		"required":   []string{"type"},
	},
	InboundWhoami: {
		"type":       "object",
		"properties": map[string]any{"type": map[string]any{"const": InboundWhoami}},
		"required":   []string{"type"},
	},
	InboundMissionStart: {
		"type":       "object",
		"properties": map[string]any{"type": map[string]any{"const": InboundMissionStart}, "command": map[string]any{"type": "string"}},
		"required":   []string{"type", "command"},
	},
	InboundMissionCancel: {
		"type":       "object",
		"properties": map[string]any{"type": map[string]any{"const": InboundMissionCancel}, "missionId": map[string]any{"type": "string"}},
		"required":   []string{"type", "missionId"},
	},
}

var outboundSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"type":      map[string]any{"type": "string"},
		"id":        map[string]any{"type": "string"},
		"timestamp": map[string]any{"type": "string"},
		"unix":      map[string]any{"type": "number"},
		"server": map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}, "version": map[string]any{"type": "string"}},
			"required":   []string{"name", "version"},
		},
	},
	"required": []string{"type", "id", "timestamp", "unix", "server"},
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

// Validator compiles and holds the inbound/outbound schemas once at
// startup; Validate* calls are read-only and safe for concurrent use.
type Validator struct {
	inbound  map[string]*jsonschema.Schema
	outbound *jsonschema.Schema
	logger   *slog.Logger
}

// New compiles every inbound and outbound schema. It panics only on an
// internal schema authoring bug, never on caller input.
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{inbound: make(map[string]*jsonschema.Schema), logger: logger}
	for name, schema := range inboundSchemas {
		compiled, err := compileSchema(name+".json", schema)
		if err != nil {
			panic(fmt.Sprintf("validate: compiling inbound schema %q: %v", name, err))
		}
		v.inbound[name] = compiled
	}
	compiled, err := compileSchema("outbound.json", outboundSchema)
	if err != nil {
		panic(fmt.Sprintf("validate: compiling outbound schema: %v", err))
	}
	v.outbound = compiled
	return v
}

// InboundMessage pairs an inbound message's type with its decoded fields.
// ValidateInbound does not use it: it reads the "type" field into its own
// probe struct before validating the raw payload against the matching
// schema.
type InboundMessage struct {
	Type json.RawMessage `json:"-"`
	Raw  map[string]any  `json:"-"`
}

// ValidateInbound shape-checks raw against the schema for the message's
// declared "type" field. Unknown types are rejected.
func (v *Validator) ValidateInbound(raw []byte) (msgType string, err error) {
	var probe struct {
		Type string `json:"type"`
	}
	if jsonErr := json.Unmarshal(raw, &probe); jsonErr != nil {
		return "", fmt.Errorf("invalid json: %w", jsonErr)
	}
	schema, ok := v.inbound[probe.Type]
	if !ok {
		return probe.Type, fmt.Errorf("unknown message type: %q", probe.Type)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return probe.Type, fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return probe.Type, err
	}
	return probe.Type, nil
}

// ValidateOutbound best-effort checks an outbound frame against the
// known envelope shape. Failure logs but never aborts the send; callers
// invoke this for observability, not gating.
func (v *Validator) ValidateOutbound(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		v.logger.Warn("outbound frame not serializable", "error", err)
		return
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		v.logger.Warn("outbound frame re-decode failed", "error", err)
		return
	}
	if err := v.outbound.Validate(doc); err != nil {
		v.logger.Warn("outbound frame failed shape validation", "error", err)
	}
}
