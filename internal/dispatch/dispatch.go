// Package dispatch implements the MCP Dispatcher: the method dispatch
// table mapping an MCP method to an engine call and shaping the JSON-RPC
// result or error, covering initialize, the tools/resources/prompts
// surfaces, tool sets, resource templates, sampling, and auth/status.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oneagent/mcp-transport-core/internal/audit"
	"github.com/oneagent/mcp-transport-core/internal/engine"
	"github.com/oneagent/mcp-transport-core/internal/jsonrpc"
	"github.com/oneagent/mcp-transport-core/internal/mcperr"
	"github.com/oneagent/mcp-transport-core/internal/metrics"
	"github.com/oneagent/mcp-transport-core/internal/oauth"
	"github.com/oneagent/mcp-transport-core/internal/redact"
)

// ServerInfo identifies this server in the initialize handshake.
type ServerInfo struct {
	Name    string
	Version string
}

// Capabilities controls which optional capability blocks are advertised
// on initialize.
type Capabilities struct {
	ToolsListChanged      bool
	ToolSetsAdvertised    bool
	ResourcesSubscribe    bool
	ResourcesListChanged  bool
	ResourceTemplates     bool
	PromptsListChanged    bool
	SamplingEnabled       bool
	OAuthAuthorizationURL string
	OAuthTokenURL         string
	OAuthScopes           []string
}

// Dispatcher maps MCP methods to engine calls and shapes JSON-RPC
// results/errors. It is transport-agnostic: HTTP session
// minting and stdio initialized-flag bookkeeping happen one layer up,
// driven by the SessionID returned from Initialize.
type Dispatcher struct {
	eng             engine.Engine
	protocolVersion string
	info            ServerInfo
	caps            Capabilities
	oauthStore      *oauth.Store
	redactor        *redact.Redactor
	metrics         *metrics.Collector
	audit           *audit.Logger
	logger          *slog.Logger
}

func New(eng engine.Engine, protocolVersion string, info ServerInfo, caps Capabilities, oauthStore *oauth.Store, redactor *redact.Redactor, collector *metrics.Collector, auditLogger *audit.Logger, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if redactor == nil {
		redactor = redact.NewRedactor()
	}
	return &Dispatcher{eng: eng, protocolVersion: protocolVersion, info: info, caps: caps, oauthStore: oauthStore, redactor: redactor, metrics: collector, audit: auditLogger, logger: logger}
}

// Dispatch routes one validated JSON-RPC request to the matching method
// handler and returns the response to send back, or nil for
// notifications. Callers must have already rejected
// batch arrays and validated the envelope (jsonrpc.ValidateEnvelope)
// before calling Dispatch. sessionID is the HTTP Mcp-Session-Id for that
// transport, or "" for stdio, and is only used for metrics/audit
// attribution — dispatch itself is session-agnostic.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	result, err := d.call(ctx, req.Method, req.Params)
	duration := time.Since(start)
	if d.metrics != nil {
		d.metrics.RecordDispatch(req.Method, duration, err == nil)
	}
	if d.audit != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		d.audit.LogDispatch(ctx, sessionID, req.Method, nil, duration, err == nil, errMsg, "")
	}
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return jsonrpc.NewResult(req.ID, result)
}

func (d *Dispatcher) call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "initialize":
		return d.handleInitialize(params)
	case "notifications/initialized":
		return map[string]any{}, nil
	case "tools/list":
		return d.handleToolsList(ctx)
	case "tools/call":
		return d.handleToolsCall(ctx, params)
	case "tools/sets":
		return d.handleToolSets(ctx)
	case "resources/list":
		return d.handleResourcesList(ctx)
	case "resources/read":
		return d.handleResourcesRead(ctx, params)
	case "resources/templates":
		return d.handleResourceTemplates(ctx)
	case "prompts/list":
		return d.handlePromptsList(ctx)
	case "prompts/get":
		return d.handlePromptsGet(ctx, params)
	case "sampling/createMessage":
		return d.handleSampling(ctx, params)
	case "auth/status":
		return d.handleAuthStatus(), nil
	default:
		return nil, mcperr.MethodNotFound(method)
	}
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      *ClientInfo    `json:"clientInfo"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (d *Dispatcher) handleInitialize(params json.RawMessage) (any, error) {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, mcperr.InvalidParams("malformed initialize params: " + err.Error())
		}
	}

	capBlock := map[string]any{
		"tools":     map[string]any{"listChanged": d.caps.ToolsListChanged},
		"resources": map[string]any{"subscribe": d.caps.ResourcesSubscribe, "listChanged": d.caps.ResourcesListChanged},
		"prompts":   map[string]any{"listChanged": d.caps.PromptsListChanged},
		"logging":   map[string]any{},
	}
	if d.caps.ToolSetsAdvertised {
		capBlock["tools"].(map[string]any)["toolSets"] = true
	}
	if d.caps.ResourceTemplates {
		capBlock["resources"].(map[string]any)["templates"] = true
	}
	if d.caps.SamplingEnabled {
		capBlock["sampling"] = map[string]any{"enabled": true}
	}
	if d.caps.OAuthAuthorizationURL != "" {
		capBlock["auth"] = map[string]any{"oauth2": map[string]any{
			"authorizationUrl": d.caps.OAuthAuthorizationURL,
			"tokenUrl":         d.caps.OAuthTokenURL,
			"scopes":           d.caps.OAuthScopes,
		}}
	}

	return map[string]any{
		"protocolVersion": d.protocolVersion,
		"capabilities":    capBlock,
		"serverInfo":      map[string]any{"name": d.info.Name, "version": d.info.Version},
	}, nil
}

func (d *Dispatcher) handleToolsList(ctx context.Context) (any, error) {
	tools, err := d.eng.GetAvailableTools(ctx)
	if err != nil {
		return nil, d.wrapEngineErr(err)
	}
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		})
	}
	return map[string]any{"tools": out}, nil
}

func (d *Dispatcher) handleToolSets(ctx context.Context) (any, error) {
	tools, err := d.eng.GetAvailableTools(ctx)
	if err != nil {
		return nil, d.wrapEngineErr(err)
	}
	sets := make(map[string][]string)
	for _, t := range tools {
		key := t.ToolSet
		if key == "" {
			key = "default"
		}
		sets[key] = append(sets[key], t.Name)
	}
	return map[string]any{"toolSets": sets}, nil
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p toolCallParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, mcperr.InvalidParams("tools/call requires name and arguments")
	}
	args := p.Arguments
	if args == nil {
		args = map[string]any{}
	}
	result, err := d.eng.ProcessRequest(ctx, engine.Request{
		Type:      engine.RequestToolCall,
		Method:    p.Name,
		Params:    args,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, d.wrapEngineErr(err)
	}
	if !result.Success {
		return nil, d.resultErr(result)
	}
	return map[string]any{
		"toolResult": map[string]any{
			"type":    "data",
			"data":    result.Data,
			"success": true,
		},
		"isError": false,
	}, nil
}

func (d *Dispatcher) handleResourcesList(ctx context.Context) (any, error) {
	resources, err := d.eng.GetAvailableResources(ctx)
	if err != nil {
		return nil, d.wrapEngineErr(err)
	}
	out := make([]map[string]any, 0, len(resources))
	for _, r := range resources {
		out = append(out, map[string]any{
			"uri": r.URI, "name": r.Name, "description": r.Description, "mimeType": r.MimeType,
		})
	}
	return map[string]any{"resources": out}, nil
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, params json.RawMessage) (any, error) {
	var p resourceReadParams
	if err := json.Unmarshal(params, &p); err != nil || p.URI == "" {
		return nil, mcperr.InvalidParams("resources/read requires uri")
	}
	result, err := d.eng.ProcessRequest(ctx, engine.Request{
		Type:      engine.RequestResourceRead,
		Method:    p.URI,
		Params:    map[string]any{"uri": p.URI},
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, d.wrapEngineErr(err)
	}
	if !result.Success {
		return nil, d.resultErr(result)
	}
	mimeType := "application/json"
	text, _ := json.Marshal(result.Data)
	return map[string]any{
		"contents": []map[string]any{{"uri": p.URI, "mimeType": mimeType, "text": string(text)}},
	}, nil
}

func (d *Dispatcher) handleResourceTemplates(ctx context.Context) (any, error) {
	templates, err := d.eng.GetAvailableResourceTemplates(ctx)
	if err != nil {
		return nil, d.wrapEngineErr(err)
	}
	return map[string]any{"resourceTemplates": templates}, nil
}

func (d *Dispatcher) handlePromptsList(ctx context.Context) (any, error) {
	prompts, err := d.eng.GetAvailablePrompts(ctx)
	if err != nil {
		return nil, d.wrapEngineErr(err)
	}
	return map[string]any{"prompts": prompts}, nil
}

type promptGetParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (d *Dispatcher) handlePromptsGet(ctx context.Context, params json.RawMessage) (any, error) {
	var p promptGetParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, mcperr.InvalidParams("prompts/get requires name")
	}
	result, err := d.eng.ProcessRequest(ctx, engine.Request{
		Type:      engine.RequestPromptGet,
		Method:    p.Name,
		Params:    p.Arguments,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, d.wrapEngineErr(err)
	}
	if !result.Success {
		return nil, d.resultErr(result)
	}
	return result.Data, nil
}

type samplingParams struct {
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"maxTokens"`
	Messages    []map[string]any `json:"messages"`
}

func (d *Dispatcher) handleSampling(ctx context.Context, params json.RawMessage) (any, error) {
	var p samplingParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperr.InvalidParams("malformed sampling/createMessage params")
	}
	result, err := d.eng.ProcessRequest(ctx, engine.Request{
		Type:   engine.RequestSamplingMsg,
		Method: "sampling/createMessage",
		Params: map[string]any{
			"model": p.Model, "temperature": p.Temperature, "maxTokens": p.MaxTokens, "messages": p.Messages,
		},
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, d.wrapEngineErr(err)
	}
	if !result.Success {
		return nil, d.resultErr(result)
	}
	return result.Data, nil
}

func (d *Dispatcher) handleAuthStatus() any {
	status := map[string]any{"oauthConfigured": d.caps.OAuthAuthorizationURL != ""}
	if d.oauthStore != nil {
		status["registeredClients"] = d.oauthStore.ClientCount()
	}
	return status
}

// wrapEngineErr maps an unstructured engine failure to -32603 per spec
// §4.9 ("Any exception → -32603 Internal error"), redacting before it
// ever reaches the client.
func (d *Dispatcher) wrapEngineErr(err error) *mcperr.Error {
	return mcperr.Wrap(mcperr.KindEngine, mcperr.CodeInternalError, d.redactor.Redact(err.Error()), err)
}

// resultErr maps a structured {success:false, error} engine Result to
// -32603; implementation details must not leak beyond the message.
func (d *Dispatcher) resultErr(result engine.Result) *mcperr.Error {
	msg := "engine reported failure"
	if result.Error != nil {
		msg = result.Error.Message
	}
	return mcperr.New(mcperr.KindEngine, mcperr.CodeInternalError, d.redactor.Redact(msg))
}

func errorResponse(id any, err error) *jsonrpc.Response {
	var mErr *mcperr.Error
	if e, ok := err.(*mcperr.Error); ok {
		mErr = e
	} else {
		mErr = mcperr.Internal(err)
	}
	code := mcperr.RPCCode(mErr.Code)
	if code == 0 {
		code = mcperr.RPCInternalError
	}
	data := map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}
	return jsonrpc.NewError(id, code, mErr.Message, data)
}
