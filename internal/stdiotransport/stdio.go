// Package stdiotransport implements the Stdio MCP Transport: reading
// Content-Length framed JSON-RPC from stdin, dispatching synchronously,
// and writing framed responses to stdout with all diagnostics routed to
// stderr — stdout never carries anything but protocol frames.
package stdiotransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/oneagent/mcp-transport-core/internal/dispatch"
	"github.com/oneagent/mcp-transport-core/internal/jsonrpc"
	"github.com/oneagent/mcp-transport-core/internal/mcperr"
)

// Transport serves one stdio peer: a synchronous read-dispatch-write
// loop. stdout never carries anything but framed JSON-RPC; every log
// line goes to the logger (which the caller must have pointed at
// stderr).
type Transport struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func New(d *dispatch.Dispatcher, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{dispatcher: d, logger: logger}
}

// Serve reads framed messages from in and writes framed responses to
// out until in is exhausted or ctx is done. Exactly one response per
// request; notifications produce no response.
func (t *Transport) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := jsonrpc.NewStdioReader(in)
	writer := jsonrpc.NewStdioWriter(out)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp := t.handle(ctx, raw)
		if resp == nil {
			continue
		}
		data, err := json.Marshal(resp)
		if err != nil {
			t.logger.Error("encode response failed", "error", err)
			continue
		}
		if err := writer.Write(data); err != nil {
			return err
		}
	}
}

func (t *Transport) handle(ctx context.Context, raw []byte) *jsonrpc.Response {
	if jsonrpc.IsBatch(raw) {
		return jsonrpc.NewError(nil, mcperr.RPCInvalidRequest, "batch requests are not supported", nil)
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		// No id is recoverable from unparseable JSON; resync by logging
		// and returning a parse error keyed to null.
		t.logger.Warn("stdio parse error", "error", err)
		return jsonrpc.NewError(nil, mcperr.RPCParseError, "parse error", nil)
	}
	if err := jsonrpc.ValidateEnvelope(&req); err != nil {
		return jsonrpc.NewError(req.ID, mcperr.RPCInvalidRequest, err.Error(), nil)
	}

	return t.dispatcher.Dispatch(ctx, "", &req)
}
