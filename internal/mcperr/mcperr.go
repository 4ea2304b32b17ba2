// Package mcperr defines the canonical error taxonomy shared by every
// transport and component in this module, and the mapping from taxonomy
// kinds to JSON-RPC codes and HTTP statuses.
package mcperr

import "fmt"

// Kind is one of the six error taxonomy categories.
type Kind string

const (
	KindTransport Kind = "transport" // framing/IO
	KindProtocol  Kind = "protocol"  // schema/JSON-RPC
	KindAuth      Kind = "auth"      // origin/session
	KindNotFound  Kind = "not_found" // session/mission/channel/method
	KindEngine    Kind = "engine"    // downstream failure
	KindInternal  Kind = "internal"  // unhandled
)

// Code is a canonical, stable error code string independent of transport.
type Code string

const (
	CodeInvalidMessage  Code = "invalid_message"
	CodeInvalidJSON     Code = "invalid_json"
	CodeUnknownChannel  Code = "unknown_channel"
	CodeUnknownMission  Code = "unknown_mission"
	CodeSessionNotFound Code = "session_not_found"
	CodeOriginDenied    Code = "origin_denied"
	CodeMethodNotFound  Code = "method_not_found"
	CodeInvalidParams   Code = "invalid_params"
	CodeInternalError   Code = "internal_error"
	CodeSessionExists   Code = "session_exists"
)

// JSON-RPC 2.0 reserved error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
)

// rpcCodeByTaxonomy maps a canonical Code to its JSON-RPC numeric code.
// Codes with no JSON-RPC representation (e.g. unknown_channel, which is a
// WS-native error, not a JSON-RPC response) are mapped to 0.
var rpcCodeByTaxonomy = map[Code]int{
	CodeInvalidMessage:  RPCInvalidRequest,
	CodeInvalidJSON:     RPCParseError,
	CodeUnknownChannel:  0,
	CodeUnknownMission:  0,
	CodeSessionNotFound: RPCInvalidParams,
	CodeOriginDenied:    0,
	CodeMethodNotFound:  RPCMethodNotFound,
	CodeInvalidParams:   RPCInvalidParams,
	CodeInternalError:   RPCInternalError,
}

// RPCCode returns the JSON-RPC numeric code for a canonical error code, or
// 0 if the code has no JSON-RPC wire representation.
func RPCCode(c Code) int {
	return rpcCodeByTaxonomy[c]
}

// HTTPStatus returns the HTTP status associated with a canonical error
// code, for transports that surface errors outside the JSON-RPC envelope
// (origin denial, unknown session).
func HTTPStatus(c Code) int {
	switch c {
	case CodeOriginDenied:
		return 403
	case CodeSessionNotFound:
		return 404
	case CodeInvalidMessage, CodeInvalidJSON, CodeInvalidParams:
		return 400
	default:
		return 500
	}
}

// Error is the typed error value carried through the stack. Message is
// always safe to show a client; Details is optional, additional context
// that engine-facing callers may log but should not forward verbatim.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// SessionNotFound, OriginDenied, etc. are convenience constructors for the
// taxonomy's most frequently raised members.
func SessionNotFound(id string) *Error {
	return New(KindNotFound, CodeSessionNotFound, "session not found: "+id)
}

func SessionExists(id string) *Error {
	return New(KindAuth, CodeSessionExists, "session already exists: "+id)
}

func OriginDenied(origin string) *Error {
	return New(KindAuth, CodeOriginDenied, "origin denied: "+origin)
}

func MethodNotFound(method string) *Error {
	return New(KindProtocol, CodeMethodNotFound, "method not found: "+method)
}

func InvalidParams(reason string) *Error {
	return New(KindProtocol, CodeInvalidParams, "invalid params: "+reason)
}

func Internal(cause error) *Error {
	msg := "internal error"
	return Wrap(KindInternal, CodeInternalError, msg, cause)
}

func UnknownChannel(name string) *Error {
	return New(KindNotFound, CodeUnknownChannel, "unknown channel: "+name)
}

func UnknownMission(id string) *Error {
	return New(KindNotFound, CodeUnknownMission, "unknown mission: "+id)
}

func InvalidMessage(reason string) *Error {
	return New(KindProtocol, CodeInvalidMessage, "invalid message: "+reason)
}

func InvalidJSON(reason string) *Error {
	return New(KindTransport, CodeInvalidJSON, "invalid json: "+reason)
}
