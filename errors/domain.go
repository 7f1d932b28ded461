package errors

// Domain error codes for the simple-mesh runtime, registered against the
// code-plus-trace error model in code.go instead of sentinel values or
// bare fmt.Errorf. Each constant is a distinct CodeError so callers can
// classify failures with errors.Get(err).Code() without string matching,
// while still carrying the stack trace and parent chain the underlying
// model provides.
//
// Cancelled, BrokenPromise, InvalidAction, TimedOut, PeerDisconnected,
// FramingViolated, ProtocolLayer, System, ParseFailed.
const (
	CodeCancelled CodeError = iota + 7000
	CodeBrokenPromise
	CodeInvalidAction
	CodeTimedOut
	CodePeerDisconnected
	CodeFramingViolated
	CodeProtocolLayer
	CodeSystem
	CodeParseFailed
)

func init() {
	msg := map[CodeError]string{
		CodeCancelled:        "operation cancelled",
		CodeBrokenPromise:    "awaited task has no body",
		CodeInvalidAction:    "invalid action",
		CodeTimedOut:         "operation timed out",
		CodePeerDisconnected: "peer disconnected",
		CodeFramingViolated:  "frame violates wire format",
		CodeProtocolLayer:    "protocol layer failure",
		CodeSystem:           "system error",
		CodeParseFailed:      "payload parse failed",
	}
	RegisterIdFctMessage(CodeCancelled, func(code CodeError) string {
		if m, ok := msg[code]; ok {
			return m
		}
		return UnknownMessage
	})
}

// NewCode builds an Error from one of the domain CodeError constants above,
// saving every call site from spelling out .Uint16() conversions.
func NewCode(code CodeError, message string, parent ...error) Error {
	return New(code.Uint16(), message, parent...)
}
