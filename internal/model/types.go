package model

// ErrorKind classifies why a request failed. Exactly one kind is set on a
// failed response; audit records carry the same value for correlation.
type ErrorKind string

const (
	ErrUnknownOperation     ErrorKind = "unknown_operation"
	ErrValidation           ErrorKind = "validation_error"
	ErrSecurityViolation    ErrorKind = "security_violation"
	ErrConfirmationRequired ErrorKind = "confirmation_required"
	ErrExecutionStart       ErrorKind = "execution_start_failure"
	ErrExecutionTimeout     ErrorKind = "execution_timeout"
	ErrExecutionNonZeroExit ErrorKind = "execution_nonzero_exit"
	ErrAuditWrite           ErrorKind = "audit_write_failure"
)

// Request is one caller-supplied invocation of a registered operation.
type Request struct {
	ID        string         `json:"id,omitempty"`
	Operation string         `json:"operation"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Confirm   bool           `json:"confirm,omitempty"`
}

// ErrorInfo is the caller-visible error inside a response envelope.
// Message stays generic for security failures; the audit log carries
// the detail.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Metrics holds the per-request measurements exposed in the envelope.
type Metrics struct {
	ElapsedMs int64 `json:"elapsedMs"`
	ExitCode  int   `json:"exitCode"`
}

// Response is the wire-stable envelope returned for every request.
// Transports pass it through verbatim; the HTTP adapter answers 200 even
// for failures, which are expressed only inside this envelope.
type Response struct {
	OK          bool           `json:"ok"`
	Summary     string         `json:"summary"`
	NeedConfirm bool           `json:"needConfirm,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Stdout      string         `json:"stdout,omitempty"`
	Stderr      string         `json:"stderr,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	Metrics     Metrics        `json:"metrics"`
}

// Fail builds a failed response with the given kind and caller-safe message.
func Fail(kind ErrorKind, summary, message string) Response {
	return Response{
		OK:      false,
		Summary: summary,
		Error:   &ErrorInfo{Kind: kind, Message: message},
		Metrics: Metrics{ExitCode: -1},
	}
}

// Status is the audit-facing disposition string for a response.
func (r Response) Status() string {
	if r.OK {
		return "ok"
	}
	if r.Error != nil {
		return string(r.Error.Kind)
	}
	return "failed"
}
