// Package protocol defines the debugger wire protocol: message shapes,
// sequence numbering, JSON serialization and framed transports.
package protocol

import "encoding/json"

// MessageType discriminates the three message shapes on the wire.
type MessageType int

const (
	// TypeRequest is a client-initiated command.
	TypeRequest MessageType = 1
	// TypeResponse answers exactly one request.
	TypeResponse MessageType = 2
	// TypeNotification is pushed by the session unsolicited.
	TypeNotification MessageType = 3
)

// String returns a string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// ErrorCode classifies a command failure on a response.
type ErrorCode int

const (
	// CodeSuccess means no error.
	CodeSuccess ErrorCode = 0
	// CodeUnknownError is an unclassified failure.
	CodeUnknownError ErrorCode = 1
	// CodeCommunicationError is a transport-level failure.
	CodeCommunicationError ErrorCode = 2
	// CodeInvalidCommand means no handler is registered for the command.
	CodeInvalidCommand ErrorCode = 3
	// CodeInvalidParameter means a required argument is missing or bad.
	CodeInvalidParameter ErrorCode = 4
	// CodeNotInitialized means the session has no interpreter yet.
	CodeNotInitialized ErrorCode = 5
	// CodeInvalidState means the command is illegal in the current state.
	CodeInvalidState ErrorCode = 6
	// CodeInternalError is an unexpected failure inside a handler.
	CodeInternalError ErrorCode = 7
	// CodeResourceNotFound means the addressed entity does not exist.
	CodeResourceNotFound ErrorCode = 8
)

// String returns a string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeUnknownError:
		return "unknown error"
	case CodeCommunicationError:
		return "communication error"
	case CodeInvalidCommand:
		return "invalid command"
	case CodeInvalidParameter:
		return "invalid parameter"
	case CodeNotInitialized:
		return "not initialized"
	case CodeInvalidState:
		return "invalid state"
	case CodeInternalError:
		return "internal error"
	case CodeResourceNotFound:
		return "resource not found"
	default:
		return "unknown"
	}
}

// Request is a client command.
type Request struct {
	Type      MessageType     `json:"type"`
	Command   string          `json:"command"`
	Seq       int64           `json:"seq"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response answers a request. ErrorCode and ErrorMessage are set only
// when Success is false.
type Response struct {
	Type         MessageType     `json:"type"`
	Command      string          `json:"command"`
	Seq          int64           `json:"seq"`
	RequestSeq   int64           `json:"request_seq"`
	Success      bool            `json:"success"`
	ErrorCode    ErrorCode       `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
}

// Notification is an unsolicited session-to-client message.
type Notification struct {
	Type    MessageType     `json:"type"`
	Command string          `json:"command"`
	Seq     int64           `json:"seq"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Envelope is the union read side of the protocol: any incoming
// message decodes into it, and the Type field tells which shape the
// remaining fields follow.
type Envelope struct {
	Type         MessageType     `json:"type"`
	Command      string          `json:"command"`
	Seq          int64           `json:"seq"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	RequestSeq   int64           `json:"request_seq,omitempty"`
	Success      bool            `json:"success,omitempty"`
	ErrorCode    ErrorCode       `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
}

// Request converts the envelope to a Request.
func (e *Envelope) Request() Request {
	return Request{
		Type:      TypeRequest,
		Command:   e.Command,
		Seq:       e.Seq,
		Arguments: e.Arguments,
	}
}

// Response converts the envelope to a Response.
func (e *Envelope) Response() Response {
	return Response{
		Type:         TypeResponse,
		Command:      e.Command,
		Seq:          e.Seq,
		RequestSeq:   e.RequestSeq,
		Success:      e.Success,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
		Body:         e.Body,
	}
}

// Notification converts the envelope to a Notification.
func (e *Envelope) Notification() Notification {
	return Notification{
		Type:    TypeNotification,
		Command: e.Command,
		Seq:     e.Seq,
		Body:    e.Body,
	}
}
