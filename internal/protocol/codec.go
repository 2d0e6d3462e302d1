package protocol

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// ProtocolError reports malformed wire input. The caller decides
// whether to drop the message or disconnect.
type ProtocolError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Codec builds and serializes protocol messages for one session.
//
// The sequence counter is a codec field, not process state, so
// concurrent sessions never interleave sequence numbers. Requests,
// responses and notifications share the one counter; it starts at 1
// and is never reset.
type Codec struct {
	seq atomic.Int64
}

// NewCodec creates a codec with a fresh sequence counter.
func NewCodec() *Codec {
	return &Codec{}
}

// NextSeq returns the next sequence number. Values are strictly
// increasing and never reused.
func (c *Codec) NextSeq() int64 {
	return c.seq.Add(1)
}

// Observe fast-forwards the counter past a sequence number assigned
// elsewhere. Clients number their own requests; observing each
// incoming seq keeps every later message, responses included, larger
// than the request it answers. Never moves the counter backwards.
func (c *Codec) Observe(seq int64) {
	for {
		cur := c.seq.Load()
		if cur >= seq {
			return
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// NewRequest builds a request carrying the given arguments.
func (c *Codec) NewRequest(command string, args any) (Request, error) {
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return Request{}, fmt.Errorf("marshal request arguments: %w", err)
		}
		raw = data
	}

	return Request{
		Type:      TypeRequest,
		Command:   command,
		Seq:       c.NextSeq(),
		Arguments: raw,
	}, nil
}

// NewResponse builds a successful response to a request.
func (c *Codec) NewResponse(req Request, body any) (Response, error) {
	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("marshal response body: %w", err)
		}
		raw = data
	}

	return Response{
		Type:       TypeResponse,
		Command:    req.Command,
		Seq:        c.NextSeq(),
		RequestSeq: req.Seq,
		Success:    true,
		Body:       raw,
	}, nil
}

// NewErrorResponse builds a failed response to a request.
func (c *Codec) NewErrorResponse(req Request, code ErrorCode, message string) Response {
	return Response{
		Type:         TypeResponse,
		Command:      req.Command,
		Seq:          c.NextSeq(),
		RequestSeq:   req.Seq,
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// NewNotification builds an unsolicited notification.
func (c *Codec) NewNotification(command string, body any) (Notification, error) {
	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Notification{}, fmt.Errorf("marshal notification body: %w", err)
		}
		raw = data
	}

	return Notification{
		Type:    TypeNotification,
		Command: command,
		Seq:     c.NextSeq(),
		Body:    raw,
	}, nil
}

// Encode serializes any protocol message to its wire form.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, &ProtocolError{Message: "encode message", Err: err}
	}
	return data, nil
}

// Decode parses wire bytes into an envelope. Malformed input or an
// unknown message type yields a *ProtocolError.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Message: "decode message", Err: err}
	}

	switch env.Type {
	case TypeRequest, TypeResponse, TypeNotification:
	default:
		return nil, &ProtocolError{Message: fmt.Sprintf("unknown message type %d", env.Type)}
	}

	return &env, nil
}
