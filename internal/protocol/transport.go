package protocol

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Transport carries framed protocol payloads between session and
// client. Send may be called from any goroutine: notifications are
// pushed at arbitrary points, including mid-handler, so writers are
// serialized internally.
type Transport interface {
	// Send writes one framed payload.
	Send(payload []byte) error

	// Receive reads the next framed payload.
	Receive() ([]byte, error)

	// Close closes the transport.
	Close() error
}

// MaxContentLength is the maximum allowed payload size (10MB).
const MaxContentLength = 10 * 1024 * 1024

// writeFrame writes a Content-Length framed payload.
func writeFrame(w io.Writer, payload []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	if _, err := w.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// readFrame reads a Content-Length framed payload.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var contentLength int

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		parts := strings.SplitN(line, ": ", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid header: %s", line)
		}

		if strings.EqualFold(parts[0], "content-length") {
			length, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid content-length: %w", err)
			}
			if length < 0 || length > MaxContentLength {
				return nil, fmt.Errorf("content-length %d exceeds maximum allowed %d", length, MaxContentLength)
			}
			contentLength = length
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return payload, nil
}

// StdioTransport serves the protocol over the process's own standard
// streams.
type StdioTransport struct {
	in     io.ReadCloser
	out    io.WriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewStdioTransport creates a transport over os.Stdin and os.Stdout.
func NewStdioTransport() *StdioTransport {
	return NewPipeTransport(os.Stdin, os.Stdout)
}

// NewPipeTransport creates a stdio-style transport over an arbitrary
// reader/writer pair.
func NewPipeTransport(in io.ReadCloser, out io.WriteCloser) *StdioTransport {
	return &StdioTransport{
		in:     in,
		out:    out,
		reader: bufio.NewReader(in),
	}
}

// Send writes one framed payload.
func (t *StdioTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeFrame(t.out, payload)
}

// Receive reads the next framed payload.
func (t *StdioTransport) Receive() ([]byte, error) {
	return readFrame(t.reader)
}

// Close closes both streams.
func (t *StdioTransport) Close() error {
	t.in.Close()
	return t.out.Close()
}

// SocketTransport serves the protocol over a TCP connection.
type SocketTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewSocketTransport wraps an accepted connection.
func NewSocketTransport(conn net.Conn) *SocketTransport {
	return &SocketTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// DialSocketTransport connects to a listening debugger, for clients.
func DialSocketTransport(address string) (*SocketTransport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewSocketTransport(conn), nil
}

// Send writes one framed payload.
func (t *SocketTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeFrame(t.conn, payload)
}

// Receive reads the next framed payload.
func (t *SocketTransport) Receive() ([]byte, error) {
	return readFrame(t.reader)
}

// Close closes the connection.
func (t *SocketTransport) Close() error {
	return t.conn.Close()
}

// RawTransport wraps any io.ReadWriteCloser as a Transport.
type RawTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewRawTransport creates a transport from any ReadWriteCloser.
func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// Send writes one framed payload.
func (t *RawTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeFrame(t.rwc, payload)
}

// Receive reads the next framed payload.
func (t *RawTransport) Receive() ([]byte, error) {
	return readFrame(t.reader)
}

// Close closes the underlying connection.
func (t *RawTransport) Close() error {
	return t.rwc.Close()
}
