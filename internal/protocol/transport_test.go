package protocol

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte(`{"type":1,"command":"initialize","seq":1}`)
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	if !strings.HasPrefix(buf.String(), "Content-Length: 41\r\n\r\n") {
		t.Errorf("frame header = %q", buf.String()[:30])
	}

	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestReadFrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing content length", "Content-Type: application/json\r\n\r\n"},
		{"invalid header line", "garbage\r\n\r\n"},
		{"non-numeric length", "Content-Length: ten\r\n\r\n"},
		{"negative length", "Content-Length: -5\r\n\r\n"},
		{"oversized length", "Content-Length: 99999999999\r\n\r\n"},
		{"truncated payload", "Content-Length: 10\r\n\r\nabc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readFrame(bufio.NewReader(strings.NewReader(tt.input)))
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPipeTransport(t *testing.T) {
	clientToServer, serverIn := io.Pipe()
	serverToClient, serverOut := io.Pipe()

	transport := NewPipeTransport(clientToServer, serverOut)
	defer transport.Close()

	// Client writes a framed request.
	go func() {
		writeFrame(serverIn, []byte(`{"type":1,"command":"pause","seq":3}`))
	}()

	payload, err := transport.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}

	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Command != "pause" || env.Seq != 3 {
		t.Errorf("received %+v", env)
	}

	// Server sends a response; client reads it.
	done := make(chan []byte, 1)
	go func() {
		data, err := readFrame(bufio.NewReader(serverToClient))
		if err != nil {
			close(done)
			return
		}
		done <- data
	}()

	if err := transport.Send([]byte(`{"type":2,"command":"pause","seq":4,"request_seq":3,"success":true}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	data, ok := <-done
	if !ok {
		t.Fatal("client read failed")
	}
	env, err = Decode(data)
	if err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	if env.Type != TypeResponse || env.RequestSeq != 3 {
		t.Errorf("response envelope = %+v", env)
	}
}

func TestSocketTransport(t *testing.T) {
	server, client := net.Pipe()

	st := NewSocketTransport(server)
	defer st.Close()
	ct := NewSocketTransport(client)
	defer ct.Close()

	go func() {
		ct.Send([]byte(`{"type":1,"command":"listBreakpoints","seq":1}`))
	}()

	payload, err := st.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}

	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Command != "listBreakpoints" {
		t.Errorf("command = %q", env.Command)
	}
}

// rwc joins a reader and writer into a ReadWriteCloser.
type rwc struct {
	io.Reader
	io.Writer
}

func (rwc) Close() error { return nil }

func TestRawTransport(t *testing.T) {
	var out bytes.Buffer

	var in bytes.Buffer
	writeFrame(&in, []byte(`{"type":3,"command":"stopped","seq":9}`))

	rt := NewRawTransport(rwc{Reader: &in, Writer: &out})

	payload, err := rt.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeNotification || env.Command != "stopped" {
		t.Errorf("envelope = %+v", env)
	}

	if err := rt.Send([]byte(`{}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Len() == 0 {
		t.Error("Send wrote nothing")
	}
}
