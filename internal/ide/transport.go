// Package ide connects a session to a DBGp client, typically an IDE that
// listens for debugger connections, and serves the commands it sends.
//
// Commands arrive NUL terminated. Responses go back as packets: the
// decimal payload length, NUL, the XML payload, NUL.
package ide

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/ctagard/dontbug/internal/dbgp"
)

// DefaultAddress is where IDEs conventionally listen for DBGp engines.
const DefaultAddress = "127.0.0.1:9000"

// MaxPacketSize bounds the payload length ReadPacket accepts.
const MaxPacketSize = 16 << 20

// Transport handles communication with a DBGp client
type Transport struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer
	mu     sync.Mutex
}

// Dial connects to an IDE listening at address
func Dial(ctx context.Context, address string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewTransport(conn), nil
}

// NewTransport wraps an established connection
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// SendPacket frames and writes one response
func (t *Transport) SendPacket(payload string) error {
	return t.write(dbgp.Packet(payload))
}

// SendCommand writes one NUL terminated command. This is the client side
// of the exchange.
func (t *Transport) SendCommand(command string) error {
	return t.write(command + "\x00")
}

func (t *Transport) write(s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.writer.WriteString(s); err != nil {
		return fmt.Errorf("failed to write DBGp message: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DBGp message: %w", err)
	}
	return nil
}

// ReadCommand reads one command without its terminator
func (t *Transport) ReadCommand() (string, error) {
	line, err := t.reader.ReadString(0)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\x00"), nil
}

// ReadPacket reads one framed response and returns its payload
func (t *Transport) ReadPacket() (string, error) {
	size, err := t.reader.ReadString(0)
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(strings.TrimRight(size, "\x00"))
	if err != nil || n < 0 {
		return "", fmt.Errorf("invalid DBGp packet length %q", size)
	}
	if n > MaxPacketSize {
		return "", fmt.Errorf("DBGp packet length %d exceeds %d", n, MaxPacketSize)
	}
	buf := make([]byte, n+1)
	if _, err := io.ReadFull(t.reader, buf); err != nil {
		return "", fmt.Errorf("failed to read DBGp packet: %w", err)
	}
	if buf[n] != 0 {
		return "", fmt.Errorf("DBGp packet of length %d is not NUL terminated", n)
	}
	return string(buf[:n]), nil
}

// Close closes the transport
func (t *Transport) Close() error {
	return t.conn.Close()
}
