// Package vsockrpc is the host-side client for the guest agent RPC
// transport: dial the vsock multiplexer UDS, perform the textual
// CONNECT handshake to a fixed guest port, then exchange 4-byte
// big-endian length-prefixed JSON request/response frames.
package vsockrpc

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/opensandbox/sandboxd/internal/apierrors"
)

const connectRetryInterval = 100 * time.Millisecond

// Client is a single-stream RPC connection to one guest. The guest side
// of the vsock transport is not multiplexed, so a Client serializes all
// calls behind its own lock — callers never need to hold it themselves.
type Client struct {
	mu             sync.Mutex
	udsPath        string
	guestPort      int
	maxMessageSize int
	conn           net.Conn
	reader         *bufio.Reader
}

func New(udsPath string, guestPort, maxMessageSize int) *Client {
	return &Client{udsPath: udsPath, guestPort: guestPort, maxMessageSize: maxMessageSize}
}

// Connect dials the multiplexer UDS and performs the CONNECT handshake,
// retrying on a 100ms backoff until timeout elapses. Every retry opens
// a fresh socket.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		conn, reader, err := dialAndHandshake(ctx, c.udsPath, c.guestPort, deadline)
		if err == nil {
			c.closeLocked()
			c.conn = conn
			c.reader = reader
			return nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return apierrors.Wrap(apierrors.GuestUnreachable, "vsock connect timed out", lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectRetryInterval):
		}
	}
}

func dialAndHandshake(ctx context.Context, udsPath string, port int, deadline time.Time) (net.Conn, *bufio.Reader, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", udsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("dial multiplexer: %w", err)
	}
	// Bound the handshake so a peer that never answers cannot stall the
	// retry loop past the connect timeout.
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("set handshake deadline: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "CONNECT %d\n", port); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("write CONNECT: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	if !strings.HasPrefix(line, "OK") {
		conn.Close()
		return nil, nil, fmt.Errorf("handshake failed: %q", strings.TrimSpace(line))
	}
	conn.SetDeadline(time.Time{})
	return conn, reader, nil
}

// Close disconnects the underlying socket. Safe to call when not connected.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

// Call sends a request frame and reads a response frame, applying a
// socket-level deadline of timeout (the caller's logical timeout; exec
// adds +5s for guest-side wrap-up before calling, see Exec below).
func (c *Client) Call(ctx context.Context, req map[string]any, timeout time.Duration) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, apierrors.New(apierrors.GuestUnreachable, "vsock client not connected")
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if len(payload) > c.maxMessageSize {
		return nil, apierrors.New(apierrors.ValidationError, fmt.Sprintf("request frame of %d bytes exceeds max_message_size %d", len(payload), c.maxMessageSize))
	}

	if err := writeFrame(c.conn, payload); err != nil {
		c.closeLocked()
		return nil, apierrors.Wrap(apierrors.GuestUnreachable, "write request frame", err)
	}

	respPayload, err := readFrame(c.reader, c.maxMessageSize)
	if err != nil {
		c.closeLocked()
		return nil, apierrors.Wrap(apierrors.GuestUnreachable, "read response frame", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return nil, apierrors.Wrap(apierrors.GuestUnreachable, "unmarshal response frame", err)
	}
	return resp, nil
}

func writeFrame(w net.Conn, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader, maxMessageSize int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := readFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if int(length) > maxMessageSize {
		return nil, fmt.Errorf("response frame of %d bytes exceeds max_message_size %d", length, maxMessageSize)
	}
	payload := make([]byte, length)
	if _, err := readFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
