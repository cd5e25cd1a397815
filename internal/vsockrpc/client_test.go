package vsockrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// fakeGuest emulates the multiplexer UDS plus a single guest agent: it
// accepts one connection, expects the CONNECT handshake, then answers
// every framed request with whatever handler returns for it.
func fakeGuest(t *testing.T, udsPath string, handler func(req map[string]any) map[string]any) net.Listener {
	t.Helper()
	ln, err := net.Listen("unix", udsPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 256)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		_ = n
		if _, err := conn.Write([]byte("OK 1234\n")); err != nil {
			return
		}

		reader := bufio.NewReader(conn)
		for {
			payload, err := readFrame(reader, 10*1024*1024)
			if err != nil {
				return
			}
			var req map[string]any
			if err := json.Unmarshal(payload, &req); err != nil {
				return
			}
			resp := handler(req)
			respBytes, _ := json.Marshal(resp)
			if err := writeFrame(conn, respBytes); err != nil {
				return
			}
		}
	}()
	return ln
}

func TestConnectAndPing(t *testing.T) {
	dir := t.TempDir()
	udsPath := filepath.Join(dir, "vsock.sock")

	ln := fakeGuest(t, udsPath, func(req map[string]any) map[string]any {
		if req["action"] == "ping" {
			return map[string]any{"success": true}
		}
		return map[string]any{"success": false, "error": "unexpected action"}
	})
	defer ln.Close()

	client := New(udsPath, 5000, 10*1024*1024)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestExecRoundTrip(t *testing.T) {
	dir := t.TempDir()
	udsPath := filepath.Join(dir, "vsock.sock")

	ln := fakeGuest(t, udsPath, func(req map[string]any) map[string]any {
		return map[string]any{
			"success":   true,
			"exit_code": float64(0),
			"stdout":    "ok\n",
			"stderr":    "",
		}
	})
	defer ln.Close()

	client := New(udsPath, 5000, 10*1024*1024)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	result, err := client.Exec(ctx, "echo ok", "", 5)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !result.Success {
		t.Errorf("Success = false, want true")
	}
	if result.Stdout != "ok\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "ok\n")
	}
}

func TestConnectHandshakeFailure(t *testing.T) {
	dir := t.TempDir()
	udsPath := filepath.Join(dir, "vsock.sock")

	ln, err := net.Listen("unix", udsPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		conn.Read(buf)
		conn.Write([]byte("ERROR bad port\n"))
	}()

	client := New(udsPath, 5000, 10*1024*1024)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := client.Connect(ctx, 200*time.Millisecond); err == nil {
		t.Fatal("Connect: err = nil, want error on bad handshake")
	}
}
