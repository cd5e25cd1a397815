package guestagent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultMaxMessageSize = 10 * 1024 * 1024 // 10 MiB, per SPEC_FULL.md §6

// Dispatcher handles one decoded request at a time. It has no concept of
// which sandbox it is running inside — that is entirely the host's
// bookkeeping; the dispatcher only ever sees a single guest filesystem.
type Dispatcher struct {
	log            *logrus.Entry
	maxMessageSize int
}

func NewDispatcher(log *logrus.Entry) *Dispatcher {
	return &Dispatcher{log: log, maxMessageSize: defaultMaxMessageSize}
}

// Serve reads and dispatches frames off conn until it errors or closes.
// Each accepted connection is handled sequentially: the host's vsockrpc
// Client only ever has one frame in flight at a time per connection.
func (d *Dispatcher) Serve(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		payload, err := readFrame(reader, d.maxMessageSize)
		if err != nil {
			return
		}
		req, err := decodeRequest(payload)
		if err != nil {
			d.log.WithError(err).Warn("guestagent: malformed request frame")
			return
		}

		resp := d.dispatch(req)
		out, err := encodeResponse(resp)
		if err != nil {
			d.log.WithError(err).Error("guestagent: failed to encode response")
			return
		}
		if err := writeFrame(conn, out); err != nil {
			return
		}
	}
}

func (d *Dispatcher) dispatch(req map[string]any) map[string]any {
	action, _ := req["action"].(string)
	switch action {
	case "ping":
		return map[string]any{"success": true}
	case "exec":
		return d.handleExec(req)
	case "read_file":
		return d.handleReadFile(req)
	case "write_file":
		return d.handleWriteFile(req)
	case "delete_file":
		return d.handleDeleteFile(req)
	case "list_files":
		return d.handleListFiles(req)
	case "mkdir":
		return d.handleMkdir(req)
	case "stat":
		return d.handleStat(req)
	default:
		return failure(fmt.Sprintf("unknown action %q", action))
	}
}

func failure(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func stringField(req map[string]any, key string) string {
	v, _ := req[key].(string)
	return v
}

func (d *Dispatcher) handleExec(req map[string]any) map[string]any {
	command := stringField(req, "command")
	workingDir := stringField(req, "working_dir")
	timeoutSeconds, _ := req["timeout_seconds"].(float64)
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := map[string]any{
		"success": err == nil,
		"stdout":  stdout.String(),
		"stderr":  stderr.String(),
	}
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		result["exit_code"] = -1
		result["error"] = fmt.Sprintf("command timed out after %d seconds", int(timeoutSeconds))
	case err == nil:
		result["exit_code"] = 0
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result["exit_code"] = exitErr.ExitCode()
			result["error"] = exitErr.Error()
		} else {
			result["exit_code"] = -1
			result["error"] = err.Error()
		}
	}
	return result
}

// handleReadFile always base64-encodes: content is opaque bytes from the
// guest's point of view, and JSON marshaling a raw Go string silently
// mangles any byte sequence that isn't valid UTF-8.
func (d *Dispatcher) handleReadFile(req map[string]any) map[string]any {
	path := stringField(req, "path")
	data, err := os.ReadFile(path)
	if err != nil {
		return failure(err.Error())
	}
	return map[string]any{"success": true, "content": base64.StdEncoding.EncodeToString(data), "is_base64": true}
}

func (d *Dispatcher) handleWriteFile(req map[string]any) map[string]any {
	path := stringField(req, "path")
	content := stringField(req, "content")
	isBase64, _ := req["is_base64"].(bool)

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return failure(fmt.Sprintf("decode base64 content: %v", err))
		}
		data = decoded
	} else {
		data = []byte(content)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return failure(err.Error())
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return failure(err.Error())
	}
	return map[string]any{"success": true}
}

func (d *Dispatcher) handleDeleteFile(req map[string]any) map[string]any {
	path := stringField(req, "path")
	if err := os.RemoveAll(path); err != nil {
		return failure(err.Error())
	}
	return map[string]any{"success": true}
}

func (d *Dispatcher) handleListFiles(req map[string]any) map[string]any {
	path := stringField(req, "path")
	entries, err := os.ReadDir(path)
	if err != nil {
		return failure(err.Error())
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		out = append(out, map[string]any{
			"name":   e.Name(),
			"is_dir": e.IsDir(),
			"size":   size,
		})
	}
	return map[string]any{"success": true, "entries": out}
}

func (d *Dispatcher) handleMkdir(req map[string]any) map[string]any {
	path := stringField(req, "path")
	if err := os.MkdirAll(path, 0755); err != nil {
		return failure(err.Error())
	}
	return map[string]any{"success": true}
}

func (d *Dispatcher) handleStat(req map[string]any) map[string]any {
	path := stringField(req, "path")
	info, err := os.Stat(path)
	if err != nil {
		return failure(err.Error())
	}
	return map[string]any{
		"success":  true,
		"path":     path,
		"is_dir":   info.IsDir(),
		"size":     info.Size(),
		"mode":     info.Mode().String(),
		"mod_time": info.ModTime().UTC().Format(time.RFC3339),
	}
}
