package guestagent

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testDispatcher() *Dispatcher {
	return NewDispatcher(logrus.NewEntry(logrus.New()))
}

func TestDispatchPing(t *testing.T) {
	d := testDispatcher()
	resp := d.dispatch(map[string]any{"action": "ping"})
	if resp["success"] != true {
		t.Fatalf("success = %v, want true", resp["success"])
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	d := testDispatcher()
	resp := d.dispatch(map[string]any{"action": "levitate"})
	if resp["success"] != false {
		t.Fatalf("success = %v, want false", resp["success"])
	}
}

func TestDispatchWriteThenReadFileRoundTrips(t *testing.T) {
	d := testDispatcher()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "hello.txt")

	writeResp := d.dispatch(map[string]any{
		"action":  "write_file",
		"path":    path,
		"content": "hello world",
	})
	if writeResp["success"] != true {
		t.Fatalf("write success = %v, want true", writeResp["success"])
	}

	readResp := d.dispatch(map[string]any{"action": "read_file", "path": path})
	if readResp["success"] != true {
		t.Fatalf("read success = %v, want true", readResp["success"])
	}
	if readResp["is_base64"] != true {
		t.Fatalf("is_base64 = %v, want true", readResp["is_base64"])
	}
	decoded, err := base64.StdEncoding.DecodeString(readResp["content"].(string))
	if err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if string(decoded) != "hello world" {
		t.Fatalf("content = %q, want %q", decoded, "hello world")
	}
}

// TestDispatchReadFileBinaryContentRoundTrips covers content that is
// neither NUL-containing nor valid UTF-8: a naive text/binary sniff
// would let this through as a raw string and JSON would mangle it.
func TestDispatchReadFileBinaryContentRoundTrips(t *testing.T) {
	d := testDispatcher()
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	resp := d.dispatch(map[string]any{"action": "read_file", "path": path})
	if resp["success"] != true {
		t.Fatalf("success = %v, want true", resp["success"])
	}
	if resp["is_base64"] != true {
		t.Fatalf("is_base64 = %v, want true", resp["is_base64"])
	}
	decoded, err := base64.StdEncoding.DecodeString(resp["content"].(string))
	if err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("content = %x, want %x", decoded, raw)
	}
}

func TestDispatchReadFileMissingReturnsFailure(t *testing.T) {
	d := testDispatcher()
	resp := d.dispatch(map[string]any{"action": "read_file", "path": "/nonexistent/path"})
	if resp["success"] != false {
		t.Fatalf("success = %v, want false", resp["success"])
	}
	if resp["error"] == "" || resp["error"] == nil {
		t.Fatalf("error = %v, want non-empty", resp["error"])
	}
}

func TestDispatchMkdirAndListFiles(t *testing.T) {
	d := testDispatcher()
	dir := t.TempDir()
	sub := filepath.Join(dir, "child")

	mkResp := d.dispatch(map[string]any{"action": "mkdir", "path": sub})
	if mkResp["success"] != true {
		t.Fatalf("mkdir success = %v, want true", mkResp["success"])
	}

	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	listResp := d.dispatch(map[string]any{"action": "list_files", "path": dir})
	if listResp["success"] != true {
		t.Fatalf("list success = %v, want true", listResp["success"])
	}
	entries, ok := listResp["entries"].([]map[string]any)
	if !ok {
		t.Fatalf("entries type = %T, want []map[string]any", listResp["entries"])
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestDispatchDeleteFile(t *testing.T) {
	d := testDispatcher()
	dir := t.TempDir()
	path := filepath.Join(dir, "victim.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	delResp := d.dispatch(map[string]any{"action": "delete_file", "path": path})
	if delResp["success"] != true {
		t.Fatalf("delete success = %v, want true", delResp["success"])
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("stat after delete: err = %v, want IsNotExist", err)
	}
}

func TestDispatchStat(t *testing.T) {
	d := testDispatcher()
	dir := t.TempDir()
	path := filepath.Join(dir, "info.txt")
	if err := os.WriteFile(path, []byte("12345"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	resp := d.dispatch(map[string]any{"action": "stat", "path": path})
	if resp["success"] != true {
		t.Fatalf("success = %v, want true", resp["success"])
	}
	if resp["size"] != int64(5) {
		t.Fatalf("size = %v, want 5", resp["size"])
	}
	if resp["is_dir"] != false {
		t.Fatalf("is_dir = %v, want false", resp["is_dir"])
	}
}

func TestDispatchExecCapturesStdoutAndExitCode(t *testing.T) {
	d := testDispatcher()
	resp := d.dispatch(map[string]any{"action": "exec", "command": "echo hi"})
	if resp["success"] != true {
		t.Fatalf("success = %v, want true", resp["success"])
	}
	if resp["stdout"] != "hi\n" {
		t.Fatalf("stdout = %q, want %q", resp["stdout"], "hi\n")
	}
	if resp["exit_code"] != 0 {
		t.Fatalf("exit_code = %v, want 0", resp["exit_code"])
	}
}

func TestDispatchExecNonZeroExit(t *testing.T) {
	d := testDispatcher()
	resp := d.dispatch(map[string]any{"action": "exec", "command": "exit 3"})
	if resp["success"] != false {
		t.Fatalf("success = %v, want false", resp["success"])
	}
	if resp["exit_code"] != 3 {
		t.Fatalf("exit_code = %v, want 3", resp["exit_code"])
	}
}

func TestDispatchExecTimeoutReportsTimedOut(t *testing.T) {
	d := testDispatcher()
	resp := d.dispatch(map[string]any{
		"action":          "exec",
		"command":         "sleep 5",
		"timeout_seconds": float64(1),
	})
	if resp["success"] != false {
		t.Fatalf("success = %v, want false", resp["success"])
	}
	errMsg, _ := resp["error"].(string)
	if !strings.Contains(errMsg, "timed out") {
		t.Fatalf("error = %q, want substring %q", errMsg, "timed out")
	}
}
