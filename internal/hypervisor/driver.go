// Package hypervisor drives a single Firecracker subprocess over its
// per-sandbox control UNIX domain socket, using HTTP/1.1 framed over
// the UDS exactly as Firecracker's own control API expects.
package hypervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

// Driver talks to one Firecracker process's control socket.
type Driver struct {
	socketPath string
	httpClient *http.Client
}

func NewDriver(socketPath string) *Driver {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Driver{
		socketPath: socketPath,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

// Error is a driver-level failure, annotated with the endpoint it hit
// and the hypervisor's fault_message when one was returned.
type Error struct {
	Endpoint string
	Status   int
	Fault    string
	Cause    error
}

func (e *Error) Error() string {
	if e.Fault != "" {
		return fmt.Sprintf("hypervisor %s: status %d: %s", e.Endpoint, e.Status, e.Fault)
	}
	if e.Cause != nil {
		return fmt.Sprintf("hypervisor %s: %v", e.Endpoint, e.Cause)
	}
	return fmt.Sprintf("hypervisor %s: status %d", e.Endpoint, e.Status)
}

func (e *Error) Unwrap() error { return e.Cause }

// WaitForSocket polls for the control UDS to appear at 100ms intervals,
// up to timeout. This is step 8 of SandboxManager.create (SPEC_FULL.md
// §4.6) and the analogous wait in resume.
func WaitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s waiting for control socket %s", timeout, path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (d *Driver) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Endpoint: path, Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, &Error{Endpoint: path, Status: resp.StatusCode, Fault: extractFaultMessage(respBody)}
	}
	return respBody, nil
}

func extractFaultMessage(body []byte) string {
	var payload struct {
		FaultMessage string `json:"fault_message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.FaultMessage == "" {
		return string(bytes.TrimSpace(body))
	}
	return payload.FaultMessage
}

// ConfigureMachine is PUT /machine-config.
func (d *Driver) ConfigureMachine(ctx context.Context, vcpuCount, memMiB int) error {
	_, err := d.do(ctx, http.MethodPut, "/machine-config", map[string]any{
		"vcpu_count":   vcpuCount,
		"mem_size_mib": memMiB,
		"smt":          false,
	})
	return err
}

// SetBootSource is PUT /boot-source.
func (d *Driver) SetBootSource(ctx context.Context, kernelPath string) error {
	_, err := d.do(ctx, http.MethodPut, "/boot-source", map[string]any{
		"kernel_image_path": kernelPath,
		"boot_args":         "console=ttyS0 reboot=k panic=1 pci=off init=/sbin/init",
	})
	return err
}

// AttachRootDrive is PUT /drives/rootfs.
func (d *Driver) AttachRootDrive(ctx context.Context, hostPath string) error {
	_, err := d.do(ctx, http.MethodPut, "/drives/rootfs", map[string]any{
		"drive_id":       "rootfs",
		"path_on_host":   hostPath,
		"is_root_device": true,
		"is_read_only":   false,
	})
	return err
}

// AttachVsock is PUT /vsock.
func (d *Driver) AttachVsock(ctx context.Context, guestCID uint32, udsPath string) error {
	_, err := d.do(ctx, http.MethodPut, "/vsock", map[string]any{
		"vsock_id":  "vsock0",
		"guest_cid": guestCID,
		"uds_path":  udsPath,
	})
	return err
}

// InstanceStart is PUT /actions {"action_type":"InstanceStart"}.
func (d *Driver) InstanceStart(ctx context.Context) error {
	_, err := d.do(ctx, http.MethodPut, "/actions", map[string]any{"action_type": "InstanceStart"})
	return err
}

// SendCtrlAltDel requests a graceful guest shutdown.
func (d *Driver) SendCtrlAltDel(ctx context.Context) error {
	_, err := d.do(ctx, http.MethodPut, "/actions", map[string]any{"action_type": "SendCtrlAltDel"})
	return err
}

// PauseVM is PATCH /vm {"state":"Paused"}.
func (d *Driver) PauseVM(ctx context.Context) error {
	_, err := d.do(ctx, http.MethodPatch, "/vm", map[string]any{"state": "Paused"})
	return err
}

// SnapshotCreate is PUT /snapshot/create.
func (d *Driver) SnapshotCreate(ctx context.Context, snapshotPath, memFilePath string) error {
	_, err := d.do(ctx, http.MethodPut, "/snapshot/create", map[string]any{
		"snapshot_type": "Full",
		"snapshot_path": snapshotPath,
		"mem_file_path": memFilePath,
	})
	return err
}

// SnapshotLoad is PUT /snapshot/load.
func (d *Driver) SnapshotLoad(ctx context.Context, snapshotPath, memFilePath string, resumeVM bool) error {
	_, err := d.do(ctx, http.MethodPut, "/snapshot/load", map[string]any{
		"snapshot_path": snapshotPath,
		"mem_backend": map[string]any{
			"backend_path": memFilePath,
			"backend_type": "File",
		},
		"enable_diff_snapshots": false,
		"resume_vm":             resumeVM,
	})
	return err
}
