package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensandbox/sandboxd/internal/apierrors"
	"github.com/opensandbox/sandboxd/internal/artifact"
	"github.com/opensandbox/sandboxd/internal/capacity"
	"github.com/opensandbox/sandboxd/internal/config"
	"github.com/opensandbox/sandboxd/internal/sandbox"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		KernelsDir:           filepath.Join(base, "kernels"),
		RootfsDir:            filepath.Join(base, "rootfs"),
		SandboxesDir:         filepath.Join(base, "sandboxes"),
		SnapshotsDir:         filepath.Join(base, "snapshots"),
		MaxSandboxes:         10,
		MinMemoryMB:          128,
		MaxMemoryMB:          8192,
		DefaultMemoryMB:      512,
		DefaultVCPUCount:     1,
		HostReservedMemoryMB: 512,
		MaxRequestSizeBytes:  10 * 1024 * 1024,
		CORSOrigins:          []string{"*"},
	}
	layout := artifact.New(cfg)
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}

	mgr := sandbox.NewManager(cfg, layout, nil)
	acct := capacity.New(cfg, mgr)
	mgr.SetAdmitter(acct)
	return NewServer(mgr, acct, cfg)
}

func TestHealthEndpointReportsZeroSandboxes(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"active_sandboxes":0`) {
		t.Fatalf("body = %s, want substring %q", rec.Body.String(), `"active_sandboxes":0`)
	}
}

func TestCapacityEndpointReportsDefaults(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/capacity", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"can_create_default":true`) {
		t.Fatalf("body = %s, want substring %q", rec.Body.String(), `"can_create_default":true`)
	}
}

func TestGetUnknownSandboxReturns404(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sandboxes/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRespondErrorMapsEveryKindToItsStatus(t *testing.T) {
	cases := []struct {
		kind apierrors.Kind
		want int
	}{
		{apierrors.ValidationError, http.StatusBadRequest},
		{apierrors.CapacityExceeded, http.StatusServiceUnavailable},
		{apierrors.NotFound, http.StatusNotFound},
		{apierrors.MissingArtifact, http.StatusInternalServerError},
		{apierrors.HypervisorError, http.StatusInternalServerError},
		{apierrors.GuestUnreachable, http.StatusInternalServerError},
		{apierrors.InvalidState, http.StatusInternalServerError},
	}

	e := testServer(t).Echo()
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		if err := respondError(c, apierrors.New(tc.kind, "boom")); err != nil {
			t.Fatalf("respondError: %v", err)
		}
		if rec.Code != tc.want {
			t.Errorf("kind %v: status = %d, want %d", tc.kind, rec.Code, tc.want)
		}
	}
}

func TestRespondErrorFallsBackTo500ForNonCoreErrors(t *testing.T) {
	e := testServer(t).Echo()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := respondError(c, errors.New("unexpected")); err != nil {
		t.Fatalf("respondError: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
