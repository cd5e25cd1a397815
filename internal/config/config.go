// Package config loads and validates the process-wide configuration for
// the sandbox daemon from the environment.
package config

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Config is the validated, immutable configuration value produced by Load.
type Config struct {
	BaseDir        string
	KernelsDir     string
	RootfsDir      string
	SandboxesDir   string
	SnapshotsDir   string
	FirecrackerBin string
	JailerBin      string

	DefaultMemoryMB int
	MinMemoryMB     int
	MaxMemoryMB     int

	DefaultVCPUCount int
	MinVCPUCount     int
	MaxVCPUCount     int

	MaxSandboxes         int
	HostReservedMemoryMB int

	VMBootTimeoutSeconds         int
	GuestAgentTimeoutSeconds     int
	CommandDefaultTimeoutSeconds int

	VsockPort      int
	MaxMessageSize int

	Host string
	Port int

	CORSOrigins []string

	// Ambient / supplemental fields (§2.1, §2.2, §4.8 of SPEC_FULL.md).
	LogLevel         string
	LogFormat        string
	SecretsARN       string
	CompactSnapshots bool
	MetricsAddr      string

	APIKeyEnabled          bool
	APIKeys                []string
	APIKeyHeader           string
	RateLimitEnabled       bool
	RateLimitRequests      int
	RateLimitWindowSeconds int
	MaxRequestSizeBytes    int64
	AllowedPathPrefixes    []string
}

var (
	mu      sync.Mutex
	current *Config
)

// Load reads the environment, optionally bootstraps missing variables
// from AWS Secrets Manager, validates the result, and caches it as the
// process singleton. Subsequent calls return the cached value.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return current, nil
	}
	if arn := os.Getenv("WORKSPACE_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}

	cfg := fromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	current = cfg
	return current, nil
}

// reset clears the singleton so tests can reload with a fresh environment.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
}

func fromEnv() *Config {
	base := envOrDefault("WORKSPACE_BASE_DIR", "/var/lib/sandboxd")
	return &Config{
		BaseDir:        base,
		KernelsDir:     envOrDefault("WORKSPACE_KERNELS_DIR", base+"/kernels"),
		RootfsDir:      envOrDefault("WORKSPACE_ROOTFS_DIR", base+"/rootfs"),
		SandboxesDir:   envOrDefault("WORKSPACE_SANDBOXES_DIR", base+"/sandboxes"),
		SnapshotsDir:   envOrDefault("WORKSPACE_SNAPSHOTS_DIR", base+"/snapshots"),
		FirecrackerBin: envOrDefault("FIRECRACKER_BIN", "/usr/bin/firecracker"),
		JailerBin:      envOrDefault("JAILER_BIN", "/usr/bin/jailer"),

		DefaultMemoryMB: envOrDefaultInt("DEFAULT_MEMORY_MB", 512),
		MinMemoryMB:     envOrDefaultInt("MIN_MEMORY_MB", 128),
		MaxMemoryMB:     envOrDefaultInt("MAX_MEMORY_MB", 8192),

		DefaultVCPUCount: envOrDefaultInt("DEFAULT_VCPU_COUNT", 1),
		MinVCPUCount:     envOrDefaultInt("MIN_VCPU_COUNT", 1),
		MaxVCPUCount:     envOrDefaultInt("MAX_VCPU_COUNT", 8),

		MaxSandboxes:         envOrDefaultInt("MAX_SANDBOXES", 20),
		HostReservedMemoryMB: envOrDefaultInt("HOST_RESERVED_MEMORY_MB", 2048),

		VMBootTimeoutSeconds:         envOrDefaultInt("VM_BOOT_TIMEOUT", 5),
		GuestAgentTimeoutSeconds:     envOrDefaultInt("GUEST_AGENT_TIMEOUT", 30),
		CommandDefaultTimeoutSeconds: envOrDefaultInt("COMMAND_DEFAULT_TIMEOUT", 300),

		VsockPort:      envOrDefaultInt("VSOCK_PORT", 5000),
		MaxMessageSize: envOrDefaultInt("MAX_MESSAGE_SIZE", 10*1024*1024),

		Host: envOrDefault("HOST", "0.0.0.0"),
		Port: envOrDefaultInt("PORT", 8080),

		CORSOrigins: envOrDefaultList("CORS_ORIGINS", []string{"*"}),

		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "text"),
		SecretsARN:       os.Getenv("WORKSPACE_SECRETS_ARN"),
		CompactSnapshots: envOrDefaultBool("WORKSPACE_COMPACT_SNAPSHOTS", true),
		MetricsAddr:      envOrDefault("METRICS_ADDR", ":9090"),

		APIKeyEnabled:          envOrDefaultBool("API_KEY_ENABLED", false),
		APIKeys:                envOrDefaultList("API_KEYS", nil),
		APIKeyHeader:           envOrDefault("API_KEY_HEADER", "X-API-Key"),
		RateLimitEnabled:       envOrDefaultBool("RATE_LIMIT_ENABLED", false),
		RateLimitRequests:      envOrDefaultInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindowSeconds: envOrDefaultInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		MaxRequestSizeBytes:    int64(envOrDefaultInt("MAX_REQUEST_SIZE_BYTES", 10*1024*1024)),
		AllowedPathPrefixes:    envOrDefaultList("ALLOWED_PATH_PREFIXES", []string{"/workspace", "/tmp"}),
	}
}

// Validate enumerates every range/consistency error found and returns
// them joined via go-multierror, rather than failing on the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.MinMemoryMB > c.MaxMemoryMB {
		result = multierror.Append(result, fmt.Errorf("MIN_MEMORY_MB (%d) > MAX_MEMORY_MB (%d)", c.MinMemoryMB, c.MaxMemoryMB))
	}
	if c.DefaultMemoryMB < c.MinMemoryMB || c.DefaultMemoryMB > c.MaxMemoryMB {
		result = multierror.Append(result, fmt.Errorf("DEFAULT_MEMORY_MB (%d) outside [%d, %d]", c.DefaultMemoryMB, c.MinMemoryMB, c.MaxMemoryMB))
	}
	if c.MinVCPUCount > c.MaxVCPUCount {
		result = multierror.Append(result, fmt.Errorf("MIN_VCPU_COUNT (%d) > MAX_VCPU_COUNT (%d)", c.MinVCPUCount, c.MaxVCPUCount))
	}
	if c.DefaultVCPUCount < c.MinVCPUCount || c.DefaultVCPUCount > c.MaxVCPUCount {
		result = multierror.Append(result, fmt.Errorf("DEFAULT_VCPU_COUNT (%d) outside [%d, %d]", c.DefaultVCPUCount, c.MinVCPUCount, c.MaxVCPUCount))
	}
	if c.MaxSandboxes < 1 {
		result = multierror.Append(result, fmt.Errorf("MAX_SANDBOXES (%d) must be >= 1", c.MaxSandboxes))
	}
	if _, err := os.Stat(c.FirecrackerBin); err != nil {
		result = multierror.Append(result, fmt.Errorf("FIRECRACKER_BIN %q not found: %w", c.FirecrackerBin, err))
	}

	return result.ErrorOrNil()
}

// TotalMemoryBudgetMB returns MemTotal (read from /proc/meminfo) minus
// the host-reserved memory, falling back to 16384-reserved when meminfo
// is unreadable or unparseable.
func (c *Config) TotalMemoryBudgetMB() int {
	memTotalMB, err := readMemTotalMB("/proc/meminfo")
	if err != nil {
		return 16384 - c.HostReservedMemoryMB
	}
	return memTotalMB - c.HostReservedMemoryMB
}

func readMemTotalMB(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed MemTotal line: %q", line)
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, fmt.Errorf("parse MemTotal: %w", err)
		}
		return kb / 1024, nil
	}
	return 0, fmt.Errorf("MemTotal not found in %s", path)
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and sets
// any values as environment variables, only if not already set (explicit
// env vars always win). Uses the default AWS credential chain.
func loadSecretsManager(arn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return fmt.Errorf("GetSecretValue: %w", err)
	}
	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return fmt.Errorf("parse secret JSON: %w", err)
	}

	applied := 0
	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}
	logrus.WithFields(logrus.Fields{
		"applied": applied,
		"total":   len(secrets),
	}).Info("config: loaded secrets from Secrets Manager, env overrides take precedence")
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
