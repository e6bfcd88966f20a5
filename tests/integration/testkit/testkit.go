package testkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/sha1n/codegrok/internal/app"
	"github.com/spf13/pflag"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

func (e *testEnvImpl) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, err
		}
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

func (e *testEnvImpl) Stop() error {
	var lastErr error
	// Stop in reverse order
	for i := len(e.services) - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port       int    // Uses free port if 0
	Host       string // Defaults to "localhost"
	SourceRoot string // Defaults to a temp dir
	IndexDir   string // Defaults to a temp dir
	Watch      bool
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	var o FlagOptions
	if opts != nil {
		o = *opts
	}
	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.SourceRoot == "" {
		o.SourceRoot = t.TempDir()
	}
	if o.IndexDir == "" {
		o.IndexDir = filepath.Join(t.TempDir(), "index")
	}

	_ = flags.Set("port", fmt.Sprintf("%d", o.Port))
	_ = flags.Set("host", o.Host)
	_ = flags.Set("source-root", o.SourceRoot)
	_ = flags.Set("index-dir", o.IndexDir)
	_ = flags.Set("ctags-path", "ctags")
	_ = flags.Set("log-level", "warn")
	if o.Watch {
		_ = flags.Set("watch", "true")
	}

	return flags
}

// ServerService runs the HTTP server in-process for the lifetime of a test
type ServerService struct {
	Flags  *pflag.FlagSet
	Params app.RunParams

	cancel context.CancelFunc
	done   chan error
}

// NewServerService creates a server service using production dependencies
// with logs discarded.
func NewServerService(flags *pflag.FlagSet) *ServerService {
	params := app.DefaultRunParams()
	params.LogOutput = io.Discard
	return &ServerService{Flags: flags, Params: params}
}

// GetName returns the service name
func (s *ServerService) GetName() string {
	return "codegrok-server"
}

// Start launches the server and waits until /health answers.
// It publishes the server's base URL as "base_url".
func (s *ServerService) Start() (map[string]any, error) {
	host, _ := s.Flags.GetString("host")
	port, _ := s.Flags.GetInt("port")
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- app.RunWithDeps(ctx, s.Params, s.Flags, "test")
	}()

	if err := waitForHealth(baseURL, s.done, 10*time.Second); err != nil {
		cancel()
		return nil, err
	}
	return map[string]any{"base_url": baseURL}, nil
}

// Stop shuts the server down and waits for it to exit
func (s *ServerService) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case err := <-s.done:
		return err
	case <-time.After(15 * time.Second):
		return errors.New("server did not stop")
	}
}

func waitForHealth(baseURL string, done <-chan error, timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			return fmt.Errorf("server exited during startup: %w", err)
		default:
		}

		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not healthy after %s", baseURL, timeout)
}
