package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mir00r/domain-router/internal/config"
	"github.com/mir00r/domain-router/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	commands [][]string
}

func (r *recordingRunner) run(ctx context.Context, argv []string) ([]byte, error) {
	r.commands = append(r.commands, argv)
	return []byte("ok"), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Type = "memory"
	cfg.HAProxy.ConfigPath = filepath.Join(t.TempDir(), "haproxy.cfg")
	cfg.HAProxy.CheckCommand = "haproxy -c -f {file}"
	cfg.HAProxy.ReloadCommand = "true"
	cfg.Admin.RateLimit.Enabled = false
	return cfg
}

func TestContainerAppliesStoredDomains(t *testing.T) {
	cfg := testConfig(t)
	runner := &recordingRunner{}
	c, err := NewContainer(cfg, logger.NewNop(), Options{Runner: runner.run})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.GetRoutingService().Create(ctx, "example.com")
	require.NoError(t, err)

	report, err := c.GetRoutingService().Apply(ctx)
	require.NoError(t, err)
	assert.True(t, report.Checked)
	assert.True(t, report.Reloaded)
	require.Len(t, runner.commands, 2)
	assert.Equal(t, "haproxy", runner.commands[0][0])

	installed, err := os.ReadFile(cfg.HAProxy.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(installed), "example.com")
	assert.Contains(t, string(installed), cfg.SystemBackend.HTTPAddress)

	hosts, err := c.GetRecordStore().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com"}, hosts)
}

func TestContainerRejectsBadApplierConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HAProxy.ConfigPath = ""
	_, err := NewContainer(cfg, nil, Options{})
	assert.Error(t, err)

	_, err = NewContainer(nil, nil, Options{})
	assert.Error(t, err)
}

func TestHTTPHandler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Auth.Enabled = true
	cfg.Admin.Auth.Secret = "0123456789abcdef"
	c, err := NewContainer(cfg, logger.NewNop(), Options{Runner: (&recordingRunner{}).run})
	require.NoError(t, err)

	h, err := c.HTTPHandler("test")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health checks skip token auth")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cfg = testConfig(t)
	cfg.Metrics.Path = "/internal/metrics"
	c, err = NewContainer(cfg, logger.NewNop(), Options{Runner: (&recordingRunner{}).run})
	require.NoError(t, err)
	h, err = c.HTTPHandler("test")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "domain_router_domains")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateConfiguration(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewContainer(cfg, logger.NewNop(), Options{Runner: (&recordingRunner{}).run})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.GetRoutingService().Create(ctx, "example.com")
	require.NoError(t, err)

	next := testConfig(t)
	next.Logging.Level = "debug"
	next.SystemBackend.HTTPAddress = "127.0.0.1:7080"
	require.NoError(t, c.UpdateConfiguration(next))

	assert.Equal(t, "debug", c.GetLogger().GetLevel().String())
	assert.Same(t, next, c.GetConfiguration())

	out, err := c.GetRoutingService().Compile(ctx, "example.com")
	require.NoError(t, err)
	assert.Contains(t, out.Text(), "server system 127.0.0.1:7080")
	assert.False(t, strings.Contains(out.Text(), cfg.SystemBackend.HTTPAddress))

	bad := testConfig(t)
	bad.Logging.Level = "loud"
	assert.Error(t, c.UpdateConfiguration(bad))
	assert.Same(t, next, c.GetConfiguration())
}
