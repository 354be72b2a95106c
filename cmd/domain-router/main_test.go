package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mir00r/domain-router/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyRecord = `{
  "domain": "shop.example.com",
  "servers": [{"name": "web1", "address": "10.0.0.5:8080"}],
  "pathRules": [{"name": "api", "path": "/api", "servers": [{"name": "api1", "address": "10.0.0.6:9000"}]}]
}`

const danglingRecord = `{
  "domain": "example.com",
  "routingMode": "advanced",
  "defaultBackend": "system",
  "aclRules": [{"name": "api", "condition": "path_beg", "pattern": "/api", "backend": "be_api"}],
  "backends": [],
  "ssl": {"mode": "none"}
}`

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DR_CONFIG_FILE", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateCommand(t *testing.T) {
	out, err := executeCommand(t, "validate", writeFile(t, "shop.json", legacyRecord))
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com: valid (legacy schema)\n", out)

	out, err = executeCommand(t, "validate", writeFile(t, "example.json", danglingRecord))
	require.Error(t, err)
	assert.Contains(t, out, "DANGLING_RULE_REFERENCE")

	_, err = executeCommand(t, "validate", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNormalizeCommand(t *testing.T) {
	path := writeFile(t, "shop.json", legacyRecord)

	out, err := executeCommand(t, "normalize", path)
	require.NoError(t, err)
	rec, format, err := record.Decode([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, record.FormatCurrent, format)
	assert.Equal(t, "advanced", rec.RoutingMode)
	assert.Equal(t, "be_default", rec.DefaultBackend)

	unchanged, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, legacyRecord, string(unchanged), "without --write the file is left alone")

	_, err = executeCommand(t, "normalize", "--write", path)
	require.NoError(t, err)
	rewritten, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out, string(rewritten))

	again, err := executeCommand(t, "normalize", path)
	require.NoError(t, err)
	assert.Equal(t, out, again, "normalizing is idempotent")
}

func TestCompileCommand(t *testing.T) {
	path := writeFile(t, "shop.json", legacyRecord)

	out, err := executeCommand(t, "compile", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# domain shop.example.com"))
	assert.Contains(t, out, "10.0.0.6:9000")

	full, err := executeCommand(t, "compile", "--full", path)
	require.NoError(t, err)
	assert.Contains(t, full, "frontend fe_http")

	_, err = executeCommand(t, "compile", writeFile(t, "example.json", danglingRecord))
	assert.Error(t, err)
}

func TestResolveAddressCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "ipv4", args: []string{"127.0.0.1:3000"}, want: "127.0.0.1:3000\n"},
		{name: "ipv6 fields", args: []string{"--type", "ipv6", "--host", "::1", "--port", "8080"}, want: "[::1]:8080\n"},
		{name: "abstract socket", args: []string{"abns@app"}, want: "abns@app\n"},
		{name: "missing port", args: []string{"10.0.0.1"}, wantErr: true},
		{name: "unknown type", args: []string{"--type", "pigeon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, append([]string{"resolve-address"}, tt.args...)...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestTokenCommand(t *testing.T) {
	_, err := executeCommand(t, "token")
	assert.Error(t, err, "no secret configured")

	t.Setenv("DR_ADMIN_AUTH_SECRET", "0123456789abcdef")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--subject", "ci"})
	require.NoError(t, cmd.Execute())

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("0123456789abcdef"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
}

func TestGetPort(t *testing.T) {
	t.Setenv("PORT", "")
	assert.Equal(t, 9090, getPort(9090))

	t.Setenv("PORT", "8181")
	assert.Equal(t, 8181, getPort(9090))

	t.Setenv("PORT", "99999")
	assert.Equal(t, 9090, getPort(9090))

	t.Setenv("PORT", "")
	assert.Equal(t, "[::1]:9090", listenAddress("::1", 9090))
}
