package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-datasource/internal/status"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/info":
			_, _ = w.Write([]byte(`{"name":"info"}`))
		case "/user":
			_, _ = fmt.Fprintf(w, `{"id":%q}`, r.URL.Query().Get("id"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	content := fmt.Sprintf(`
name: page
hooks:
  baseURL: %s
dataSource:
  list:
    - id: info
      type: fetch
      isInit: true
      options:
        uri: /info
    - id: user
      type: fetch
      options:
        uri: /user
        params:
          id: "1"
`, baseURL)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the root command. NewRootCmd binds flags on the global viper
// instance, so these tests do not run in parallel.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	srv := newUpstream(t)
	configPath := writeConfig(t, srv.URL)
	stateDir := t.TempDir()

	out, err := execute(t, "init", "--config", configPath, "--state-dir", stateDir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"info":{"name":"info"}}`, out)

	out, err = execute(t, "status", "--state-dir", stateDir, "--name", "page")
	require.NoError(t, err)

	var snapshot struct {
		Sources map[string]struct {
			Status string `json:"status"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snapshot))
	assert.Equal(t, "loaded", snapshot.Sources["info"].Status)
	assert.Equal(t, "init", snapshot.Sources["user"].Status)
}

func TestLoadCommand(t *testing.T) {
	srv := newUpstream(t)
	configPath := writeConfig(t, srv.URL)

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "configured params", args: []string{"user"}, want: `{"id":"1"}`},
		{name: "caller params", args: []string{"user", "--params", `{"id":"7"}`}, want: `{"id":"7"}`},
		{name: "non init source", args: []string{"info"}, want: `{"name":"info"}`},
		{name: "unknown id", args: []string{"missing"}, wantErr: true},
		{name: "invalid params", args: []string{"user", "--params", `{`}, wantErr: true},
		{name: "invalid options", args: []string{"user", "--options", `[1]`}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
					args := append([]string{"load", "--config", configPath}, tt.args...)
			out, err := execute(t, args...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, out)
		})
	}
}

func TestServeCommandStopsOnCancel(t *testing.T) {
	srv := newUpstream(t)
	configPath := writeConfig(t, srv.URL)
	stateDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", configPath, "--state-dir", stateDir, "--address", "127.0.0.1:0"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- cmd.ExecuteContext(ctx)
	}()

	snapshotPath := filepath.Join(stateDir, "page", status.SnapshotFileName)
	require.Eventually(t, func() bool {
		_, err := os.Stat(snapshotPath)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "init data is persisted on startup")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}

	out, err := execute(t, "status", "--state-dir", stateDir, "--name", "page")
	require.NoError(t, err)
	assert.Contains(t, out, "loaded")
}

func TestConfigFlagIsRequired(t *testing.T) {
	_, err := execute(t, "init")
	require.Error(t, err)
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}

func TestValidateCommand(t *testing.T) {
	configPath := writeConfig(t, "https://api.example.com")

	out, err := execute(t, "validate", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Name: page")
	assert.Contains(t, out, "Sources: 2")
	assert.Contains(t, out, "Auto-init: 1")

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("dataSource:\n  list:\n    - type: fetch\n"), 0o600))
	_, err = execute(t, "validate", badPath)
	require.Error(t, err)
}
