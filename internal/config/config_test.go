package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8080/execute-ws", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.Transport.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Transport.HeartbeatInterval)
	assert.Equal(t, "constant", cfg.Transport.Backoff)
	assert.Equal(t, "bolt", cfg.Store.Driver)
	assert.Equal(t, 100, cfg.Backend.ChatHistory)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
url = "wss://collab.example.com/execute-ws"

[transport]
reconnect_delay = "2s"
backoff = "exponential"

[store]
driver = "redis"
`), 0644))

	t.Setenv("CODECOLLAB_TRANSPORT_HEARTBEAT_INTERVAL", "45s")
	t.Setenv("CODECOLLAB_LOG_LEVEL", "debug")
	t.Setenv("CODECOLLAB_TRANSPORT_MAX_RECONNECT_DELAY", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://collab.example.com/execute-ws", cfg.Server.URL)
	assert.Equal(t, 2*time.Second, cfg.Transport.ReconnectDelay)
	assert.Equal(t, "exponential", cfg.Transport.Backoff)
	assert.Equal(t, 45*time.Second, cfg.Transport.HeartbeatInterval)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Transport.MaxReconnectDelay)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"http url":      func(c *Config) { c.Server.URL = "http://localhost:8080" },
		"zero delay":    func(c *Config) { c.Transport.ReconnectDelay = 0 },
		"bad backoff":   func(c *Config) { c.Transport.Backoff = "fibonacci" },
		"bad driver":    func(c *Config) { c.Store.Driver = "sqlite" },
		"bolt no path":  func(c *Config) { c.Store.Path = "" },
		"negative rate": func(c *Config) { c.Chat.RatePerSecond = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			assert.Error(t, Validate(&c))
		})
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codecollab.toml")

	require.NoError(t, Init(path))
	assert.Error(t, Init(path), "second init must not overwrite")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Backend.Addr)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
