package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cryptonite.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIBaseURL, cfg.Assistant.BaseURL)
	assert.Equal(t, "memory", cfg.Transcript.Driver)
	assert.Equal(t, "none", cfg.Events.Driver)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data"), cfg.Runtime.DataDir)
	assert.Equal(t, cfg.Runtime.DataDir, cfg.Transcript.DataDir)
	assert.Equal(t, 60*time.Second, cfg.Ledger.ConfirmTimeout())
	assert.Equal(t, 10*time.Second, cfg.Ledger.ProbeTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Ledger.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.Assistant.Timeout())
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"ledger": {"cluster_config": "clusters.yaml", "confirm_timeout_seconds": 5},
		"runtime": {"presets_file": "presets.json"}
	}`)
	dir := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clusters.yaml"), cfg.Ledger.ClusterConfig)
	assert.Equal(t, filepath.Join(dir, "presets.json"), cfg.Runtime.PresetsFile)
	assert.Equal(t, 5*time.Second, cfg.Ledger.ConfirmTimeout())
}

func TestLoadRejectsIncompleteDrivers(t *testing.T) {
	cases := map[string]string{
		"mysql":    `{"transcript": {"driver": "mysql"}}`,
		"redis":    `{"transcript": {"driver": "redis"}}`,
		"unknown":  `{"transcript": {"driver": "sqlite"}}`,
		"rabbitmq": `{"events": {"driver": "rabbitmq"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	_, err := Load(writeConfig(t, `{`))
	require.Error(t, err)

	_, err = Load("")
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults(".")
	env := map[string]string{
		EnvLegacyBaseURL: "http://legacy/api",
		EnvRPCURL:        "http://127.0.0.1:8899",
		EnvCluster:       "localnet",
		EnvWalletKeypair: "/keys/id.json",
		EnvLogLevel:      "debug",
	}
	cfg.applyEnv(func(key string) string { return env[key] })

	assert.Equal(t, "http://legacy/api", cfg.Assistant.BaseURL)
	assert.Equal(t, "http://127.0.0.1:8899", cfg.Ledger.RPCURL)
	assert.Equal(t, "localnet", cfg.Ledger.Cluster)
	assert.Equal(t, "/keys/id.json", cfg.Wallet.KeypairPath)
	assert.Equal(t, "debug", cfg.Log.Level)

	env[EnvAPIBaseURL] = "http://primary/api"
	cfg.applyEnv(func(key string) string { return env[key] })
	assert.Equal(t, "http://primary/api", cfg.Assistant.BaseURL)
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvAPIBaseURL, "")
	t.Setenv(EnvLegacyBaseURL, "")

	cfg, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIBaseURL, cfg.Assistant.BaseURL)

	_, err = Resolve(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
