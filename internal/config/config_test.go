package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesOriginalDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, "gpt-4o-mini", cfg.Agent.Model)
	require.Equal(t, "neuroagent", cfg.Storage.BucketName)
	require.Equal(t, "https://openbluebrain.com/auth/realms/SBO", cfg.Keycloak.Issuer)
	require.Equal(t, "https://openbluebrain.com/auth/realms/SBO/protocol/openid-connect/userinfo", cfg.Keycloak.UserInfoEndpoint())
	require.Equal(t, time.Hour, cfg.RateLimit.Window())
}

func TestLoadOverlaysYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  model: gpt-4.1\n  max_turns: 25\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gpt-4.1", cfg.Agent.Model)
	require.Equal(t, 25, cfg.Agent.MaxTurns)
	require.Equal(t, 4, cfg.Agent.MaxParallelToolCalls)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadAppliesEnvOverridesOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  model: gpt-4.1\n"), 0o600))

	t.Setenv("NEUROAGENT_AGENT__MODEL", "gpt-5")
	t.Setenv("NEUROAGENT_DB__HOST", "db.internal")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gpt-5", cfg.Agent.Model)
	require.Equal(t, "db.internal", cfg.DB.Host)
}

func TestCORSOriginListSplitsAndTrims(t *testing.T) {
	m := Misc{CORSOrigins: "https://a.example, https://b.example"}
	require.Equal(t, []string{"https://a.example", "https://b.example"}, m.CORSOriginList())
	require.Nil(t, Misc{}.CORSOriginList())
}

func TestDBDSNFormatsPgxURL(t *testing.T) {
	db := DB{User: "u", Password: "p", Host: "h", Port: "5432", Name: "n"}
	require.Equal(t, "postgres://u:p@h:5432/n", db.DSN())
}
