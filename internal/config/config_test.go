package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.App.Addr)
	require.Equal(t, 5*time.Minute, cfg.JWT.AccessTTL)
	require.Equal(t, "null", cfg.Cache.Driver)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, 30*time.Second, cfg.Redis.Timeout)
	require.Equal(t, "info", cfg.Log.Level)
	require.False(t, cfg.SSO.Enabled())
	require.Empty(t, cfg.App.TrustedProxies)
	require.ErrorIs(t, cfg.Validate(), ErrMissingSecret)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  host: https://portal.test
  user_group_id: staff@test.com
jwt:
  secret: from-file
  access_ttl: 10m
cache:
  driver: redis
  prefix: "portal:"
redis:
  timeout: 250ms
sso:
  entry_point: https://idp.test/sso
  cert: abc
`), 0o600))

	t.Setenv("PORTAL_JWT_SECRET", "from-env")
	t.Setenv("PORTAL_REDIS_PORT", "6380")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://portal.test", cfg.App.Host)
	require.Equal(t, "staff@test.com", cfg.App.UserGroupID)
	require.Equal(t, "from-env", cfg.JWT.Secret)
	require.Equal(t, 10*time.Minute, cfg.JWT.AccessTTL)
	require.Equal(t, "redis", cfg.Cache.Driver)
	require.Equal(t, "portal:", cfg.Cache.Prefix)
	require.Equal(t, 6380, cfg.Redis.Port)
	require.Equal(t, 250*time.Millisecond, cfg.Redis.Timeout)
	require.True(t, cfg.SSO.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_AccessTTL(t *testing.T) {
	t.Parallel()
	cfg := &Config{JWT: JWTConfig{Secret: "s"}}
	require.Error(t, cfg.Validate())
}

func TestValidate_TrustedProxies(t *testing.T) {
	t.Parallel()
	cfg := &Config{JWT: JWTConfig{Secret: "s", AccessTTL: time.Minute}}
	cfg.App.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.10"}
	require.NoError(t, cfg.Validate())

	cfg.App.TrustedProxies = []string{"proxy.internal"}
	require.Error(t, cfg.Validate())
}
