package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("reads yaml file", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "analytics:\n  write-key: abc\n  flush-at: 20\n")

		v, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "abc", v.GetString("analytics.write-key"))
		assert.Equal(t, 20, v.GetInt("analytics.flush-at"))
		assert.Equal(t, path, v.ConfigFileUsed())
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "analytics:\n  write-key: abc\n")
		t.Setenv("ANALYTICS_WRITE_KEY", "from-env")

		v, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "from-env", v.GetString("analytics.write-key"))
	})

	t.Run("no file", func(t *testing.T) {
		v, err := Load("")

		require.NoError(t, err)
		assert.Empty(t, v.ConfigFileUsed())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("malformed file", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "analytics: [unterminated\n")

		_, err := Load(path)

		assert.Error(t, err)
	})
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(envConfigFile, "/etc/analytics.yaml")
	explicit := "/tmp/explicit.yaml"

	assert.Equal(t, FilePath("/etc/analytics.yaml"), resolveConfigPath(&viperConfig{}))
	assert.Equal(t, FilePath(explicit), resolveConfigPath(&viperConfig{configPath: &explicit}))
	assert.Equal(t, FilePath(""), resolveConfigPath(&viperConfig{configPath: &explicit, noConfigFile: true}))
}

func TestLoadAppConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv(envAppServiceName, "")
		t.Setenv(envAppServiceVersion, "")
		t.Setenv(envAppEnv, "")

		assert.Equal(t, AppConfig{
			ServiceName:    defaultServiceName,
			ServiceVersion: defaultServiceVersion,
			Environment:    defaultEnvironment,
		}, LoadAppConfig())
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv(envAppServiceName, "checkout")
		t.Setenv(envAppServiceVersion, "1.2.3")
		t.Setenv(envAppEnv, "staging")

		assert.Equal(t, AppConfig{ServiceName: "checkout", ServiceVersion: "1.2.3", Environment: "staging"}, LoadAppConfig())
	})
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "ANALYTICS_DOTENV_TEST=loaded\n")
	t.Setenv("ANALYTICS_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("ANALYTICS_DOTENV_TEST"))

	assert.True(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("ANALYTICS_DOTENV_TEST"))
	assert.False(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestModules(t *testing.T) {
	path := writeFile(t, "config.yaml", "analytics:\n  write-key: abc\n")
	static := AppConfig{ServiceName: "svc", ServiceVersion: "0.1.0", Environment: "test"}

	var (
		v   *viper.Viper
		app AppConfig
	)
	fxApp := fxtest.New(t,
		fx.Supply(zap.NewNop()),
		NewViperModule(WithConfigPath(path)),
		NewAppConfigModule(WithAppConfig(static)),
		fx.Populate(&v, &app),
	)
	fxApp.RequireStart().RequireStop()

	assert.Equal(t, static, app)
	require.NotNil(t, v)
	assert.Equal(t, "abc", v.GetString("analytics.write-key"))
}
