package configutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseUrl string   `json:"base_url"`
	Source  string   `json:"source"`
	Delay   Duration `json:"delay"`
	Retries int      `json:"retries"`
}

func writeFile(t testing.TB, path, contents string) {
	err := os.WriteFile(path, []byte(contents), 0600)
	require.NoError(t, err)
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json5"), `{
		// comments are allowed
		base_url: "http://localhost:3000",
		source: "A",
		delay: "2s",
		retries: 10,
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{
		source: "E",
		delay: 5,
	}`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:3000", cfg.BaseUrl)
	require.Equal(t, "E", cfg.Source)
	require.Equal(t, 5*time.Second, cfg.Delay.Std())
	require.Equal(t, 10, cfg.Retries)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigOnlyLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{source: "B"}`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "B", cfg.Source)
}

func TestDurationOr(t *testing.T) {
	require.Equal(t, 2*time.Second, Duration(0).Or(2*time.Second))
	require.Equal(t, time.Minute, Duration(time.Minute).Or(2*time.Second))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PLATESCRAPER_TEST_VALUE", "from-env")

	value := "from-file"
	EnvOverride(&value, "PLATESCRAPER_TEST_VALUE")
	require.Equal(t, "from-env", value)

	other := "kept"
	EnvOverride(&other, "PLATESCRAPER_TEST_UNSET")
	require.Equal(t, "kept", other)
}
