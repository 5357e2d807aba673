package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parlance/internal/config"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "/run/user/1000")

	check := checkEnv("TEST_DOCTOR_ENV", func(v string) bool { return v != "" }, "looks good", "unexpected")
	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckBinary(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")

	check = checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckCommandUsesBinaryFromPath(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fake-bin")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/usr/bin/env bash\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkCommand([]string{"fake-bin", "--arg"}, "catalog.open_settings")
	require.True(t, check.Pass)
	require.Equal(t, "catalog.open_settings", check.Name)

	check = checkCommand(nil, "catalog.empty")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "command is empty")
}

func TestCheckCatalog(t *testing.T) {
	check, cat := checkCatalog("")
	require.True(t, check.Pass)
	require.Nil(t, cat)

	path := filepath.Join(t.TempDir(), "commands.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commands:\n  - id: back\n    phrase: go back\n"), 0o600))
	check, cat = checkCatalog(path)
	require.True(t, check.Pass, check.Message)
	require.Equal(t, 1, cat.Len())

	require.NoError(t, os.WriteFile(path, []byte("commands:\n  - id: back\n"), 0o600))
	check, _ = checkCatalog(path)
	require.False(t, check.Pass)
}

func TestCheckStore(t *testing.T) {
	check := checkStore(context.Background(), config.StoreConfig{Driver: config.StoreMemory})
	require.True(t, check.Pass)

	path := filepath.Join(t.TempDir(), "state", "learning.db")
	check = checkStore(context.Background(), config.StoreConfig{Driver: config.StoreSQLite, Path: path})
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "0 learned")
}

func TestCheckOpenAIReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	check := checkOpenAIReachable(config.OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1/"})
	require.True(t, check.Pass, check.Message)

	check = checkOpenAIReachable(config.OpenAIConfig{BaseURL: strings.TrimPrefix(server.URL, "http://") + "/v1"})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 401")
}

func TestRunCoversConfiguredEngines(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Store.Driver = config.StoreMemory
	cfg.OpenAI.SpoolDir = filepath.Join(t.TempDir(), "spool")

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})
	names := make([]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		names = append(names, check.Name)
	}
	require.Equal(t, []string{
		"config",
		"XDG_RUNTIME_DIR",
		"catalog",
		"store",
		"engine.textline",
		"engine.openai.key",
		"engine.openai.spool",
	}, names)
	require.False(t, report.OK())

	cfg.OpenAI.APIKey = "sk-test"
	report = Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg, Exists: true})
	require.True(t, report.OK(), report.String())
}

func TestRunChecksIndicatorBinariesWhenEnabled(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Store.Driver = config.StoreMemory
	cfg.Engines.Order = []string{config.EngineTextline}
	cfg.Indicator.Enable = true
	cfg.Indicator.SoundEnable = true

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})
	require.Equal(t, "busctl", report.Checks[len(report.Checks)-1].Name)

	cfg.Indicator.SoundStopFile = "~/stop.wav"
	report = Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})
	require.Equal(t, "pw-play", report.Checks[len(report.Checks)-1].Name)
}
