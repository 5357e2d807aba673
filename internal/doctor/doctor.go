// Package doctor runs runtime readiness diagnostics for config, catalog, store, and engines.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rbright/parlance/internal/catalog"
	"github.com/rbright/parlance/internal/config"
	"github.com/rbright/parlance/internal/engine/openai"
	"github.com/rbright/parlance/internal/store/sqlite"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "control socket directory available", "XDG_RUNTIME_DIR is empty; run/status/start cannot share a socket"))

	catalogCheck, cat := checkCatalog(cfg.Vocabulary.Catalog)
	checks = append(checks, catalogCheck)
	for _, entry := range cat.Entries() {
		if len(entry.Argv) > 0 {
			checks = append(checks, checkCommand(entry.Argv, "catalog."+entry.ID))
		}
	}

	checks = append(checks, checkStore(ctx, cfg.Store))

	if slices.Contains(cfg.Engines.Order, config.EngineTextline) {
		checks = append(checks, checkTextline(cfg.Textline))
	}
	if slices.Contains(cfg.Engines.Order, config.EngineOpenAI) {
		checks = append(checks, checkOpenAIKey(cfg.OpenAI), checkSpool(cfg.OpenAI))
		if strings.TrimSpace(cfg.OpenAI.BaseURL) != "" {
			checks = append(checks, checkOpenAIReachable(cfg.OpenAI))
		}
	}

	if cfg.Indicator.Enable {
		checks = append(checks, checkBinary("busctl", "desktop notifications"))
	}
	if cfg.Indicator.SoundEnable && hasCueFile(cfg.Indicator) {
		checks = append(checks, checkBinary("pw-play", "indicator cue files"))
	}

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("no file at %q; using defaults", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 {
		message = fmt.Sprintf("%s (%d warnings)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

func checkCatalog(path string) (Check, *catalog.Catalog) {
	if strings.TrimSpace(path) == "" {
		return Check{Name: "catalog", Pass: true, Message: "no catalog configured"}, nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return Check{Name: "catalog", Pass: false, Message: err.Error()}, nil
	}
	return Check{Name: "catalog", Pass: true, Message: fmt.Sprintf("%d commands from %q", cat.Len(), path)}, cat
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	check := checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
	check.Name = name
	return check
}

func hasCueFile(cfg config.IndicatorConfig) bool {
	for _, path := range []string{cfg.SoundStartFile, cfg.SoundStopFile, cfg.SoundCompleteFile, cfg.SoundCancelFile} {
		if strings.TrimSpace(path) != "" {
			return true
		}
	}
	return false
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkStore opens the learning store and reports its size.
func checkStore(ctx context.Context, cfg config.StoreConfig) Check {
	if cfg.Driver == config.StoreMemory {
		return Check{Name: "store", Pass: true, Message: "in-memory store; learned mappings are not persisted"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	st, err := sqlite.Open(ctx, cfg.Path)
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	return Check{
		Name:    "store",
		Pass:    true,
		Message: fmt.Sprintf("%s (%d learned, %d cached)", cfg.Path, stats.Learned, stats.Cached),
	}
}

func checkTextline(cfg config.TextlineConfig) Check {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return Check{Name: "engine.textline", Pass: true, Message: "reads stdin"}
	}
	f, err := os.Open(path)
	if err != nil {
		return Check{Name: "engine.textline", Pass: false, Message: err.Error()}
	}
	_ = f.Close()
	return Check{Name: "engine.textline", Pass: true, Message: fmt.Sprintf("reads %q", path)}
}

func checkOpenAIKey(cfg config.OpenAIConfig) Check {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Check{Name: "engine.openai.key", Pass: false, Message: "OPENAI_API_KEY is not set"}
	}
	return Check{Name: "engine.openai.key", Pass: true, Message: "API key present"}
}

// checkSpool verifies the utterance spool can be created and written.
func checkSpool(cfg config.OpenAIConfig) Check {
	dir := strings.TrimSpace(cfg.SpoolDir)
	if dir == "" {
		resolved, err := openai.DefaultSpoolDir()
		if err != nil {
			return Check{Name: "engine.openai.spool", Pass: false, Message: err.Error()}
		}
		dir = resolved
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: "engine.openai.spool", Pass: false, Message: err.Error()}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: "engine.openai.spool", Pass: false, Message: fmt.Sprintf("spool not writable: %v", err)}
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return Check{Name: "engine.openai.spool", Pass: true, Message: fmt.Sprintf("writable at %s", filepath.Clean(dir))}
}

// checkOpenAIReachable probes the configured API base URL.
func checkOpenAIReachable(cfg config.OpenAIConfig) Check {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := base + "/models"
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: "engine.openai.reachable", Pass: false, Message: err.Error()}
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Check{Name: "engine.openai.reachable", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: "engine.openai.reachable", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: "engine.openai.reachable", Pass: true, Message: fmt.Sprintf("reachable at %s", base)}
}
