package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"comfyforge/internal/api"
	"comfyforge/internal/config"
	"comfyforge/internal/pipeline"
	"comfyforge/internal/runs"
	"comfyforge/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	chatCalls  atomic.Int64
}

// setupCLITestEnv writes a config whose OpenAI adapter points at a local
// OpenAI-compatible stub.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	env := &cliTestEnv{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-cli-test-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/chat/completions":
			env.chatCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello from stub"}}]}`))
		case "/models":
			_, _ = w.Write([]byte(`{"data":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Providers["OpenAI"] = config.Provider{
		BaseURL:       srv.URL,
		ValidateURL:   srv.URL + "/models",
		RetryAttempts: 1,
	}
	env.cfg = cfg
	env.configPath = filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, env.configPath, cfg)
	return env
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestKeysAddListAndToggle(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env.configPath, "keys", "add", "--provider", "openai", "--key", "sk-cli-test-123", "--quota", "5", "--tag", "vision")
	if err != nil {
		t.Fatalf("keys add: %v (%s)", err, out)
	}
	if !strings.Contains(out, "Registered key 1 for OpenAI") {
		t.Fatalf("unexpected add output: %s", out)
	}
	if strings.Contains(out, "sk-cli-test-123") {
		t.Fatalf("secret leaked in output: %s", out)
	}

	if _, err := runCLI(t, env.configPath, "keys", "add", "--provider", "nope", "--key", "x"); err == nil {
		t.Fatal("expected unknown provider error")
	}

	out, err = runCLI(t, env.configPath, "keys", "list", "--json")
	if err != nil {
		t.Fatalf("keys list: %v", err)
	}
	var list api.KeyListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list: %v (%s)", err, out)
	}
	if len(list.Keys) != 1 || list.Keys[0].QuotaRemaining != 5 || list.Keys[0].Tags[0] != "vision" {
		t.Fatalf("unexpected keys %+v", list.Keys)
	}

	out, err = runCLI(t, env.configPath, "keys", "disable", "1")
	if err != nil || !strings.Contains(out, "disabled") {
		t.Fatalf("keys disable: %v (%s)", err, out)
	}
	out, err = runCLI(t, env.configPath, "keys", "enable", "1")
	if err != nil || !strings.Contains(out, "healthy") {
		t.Fatalf("keys enable: %v (%s)", err, out)
	}

	out, err = runCLI(t, env.configPath, "keys", "list")
	if err != nil || !strings.Contains(out, "OpenAI") || !strings.Contains(out, "5/5") {
		t.Fatalf("keys table: %v (%s)", err, out)
	}
}

func TestRunPipelineFile(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env.configPath, "keys", "add", "--provider", "OpenAI", "--key", "sk-cli-test-123", "--quota", "5"); err != nil {
		t.Fatalf("keys add: %v", err)
	}

	pipelinePath := filepath.Join(testsupport.BaseDir(env.cfg), "pipeline.yaml")
	definition := `name: greet
pipeline:
  - step: greet
    provider: openai
    prompt: say hello
    output_var: greeting
`
	if err := os.WriteFile(pipelinePath, []byte(definition), 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}

	out, err := runCLI(t, env.configPath, "run", pipelinePath, "--json")
	if err != nil {
		t.Fatalf("run: %v (%s)", err, out)
	}
	var record runs.Record
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("decode record: %v (%s)", err, out)
	}
	if record.Status != pipeline.StatusCompleted || record.Result.Outputs["greeting"] != "hello from stub" {
		t.Fatalf("unexpected record %+v", record.Result)
	}
	if env.chatCalls.Load() != 1 {
		t.Fatalf("chat calls = %d", env.chatCalls.Load())
	}

	out, err = runCLI(t, env.configPath, "keys", "list", "--json")
	if err != nil {
		t.Fatalf("keys list: %v", err)
	}
	var list api.KeyListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Keys[0].QuotaRemaining != 4 || list.Keys[0].SuccessCount != 1 {
		t.Fatalf("outcome not recorded: %+v", list.Keys[0])
	}
}

func TestRunFailsWithoutEligibleKey(t *testing.T) {
	env := setupCLITestEnv(t)
	pipelinePath := filepath.Join(testsupport.BaseDir(env.cfg), "pipeline.json")
	if err := os.WriteFile(pipelinePath, []byte(`{"pipeline":[{"step":"x","provider":"OpenAI","prompt":"hi"}]}`), 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}

	out, err := runCLI(t, env.configPath, "run", pipelinePath)
	if err == nil {
		t.Fatalf("expected failure, got output %s", out)
	}
	if !strings.Contains(out, "no eligible key") {
		t.Fatalf("failure not reported: %s", out)
	}
	if env.chatCalls.Load() != 0 {
		t.Fatal("provider called without a key")
	}
}

func TestRunWithOverrideSecret(t *testing.T) {
	env := setupCLITestEnv(t)
	pipelinePath := filepath.Join(testsupport.BaseDir(env.cfg), "pipeline.yaml")
	if err := os.WriteFile(pipelinePath, []byte("- step: x\n  provider: OpenAI\n  prompt: hi\n"), 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}

	out, err := runCLI(t, env.configPath, "run", pipelinePath, "--override", "openai=sk-cli-test-123")
	if err != nil {
		t.Fatalf("run with override: %v (%s)", err, out)
	}
	if !strings.Contains(out, "x: hello from stub") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestKeysCheck(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env.configPath, "keys", "add", "--provider", "OpenAI", "--key", "sk-cli-test-123"); err != nil {
		t.Fatalf("keys add: %v", err)
	}
	if _, err := runCLI(t, env.configPath, "keys", "add", "--provider", "OpenAI", "--key", "sk-wrong-secret-1"); err != nil {
		t.Fatalf("keys add: %v", err)
	}

	out, err := runCLI(t, env.configPath, "keys", "check", "1")
	if err != nil || !strings.Contains(out, "valid") {
		t.Fatalf("keys check 1: %v (%s)", err, out)
	}
	out, err = runCLI(t, env.configPath, "keys", "check", "2", "--json")
	if err != nil {
		t.Fatalf("keys check 2: %v (%s)", err, out)
	}
	var resp api.CheckResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode check: %v", err)
	}
	if resp.Valid || resp.Key.FailureCount != 1 {
		t.Fatalf("expected invalid probe, got %+v", resp)
	}
}

func TestAsyncRunReportsUnavailableDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	env.cfg.Server.APIBind = listener.Addr().String()
	_ = listener.Close()
	writeTestConfig(t, env.configPath, env.cfg)

	pipelinePath := filepath.Join(testsupport.BaseDir(env.cfg), "p.yaml")
	if err := os.WriteFile(pipelinePath, []byte("- step: x\n  provider: OpenAI\n  prompt: hi\n"), 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	_, err = runCLI(t, env.configPath, "run", pipelinePath, "--async")
	if err == nil || !strings.Contains(err.Error(), "connect to daemon") {
		t.Fatalf("expected unavailable daemon error, got %v", err)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(testsupport.BaseDir(env.cfg), "sample", "config.toml")

	out, err := runCLI(t, env.configPath, "config", "init", "--path", target)
	if err != nil || !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("config init: %v (%s)", err, out)
	}
	if _, err := runCLI(t, env.configPath, "config", "init", "--path", target); err == nil {
		t.Fatal("expected existing file error")
	}

	out, err = runCLI(t, env.configPath, "config", "show")
	if err != nil || !strings.Contains(out, "[router]") || !strings.Contains(out, "default_strategy") {
		t.Fatalf("config show: %v (%s)", err, out)
	}

	out, err = runCLI(t, env.configPath, "providers")
	if err != nil || !strings.Contains(out, "Gemini") || !strings.Contains(out, "Hailuo") {
		t.Fatalf("providers: %v (%s)", err, out)
	}
}

func TestStatusReportsKeysAndStoppedDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	env.cfg.Server.APIBind = listener.Addr().String()
	_ = listener.Close()
	writeTestConfig(t, env.configPath, env.cfg)

	out, err := runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v (%s)", err, out)
	}
	if !strings.Contains(out, "Not running") || !strings.Contains(out, "No keys registered") {
		t.Fatalf("unexpected status output: %s", out)
	}

	if _, err := runCLI(t, env.configPath, "keys", "add", "--provider", "OpenAI", "--key", "sk-cli-test-123"); err != nil {
		t.Fatalf("keys add: %v", err)
	}
	out, err = runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Data directory:") {
		t.Fatalf("missing preflight lines: %s", out)
	}
	if !strings.Contains(out, "1 healthy, 0 degraded, 0 disabled") {
		t.Fatalf("missing key summary: %s", out)
	}
}
