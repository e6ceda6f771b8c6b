package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"comfyforge/internal/config"
	"comfyforge/internal/daemon"
	"comfyforge/internal/keys"
	"comfyforge/internal/logging"
	"comfyforge/internal/pipeline"
	"comfyforge/internal/providers"
	"comfyforge/internal/runs"
	"comfyforge/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config, fake *testsupport.FakeAdapter) *daemon.Daemon {
	t.Helper()
	components, err := daemon.Build(context.Background(), cfg, logging.NewNop(),
		daemon.WithProviderTable(providers.NewTableWith(fake)))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d, err := daemon.New(cfg, components, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, testsupport.NewFakeAdapter("OpenAI"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running || status.APIAddress == "" {
		t.Fatalf("unexpected status %+v", status)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if d.APIAddress() != "" {
		t.Fatal("expected listener to be closed")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg, testsupport.NewFakeAdapter("OpenAI"))
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	other := *cfg
	other.Server.APIBind = ""
	second := newDaemon(t, &other, testsupport.NewFakeAdapter("OpenAI"))
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected lock contention error")
	}
}

func TestDaemonServesPipelinesAndProbes(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("tok"))
	fake := testsupport.NewFakeAdapter("OpenAI")
	d := newDaemon(t, cfg, fake)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()
	base := "http://" + d.APIAddress()

	post := func(path string, body any, out any) int {
		t.Helper()
		encoded, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(encoded))
		req.Header.Set("Authorization", "Bearer tok")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		defer resp.Body.Close()
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				t.Fatalf("decode: %v", err)
			}
		}
		return resp.StatusCode
	}

	if status := post("/api/keys", keys.Registration{Provider: "openai", Secret: "sk-daemon-test", QuotaTotal: 10}, nil); status != http.StatusCreated {
		t.Fatalf("register status %d", status)
	}

	var record runs.Record
	status := post("/api/pipelines", map[string]any{
		"sync":     true,
		"pipeline": []map[string]any{{"step": "hello", "provider": "OpenAI", "prompt": "hi"}},
	}, &record)
	if status != http.StatusOK || record.Status != pipeline.StatusCompleted {
		t.Fatalf("submit status %d record %+v", status, record)
	}

	states := d.Status(context.Background()).KeyStates
	if states[keys.StateHealthy] != 1 {
		t.Fatalf("unexpected key states %v", states)
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("metrics should require the token, got %d", resp.StatusCode)
	}
}

func TestDaemonMonitorProbesOnStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.APIBind = ""
	fake := testsupport.NewFakeAdapter("OpenAI")
	d := newDaemon(t, cfg, fake)

	store, err := keys.Open(cfg.KeysDBPath())
	if err != nil {
		t.Fatalf("keys.Open: %v", err)
	}
	testsupport.RegisterKey(t, store, keys.Registration{Provider: "OpenAI"})
	store.Close()

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for len(fake.Probes()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("monitor never probed the registered key")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
