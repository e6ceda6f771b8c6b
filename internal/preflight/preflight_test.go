package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"comfyforge/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	if result := CheckRedis(context.Background(), mr.Addr(), "", 0); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	mr.RequireAuth("hunter2")
	if result := CheckRedis(context.Background(), mr.Addr(), "wrong", 0); result.Passed {
		t.Fatal("expected failure with wrong password")
	}

	if result := CheckRedis(context.Background(), "", "", 0); result.Passed || result.Detail != "missing address" {
		t.Fatalf("unexpected result for empty address: %+v", result)
	}
}

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	results := RunAll(context.Background(), cfg)
	if len(results) != 2 {
		t.Fatalf("expected data and log checks, got %+v", results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}

	mr := miniredis.RunT(t)
	cfg.Runs.Backend = "redis"
	cfg.Runs.RedisAddr = mr.Addr()
	results = RunAll(context.Background(), cfg)
	if len(results) != 3 || len(Failed(results)) != 0 {
		t.Fatalf("unexpected redis results: %+v", results)
	}

	mr.Close()
	if failed := Failed(RunAll(context.Background(), cfg)); len(failed) != 1 || failed[0].Name != "Redis run store" {
		t.Fatalf("expected redis failure, got %+v", failed)
	}
}
