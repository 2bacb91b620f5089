package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"nmrauto/internal/config"
	"nmrauto/internal/queue"
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

func TestCheckSerialDevice(t *testing.T) {
	if result := CheckSerialDevice(""); result.Passed {
		t.Fatal("expected failure for unset port")
	}
	if result := CheckSerialDevice(filepath.Join(t.TempDir(), "ttyACM0")); result.Passed {
		t.Fatal("expected failure for missing port")
	}
	regular := filepath.Join(t.TempDir(), "ttyUSB0")
	if err := os.WriteFile(regular, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckSerialDevice(regular); result.Passed {
		t.Fatal("expected failure for regular file")
	}
	if _, err := os.Stat("/dev/null"); err == nil {
		if result := CheckSerialDevice("/dev/null"); !result.Passed {
			t.Fatalf("expected character device to pass, got: %s", result.Detail)
		}
	}
}

func TestCheckEvalTool(t *testing.T) {
	if result := CheckEvalTool("", "evaluate"); !result.Passed || result.Detail != "Disabled" {
		t.Fatalf("expected disabled pass, got %+v", result)
	}

	dir := t.TempDir()
	if result := CheckEvalTool(dir, "evaluate"); result.Passed {
		t.Fatal("expected failure for missing tool")
	}
	tool := filepath.Join(dir, "evaluate")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckEvalTool(dir, "evaluate"); result.Passed {
		t.Fatal("expected failure for non-executable tool")
	}
	if err := os.Chmod(tool, 0o755); err != nil {
		t.Fatal(err)
	}
	if result := CheckEvalTool(dir, "evaluate"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_PrefersLiveDeviceSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Data.DataFolder = filepath.Join(t.TempDir(), "missing")
	cfg.Autosampler.Port = ""

	live := &queue.DeviceConfig{DataFolder: t.TempDir()}
	results := RunAll(context.Background(), &cfg, live)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Passed {
		t.Fatalf("expected live data folder to pass, got: %s", results[0].Detail)
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Autosampler port" {
		t.Fatalf("expected only the unset port to fail, got %+v", failed)
	}
}
