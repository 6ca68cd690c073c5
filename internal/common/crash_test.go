package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInstallCrashHandlerCreatesLogDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "crash-logs")
	t.Cleanup(func() { CrashLogDir = "./logs" })

	InstallCrashHandler(dir)

	if CrashLogDir != dir {
		t.Errorf("CrashLogDir = %q, want %q", CrashLogDir, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("InstallCrashHandler() should create the log directory, stat error = %v", err)
	}
}

func TestInstallCrashHandlerIgnoresEmptyDir(t *testing.T) {
	CrashLogDir = "./logs"
	InstallCrashHandler("")
	if CrashLogDir != "./logs" {
		t.Errorf("CrashLogDir = %q, want unchanged ./logs when passed an empty string", CrashLogDir)
	}
}

func TestWriteCrashFileWritesReportToDisk(t *testing.T) {
	dir := t.TempDir()
	CrashLogDir = dir
	t.Cleanup(func() { CrashLogDir = "./logs" })

	path := WriteCrashFile("something exploded", "fake stack trace")
	if path == "" {
		t.Fatal("WriteCrashFile() should return a non-empty path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read crash file error = %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "something exploded") {
		t.Error("crash report should contain the panic value")
	}
	if !strings.Contains(content, "fake stack trace") {
		t.Error("crash report should contain the stack trace")
	}
}

func TestGetStackTraceReturnsNonEmptyTrace(t *testing.T) {
	trace := GetStackTrace()
	if trace == "" {
		t.Error("GetStackTrace() should return a non-empty trace")
	}
}

func TestGetAllGoroutineStacksReturnsNonEmptyTrace(t *testing.T) {
	trace := GetAllGoroutineStacks()
	if trace == "" {
		t.Error("GetAllGoroutineStacks() should return a non-empty trace")
	}
}
