package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetSink(&buf)
	defer SetSink(os.Stdout)

	logger := New("test")

	SetLevel(Warning)
	logger.Info("hidden message")
	logger.Warning("visible message")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Fatalf("expected info message to be filtered out; got %q", out)
	}
	if !strings.Contains(out, "visible message") || !strings.Contains(out, "[test]") {
		t.Fatalf("expected warning message with module name; got %q", out)
	}
	SetLevel(Notice)
}

func TestFileSink(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "radiance.log")
	cfg := DefaultFileConfig(logFile)
	cfg.Compress = false

	closer := SetFileSink(nil, cfg)
	New("file-test").Notice("written to file")
	closer.Close()
	SetSink(os.Stdout)

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("expected log file to contain message; got %q", string(data))
	}
	if strings.Contains(string(data), "\x1b[") {
		t.Fatal("expected file output without color codes")
	}
}

func TestParseLevel(t *testing.T) {
	type spec struct {
		in  string
		exp Level
	}
	specs := []spec{
		{"debug", Debug},
		{"INFO", Info},
		{"warn", Warning},
		{"error", Error},
		{"", Notice},
		{"bogus", Notice},
	}

	for index, s := range specs {
		if got := ParseLevel(s.in); got != s.exp {
			t.Fatalf("[spec %d] expected level %d; got %d", index, s.exp, got)
		}
	}
}
