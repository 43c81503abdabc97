package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func resetLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	originalOutput := defaultLogger.output
	originalLevel := defaultLogger.minLevel
	originalHook := defaultLogger.hook
	SetOutput(&buf)
	SetLevel(LevelDebug)
	SetHook(nil)
	t.Cleanup(func() {
		SetOutput(originalOutput)
		SetLevel(originalLevel)
		SetHook(originalHook)
	})
	return &buf
}

func TestInfoProducesOTELEntry(t *testing.T) {
	buf := resetLogger(t)

	Info("request complete", F("status", 200, "bytes", int64(42)))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry.SeverityText != "INFO" {
		t.Errorf("expected severity INFO, got %s", entry.SeverityText)
	}
	if entry.SeverityNumber != 9 {
		t.Errorf("expected severity number 9, got %d", entry.SeverityNumber)
	}
	if entry.Body != "request complete" {
		t.Errorf("unexpected body: %s", entry.Body)
	}
	if entry.Attributes["status"] != float64(200) {
		t.Errorf("unexpected status attribute: %v", entry.Attributes["status"])
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := resetLogger(t)
	SetLevel(LevelWarn)

	Debug("not emitted")
	Info("not emitted either")
	Warn("emitted")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly 1 log line, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "emitted") {
		t.Errorf("unexpected log line: %s", lines[0])
	}
}

func TestResourceAttached(t *testing.T) {
	buf := resetLogger(t)
	originalResource := defaultLogger.resource
	SetResource(map[string]string{"service.name": "ingest-gateway"})
	defer SetResource(originalResource)

	Info("hello")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry.Resource["service.name"] != "ingest-gateway" {
		t.Errorf("expected resource attribute, got %v", entry.Resource)
	}
}

func TestHookReceivesEntries(t *testing.T) {
	resetLogger(t)

	var mu sync.Mutex
	var got []string
	SetHook(func(level Level, msg string, attrs map[string]interface{}) {
		mu.Lock()
		got = append(got, string(level)+":"+msg)
		mu.Unlock()
	})

	Warn("token rejected")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "WARN:token rejected" {
		t.Errorf("hook did not receive entry, got %v", got)
	}
}

func TestFHandlesOddArguments(t *testing.T) {
	fields := F("a", 1, "b")
	if len(fields) != 1 {
		t.Errorf("expected trailing key without value to be dropped, got %v", fields)
	}
}

func TestConcurrentLogging(t *testing.T) {
	buf := resetLogger(t)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				Info("concurrent", F("goroutine", g, "i", i))
			}
		}(g)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 800 {
		t.Fatalf("expected 800 log lines, got %d", len(lines))
	}
	for _, line := range lines {
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("interleaved/corrupt log line: %v", err)
		}
	}
}
