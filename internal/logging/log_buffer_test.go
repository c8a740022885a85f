package logging

import "testing"

func TestLogBufferCircular(t *testing.T) {
	buffer := NewLogBuffer(2)
	buffer.Add(LogEntry{Message: "first"})
	buffer.Add(LogEntry{Message: "second"})
	buffer.Add(LogEntry{Message: "third"})

	entries := buffer.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "second" {
		t.Fatalf("expected second, got %q", entries[0].Message)
	}
	if entries[1].Message != "third" {
		t.Fatalf("expected third, got %q", entries[1].Message)
	}
}

func TestLogBufferRecent(t *testing.T) {
	buffer := NewLogBuffer(5)
	for _, message := range []string{"one", "two", "three", "four"} {
		buffer.Add(LogEntry{Message: message})
	}

	entries := buffer.Recent(2)
	if len(entries) != 2 || entries[0].Message != "three" || entries[1].Message != "four" {
		t.Fatalf("expected three and four, got %+v", entries)
	}
	if got := len(buffer.Recent(10)); got != 4 {
		t.Fatalf("expected all 4 entries, got %d", got)
	}
	var empty *LogBuffer
	if empty.Recent(3) != nil {
		t.Fatal("expected nil buffer to return nothing")
	}
}
