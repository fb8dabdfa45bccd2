package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.slog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func TestReaderIteratesEvents(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-1", Direction: DirectionIn, Layer: LayerSocket, Category: CategoryData},
		{Timestamp: time.Now(), ConnectionID: "conn-2", Direction: DirectionOut, Layer: LayerTLS, Category: CategoryHandshake},
		{Timestamp: time.Now(), ConnectionID: "conn-3", Direction: DirectionIn, Layer: LayerKeepalive, Category: CategoryControl},
	}

	path := createTestLogFile(t, events)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	var read []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}

	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}

	// Verify order
	if read[0].ConnectionID != "conn-1" {
		t.Errorf("first event ConnectionID = %q, want %q", read[0].ConnectionID, "conn-1")
	}
	if read[2].ConnectionID != "conn-3" {
		t.Errorf("last event ConnectionID = %q, want %q", read[2].ConnectionID, "conn-3")
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.slog")

	// Create empty file
	logger, _ := NewFileLogger(path)
	logger.Close()

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	event, err := reader.Next()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got err=%v, event=%+v", err, event)
	}
}

func TestReaderFilterByConnectionID(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-A", Direction: DirectionIn, Layer: LayerSocket, Category: CategoryData},
		{Timestamp: time.Now(), ConnectionID: "conn-B", Direction: DirectionOut, Layer: LayerTLS, Category: CategoryData},
		{Timestamp: time.Now(), ConnectionID: "conn-A", Direction: DirectionIn, Layer: LayerTLS, Category: CategoryState},
		{Timestamp: time.Now(), ConnectionID: "conn-C", Direction: DirectionOut, Layer: LayerSocket, Category: CategoryData},
	}

	path := createTestLogFile(t, events)

	reader, err := NewFilteredReader(path, Filter{ConnectionID: "conn-A"})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if event.ConnectionID != "conn-A" {
			t.Errorf("filter passed event with ConnectionID %q", event.ConnectionID)
		}
		count++
	}

	if count != 2 {
		t.Errorf("got %d filtered events, want 2", count)
	}
}

func TestReaderFilterByLayer(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-1", Layer: LayerSocket, Category: CategoryData},
		{Timestamp: time.Now(), ConnectionID: "conn-1", Layer: LayerTLS, Category: CategoryHandshake},
		{Timestamp: time.Now(), ConnectionID: "conn-1", Layer: LayerKeepalive, Category: CategoryControl},
		{Timestamp: time.Now(), ConnectionID: "conn-1", Layer: LayerKeepalive, Category: CategoryControl},
	}

	path := createTestLogFile(t, events)

	layer := LayerKeepalive
	reader, err := NewFilteredReader(path, Filter{Layer: &layer})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if event.Layer != LayerKeepalive {
			t.Errorf("filter passed event with Layer %v", event.Layer)
		}
		count++
	}

	if count != 2 {
		t.Errorf("got %d filtered events, want 2", count)
	}
}

func TestReaderFilterByTimeRange(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "early", Layer: LayerSocket, Category: CategoryData},
		{Timestamp: base.Add(10 * time.Second), ConnectionID: "middle", Layer: LayerSocket, Category: CategoryData},
		{Timestamp: base.Add(20 * time.Second), ConnectionID: "late", Layer: LayerSocket, Category: CategoryData},
	}

	path := createTestLogFile(t, events)

	start := base.Add(5 * time.Second)
	end := base.Add(15 * time.Second)
	reader, err := NewFilteredReader(path, Filter{TimeStart: &start, TimeEnd: &end})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	event, err := reader.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if event.ConnectionID != "middle" {
		t.Errorf("got event %q, want %q", event.ConnectionID, "middle")
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after time range, got %v", err)
	}
}
