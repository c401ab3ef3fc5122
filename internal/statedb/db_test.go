package statedb

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpenAndMigrate(t *testing.T) {
	d := openTestDB(t)

	if err := d.UpsertBridgeStats(BridgeStats{AgentID: "agent-a", Endpoint: "https://store.example", EventsQueued: 3}); err != nil {
		t.Fatalf("UpsertBridgeStats: %v", err)
	}
	s, err := d.GetBridgeStats("agent-a", "https://store.example")
	if err != nil {
		t.Fatalf("GetBridgeStats: %v", err)
	}
	if s == nil || s.EventsQueued != 3 {
		t.Fatalf("got %+v, want EventsQueued=3", s)
	}
}

func TestUpsertBridgeStatsOverwrites(t *testing.T) {
	d := openTestDB(t)
	now := time.Now()

	if err := d.UpsertBridgeStats(BridgeStats{AgentID: "a", Endpoint: "e", EventsQueued: 1, LastEventQueuedAt: &now}); err != nil {
		t.Fatalf("UpsertBridgeStats #1: %v", err)
	}
	if err := d.UpsertBridgeStats(BridgeStats{AgentID: "a", Endpoint: "e", EventsQueued: 5, LastEventQueuedAt: &now}); err != nil {
		t.Fatalf("UpsertBridgeStats #2: %v", err)
	}

	s, err := d.GetBridgeStats("a", "e")
	if err != nil {
		t.Fatalf("GetBridgeStats: %v", err)
	}
	if s.EventsQueued != 5 {
		t.Fatalf("EventsQueued = %d, want 5", s.EventsQueued)
	}
}

func TestGetBridgeStatsMissingReturnsNil(t *testing.T) {
	d := openTestDB(t)
	s, err := d.GetBridgeStats("nobody", "nowhere")
	if err != nil {
		t.Fatalf("GetBridgeStats: %v", err)
	}
	if s != nil {
		t.Fatalf("got %+v, want nil", s)
	}
}

func TestMemoryMarkerReinforcement(t *testing.T) {
	d := openTestDB(t)

	if err := d.UpsertMemoryMarker("agent-a", "sess-1", "billing", "preference", "user prefers email receipts"); err != nil {
		t.Fatalf("UpsertMemoryMarker #1: %v", err)
	}
	if err := d.UpsertMemoryMarker("agent-a", "sess-1", "billing", "preference", "user prefers email receipts"); err != nil {
		t.Fatalf("UpsertMemoryMarker #2: %v", err)
	}

	markers, err := d.ListActiveMemoryMarkers("agent-a", 10)
	if err != nil {
		t.Fatalf("ListActiveMemoryMarkers: %v", err)
	}
	if len(markers) != 1 {
		t.Fatalf("len(markers) = %d, want 1", len(markers))
	}
	if markers[0].Confidence < 0.79 || markers[0].Confidence > 0.81 {
		t.Fatalf("confidence = %f, want ~0.8", markers[0].Confidence)
	}
}

func TestMemoryMarkerContradiction(t *testing.T) {
	d := openTestDB(t)

	if err := d.UpsertMemoryMarker("agent-a", "sess-1", "billing", "preference", "user prefers email receipts"); err != nil {
		t.Fatalf("UpsertMemoryMarker #1: %v", err)
	}
	if err := d.UpsertMemoryMarker("agent-a", "sess-1", "billing", "preference", "user prefers SMS receipts"); err != nil {
		t.Fatalf("UpsertMemoryMarker #2: %v", err)
	}

	// The contradicted row's confidence only drops to 0.6 (still >= 0.3), so
	// both the decayed old row and the freshly inserted row stay active.
	markers, err := d.ListActiveMemoryMarkers("agent-a", 10)
	if err != nil {
		t.Fatalf("ListActiveMemoryMarkers: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("len(markers) = %d, want 2", len(markers))
	}
	if markers[0].Observation != "user prefers SMS receipts" {
		t.Fatalf("top observation = %q, want the new one (higher confidence)", markers[0].Observation)
	}
}

func TestDecayStaleMemoryMarkersDeactivatesLowConfidence(t *testing.T) {
	d := openTestDB(t)
	if err := d.UpsertMemoryMarker("agent-a", "sess-1", "svc", "cat", "obs"); err != nil {
		t.Fatalf("UpsertMemoryMarker: %v", err)
	}
	// Force the row's updated_at far enough in the past to be decayed.
	if _, err := d.conn.Exec(`UPDATE bridge_markers SET updated_at = '2000-01-01T00:00:00Z'`); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := d.DecayStaleMemoryMarkers(30, 0.5); err != nil {
		t.Fatalf("DecayStaleMemoryMarkers: %v", err)
	}
	markers, err := d.ListActiveMemoryMarkers("agent-a", 10)
	if err != nil {
		t.Fatalf("ListActiveMemoryMarkers: %v", err)
	}
	if len(markers) != 0 {
		t.Fatalf("len(markers) = %d, want 0 after decay below 0.3", len(markers))
	}
}

func TestRetrievalDiagnosticsRoundTrip(t *testing.T) {
	d := openTestDB(t)
	type snapshot struct {
		Entries int `json:"entries"`
	}
	if err := d.UpsertRetrievalDiagnostics("a", "e", "q", "memory", "memory", snapshot{Entries: 4}); err != nil {
		t.Fatalf("UpsertRetrievalDiagnostics: %v", err)
	}
	var got snapshot
	ok, err := d.GetRetrievalDiagnostics("a", "e", &got)
	if err != nil {
		t.Fatalf("GetRetrievalDiagnostics: %v", err)
	}
	if !ok {
		t.Fatal("expected ok = true")
	}
	if got.Entries != 4 {
		t.Fatalf("Entries = %d, want 4", got.Entries)
	}
}

func TestRetrievalDiagnosticsMissingReturnsFalse(t *testing.T) {
	d := openTestDB(t)
	var got map[string]any
	ok, err := d.GetRetrievalDiagnostics("nobody", "nowhere", &got)
	if err != nil {
		t.Fatalf("GetRetrievalDiagnostics: %v", err)
	}
	if ok {
		t.Fatal("expected ok = false")
	}
}
