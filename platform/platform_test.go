package platform

import (
	"context"
	"errors"
	"testing"
)

type stubPublisher struct{}

func (stubPublisher) ConnectPrompt() (string, error) { return "connect", nil }
func (stubPublisher) Exchange(ctx context.Context, input string) (Record, error) {
	return Record{"token": input}, nil
}
func (stubPublisher) Upload(ctx context.Context, path, title, description string, rec Record) (string, error) {
	return "https://example.com/v/1", nil
}

func testRegistry() *Registry {
	var ds []Descriptor
	for _, id := range AllIDs() {
		ds = append(ds, Descriptor{ID: id, Name: string(id), Emoji: "🎬", Publisher: stubPublisher{}})
	}
	return NewRegistry(ds...)
}

func TestRegistryLookup(t *testing.T) {
	r := testRegistry()
	for _, id := range AllIDs() {
		d, err := r.Lookup(id)
		if err != nil {
			t.Fatalf("Lookup(%s) error: %v", id, err)
		}
		if d.ID != id {
			t.Errorf("Lookup(%s).ID = %s", id, d.ID)
		}
	}
}

func TestRegistryUnknownPlatform(t *testing.T) {
	r := testRegistry()
	_, err := r.Lookup("myspace")
	if !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("expected ErrUnknownPlatform, got %v", err)
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	r := testRegistry()
	all := r.All()
	if len(all) != len(AllIDs()) {
		t.Fatalf("expected %d descriptors, got %d", len(AllIDs()), len(all))
	}
	for i, id := range AllIDs() {
		if all[i].ID != id {
			t.Errorf("All()[%d].ID = %s, want %s", i, all[i].ID, id)
		}
	}
}

func TestRecordEncodeDecode(t *testing.T) {
	rec := Record{"access_token": "tok", "open_id": "abc"}
	s, err := EncodeRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeRecord(s)
	if err != nil {
		t.Fatal(err)
	}
	if got["access_token"] != "tok" || got["open_id"] != "abc" {
		t.Errorf("round trip mismatch: %v", got)
	}
	if rec, err := DecodeRecord(""); err != nil || len(rec) != 0 {
		t.Errorf("DecodeRecord(\"\") = %v, %v; want empty record", rec, err)
	}
	if _, err := DecodeRecord("{broken"); err == nil {
		t.Errorf("expected error for malformed payload")
	}
}

func TestDescriptorLabel(t *testing.T) {
	d := Descriptor{ID: YouTube, Name: "YouTube Shorts", Emoji: "▶️"}
	if d.Label() != "▶️ YouTube Shorts" {
		t.Errorf("Label() = %q", d.Label())
	}
}
