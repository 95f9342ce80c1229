package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "roost.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesMissingDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "roost.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestStore_FreshReadsEmpty(t *testing.T) {
	s := newTestStore(t)

	if s.HasConfig() {
		t.Error("HasConfig() = true on fresh store")
	}
	cfg := s.ReadConfig()
	if cfg.SpeakerVolume != nil || cfg.WakeWord != nil || cfg.WasMode != nil {
		t.Errorf("ReadConfig() on fresh store = %+v, want zero record", cfg)
	}
	nvs := s.ReadNVS()
	if nvs.WAS.URL != "" || nvs.WIFI.SSID != "" || nvs.WIFI.PSK != "" {
		t.Errorf("ReadNVS() on fresh store = %+v, want zero record", nvs)
	}
	if labels := s.ListClientLabels(); len(labels) != 0 {
		t.Errorf("ListClientLabels() on fresh store = %v, want none", labels)
	}
	if blob := s.ReadBlob(BlobWas); blob != nil {
		t.Errorf("ReadBlob(was) on fresh store = %s, want nil", blob)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roost.db")

	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.WriteConfig(rawFields(t, `{"wake_word": "hiesp"}`)); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	cfg := s.ReadConfig()
	if cfg.WakeWord == nil || *cfg.WakeWord != "hiesp" {
		t.Errorf("WakeWord after reopen = %v, want hiesp", cfg.WakeWord)
	}
}

func TestClientLabels(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertClientLabel("", "Kitchen"); err == nil {
		t.Error("UpsertClientLabel(\"\") error = nil, want validation error")
	}

	if err := s.UpsertClientLabel("cc:dd:ee:ff:00:11", "Office"); err != nil {
		t.Fatalf("UpsertClientLabel() error = %v", err)
	}
	if err := s.UpsertClientLabel("aa:bb:cc:dd:ee:ff", "Kitchen"); err != nil {
		t.Fatalf("UpsertClientLabel() error = %v", err)
	}

	labels := s.ListClientLabels()
	if len(labels) != 2 {
		t.Fatalf("ListClientLabels() returned %d labels, want 2", len(labels))
	}
	// Listing is ordered by MAC.
	if labels[0].MAC != "aa:bb:cc:dd:ee:ff" || labels[0].Label != "Kitchen" {
		t.Errorf("labels[0] = %+v, want aa:bb:cc:dd:ee:ff/Kitchen", labels[0])
	}

	if err := s.UpsertClientLabel("aa:bb:cc:dd:ee:ff", "Kitchen Counter"); err != nil {
		t.Fatalf("UpsertClientLabel() replace error = %v", err)
	}
	if got := s.LabelByMAC("aa:bb:cc:dd:ee:ff"); got != "Kitchen Counter" {
		t.Errorf("LabelByMAC() after replace = %q, want %q", got, "Kitchen Counter")
	}
	if got := s.LabelByMAC("00:00:00:00:00:00"); got != "" {
		t.Errorf("LabelByMAC() for unknown MAC = %q, want empty", got)
	}
	if got := s.ListClientLabels(); len(got) != 2 {
		t.Errorf("ListClientLabels() after replace returned %d labels, want 2", len(got))
	}
}

func TestBlobs(t *testing.T) {
	s := newTestStore(t)

	if err := s.WriteBlob("bogus", json.RawMessage(`{}`)); err == nil {
		t.Error("WriteBlob(bogus) error = nil, want unknown type error")
	}
	if err := s.WriteBlob(BlobWas, json.RawMessage(`{"broken":`)); err == nil {
		t.Error("WriteBlob() with invalid JSON error = nil, want validation error")
	}

	doc := json.RawMessage(`{"url": "wss://was.local:8502/ws"}`)
	if err := s.WriteBlob(BlobWas, doc); err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}
	got := s.ReadBlob(BlobWas)
	if string(got) != string(doc) {
		t.Errorf("ReadBlob() = %s, want %s", got, doc)
	}

	// Blob types are independent records.
	if blob := s.ReadBlob(BlobMultinet); blob != nil {
		t.Errorf("ReadBlob(multinet) = %s, want nil", blob)
	}

	next := json.RawMessage(`{"url": "wss://was.local:8503/ws"}`)
	if err := s.WriteBlob(BlobWas, next); err != nil {
		t.Fatalf("WriteBlob() overwrite error = %v", err)
	}
	if got := s.ReadBlob(BlobWas); string(got) != string(next) {
		t.Errorf("ReadBlob() after overwrite = %s, want %s", got, next)
	}
}
