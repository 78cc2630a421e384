package facematch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestGallery_RefreshOnMarkerChange(t *testing.T) {
	ctx := context.Background()
	src := &staticSource{marker: "v1", entries: []Enrollment{{SubjectKey: "a", Embedding: []float32{1}}}}
	g := NewGallery(src, GalleryOptions{Logger: slog.New(slog.DiscardHandler)})

	if g.Snapshot() != nil {
		t.Fatal("snapshot should be nil before the first load")
	}
	if snap := g.Current(ctx); snap.Len() != 1 || snap.Subjects() != 1 {
		t.Fatalf("unexpected first snapshot: %d/%d", snap.Len(), snap.Subjects())
	}

	reloaded, err := g.Refresh(ctx)
	if err != nil || reloaded {
		t.Fatalf("unchanged marker should not reload: %v %v", reloaded, err)
	}

	src.set("v2", []Enrollment{
		{SubjectKey: "a", Embedding: []float32{1}},
		{SubjectKey: "b", Embedding: []float32{2}},
		{SubjectKey: "b", Embedding: []float32{3}},
		{SubjectKey: "", Embedding: []float32{4}},
		{SubjectKey: "c"},
	})
	reloaded, err = g.Refresh(ctx)
	if err != nil || !reloaded {
		t.Fatalf("changed marker should reload: %v %v", reloaded, err)
	}
	if snap := g.Snapshot(); snap.Len() != 3 || snap.Subjects() != 2 {
		t.Errorf("invalid entries should be dropped, got %d embeddings of %d subjects", snap.Len(), snap.Subjects())
	}
	if src.loads != 2 {
		t.Errorf("expected 2 loads, got %d", src.loads)
	}
}

func TestGallery_ConcurrentReadersDuringReload(t *testing.T) {
	ctx := context.Background()
	small := []Enrollment{{SubjectKey: "a", Embedding: []float32{0, 0}}}
	big := []Enrollment{
		{SubjectKey: "a", Embedding: []float32{0, 0}},
		{SubjectKey: "b", Embedding: []float32{1, 1}},
	}
	src := &staticSource{marker: "0", entries: small}
	g := NewGallery(src, GalleryOptions{Logger: slog.New(slog.DiscardHandler)})
	if err := g.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				src.set("big", big)
			} else {
				src.set("small", small)
			}
			_, _ = g.Refresh(ctx)
		}()
		go func() {
			defer wg.Done()
			snap := g.Snapshot()
			if n := snap.Len(); n != 1 && n != 2 {
				t.Errorf("reader observed a partial snapshot of %d entries", n)
			}
			if _, _, ok := snap.Nearest([]float32{0, 0}); !ok {
				t.Error("nearest lookup failed on a loaded snapshot")
			}
		}()
	}
	wg.Wait()
}

func TestSnapshot_IndexedNearest(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	entries := make([]Enrollment, 300)
	for i := range entries {
		v := make([]float32, 16)
		for j := range v {
			v[j] = rng.Float32()
		}
		entries[i] = Enrollment{SubjectKey: "s" + string(rune('a'+i%26)), Embedding: v}
	}

	snap := newSnapshot(entries, "m", Euclidean, 100)
	if !snap.Indexed() {
		t.Fatal("expected an HNSW index above the threshold")
	}
	key, dist, ok := snap.Nearest(entries[42].Embedding)
	if !ok || dist != 0 || key != entries[42].SubjectKey {
		t.Errorf("Nearest(own embedding) = %q, %v, %v", key, dist, ok)
	}

	if newSnapshot(entries[:10], "m", Euclidean, 100).Indexed() {
		t.Error("small galleries should use the exact scan")
	}
}

func TestSnapshot_IndexedMixedDimensions(t *testing.T) {
	entries := []Enrollment{
		{SubjectKey: "a", Embedding: []float32{0, 0}},
		{SubjectKey: "b", Embedding: []float32{1, 0}},
		{SubjectKey: "c", Embedding: []float32{0, 1, 0}},
	}
	snap := newSnapshot(entries, "m", Euclidean, 1)
	if !snap.Indexed() {
		t.Fatal("expected an index over the dominant dimension")
	}

	tests := []struct {
		name    string
		query   []float32
		wantKey string
		wantOK  bool
	}{
		{name: "indexed dimension", query: []float32{0.9, 0}, wantKey: "b", wantOK: true},
		{name: "minority dimension", query: []float32{0, 1, 0.1}, wantKey: "c", wantOK: true},
		{name: "unknown dimension", query: []float32{1, 0, 0, 0}, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, _, ok := snap.Nearest(tt.query)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Errorf("Nearest(%v) = %q, %v, want %q, %v", tt.query, key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestFileSource(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "encodings.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	write(`{"subjects":[{"key":"alice","embeddings":[[0.1,0.2],[0.3,0.4]]}]}`)
	src := &FileSource{Path: path}
	m1, err := src.Marker(ctx)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := src.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].SubjectKey != "alice" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	write(`{"subjects":[{"key":"alice","embeddings":[[0.1,0.2]]},{"key":"bob","embeddings":[[0.5,0.6]]}]}`)
	m2, _ := src.Marker(ctx)
	if m1 == m2 {
		t.Error("marker should change when the file is rewritten")
	}

	write(`{"subjects":[{"key":"alice","embeddings":[[0.1,0.2],[0.3]]}]}`)
	if _, err := src.Load(ctx); err == nil {
		t.Error("expected dimension mismatch error")
	}
	write(`{"subjects":[{"embeddings":[[0.1]]}]}`)
	if _, err := src.Load(ctx); err == nil {
		t.Error("expected missing key error")
	}

	if _, err := (&FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}).Marker(ctx); err == nil {
		t.Error("expected error for missing file")
	}
}
