package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/distr1/erect/internal/core"
)

func init() {
	Register(sampleResult{})
}

type sampleResult struct {
	Output string
}

func TestMemoryStoreRoundtrip(t *testing.T) {
	s := NewMemoryStore()
	want := core.CacheRecord{
		InputMetadata: map[string]interface{}{"cmdline": "gcc -c foo.c"},
		Result:        sampleResult{Output: "foo.o"},
	}
	if err := s.Set("task-key", want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := s.Get("task-key")
	if !ok {
		t.Fatalf("Get: record not found")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get returned unexpected record. diff (-want +got):\n%s", diff)
	}
	if _, ok := s.Get("missing"); ok {
		t.Errorf("Get(missing) = found, want miss")
	}
}

func TestStoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	want := core.CacheRecord{
		InputMetadata: map[string]interface{}{
			"cmdline": "gcc -c foo.c",
			"defines": []string{"-DNDEBUG"},
		},
		FileFingerprints: map[string]core.Fingerprint{
			"foo.c": {MtimeNS: 1234, Hash: [32]byte{1, 2, 3}},
		},
		Result: sampleResult{Output: "foo.o"},
	}
	if err := s.Set("task-key", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := s.Get("task-key")
	if !ok {
		t.Fatalf("Get: record not found")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get returned unexpected record. diff (-want +got):\n%s", diff)
	}
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := core.CacheRecord{Result: sampleResult{Output: "bar.o"}}
	if err := s1.Set("k", want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, ok := s2.Get("k")
	if !ok {
		t.Fatalf("Get after reopen: record not found")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get after reopen returned unexpected record. diff (-want +got):\n%s", diff)
	}
}

// metadataBody is a minimal core.Body/core.InputMetadataProvider used only to
// drive a real core.Task end to end against a bbolt-backed Store, the way
// gcctask.Compile or template.Render would.
type metadataBody struct {
	metadata map[string]interface{}
	outPath  string
	runs     *int
}

func (b *metadataBody) InputMetadata() map[string]interface{} { return b.metadata }

func (b *metadataBody) Run(context.Context) (interface{}, error) {
	*b.runs++
	return "ok", os.WriteFile(b.outPath, []byte("ok"), 0644)
}

// TestStoreBackedUpToDateAcceptsEmptyFlagSlice drives a task whose
// InputMetadata holds a non-nil empty []string (what gcctask.flagsFor
// returns for a compiler invocation with no flags, and what
// template.Render.Data may hold under a map[string]interface{}) through a
// real bbolt Store and confirms the second run is still a cache hit. Before
// both cache.init registering map[string]interface{} and task.UpToDate
// normalizing empty/nil slices, this regressed: gob always decodes a
// zero-length slice back as nil, so a fresh []string{} never compared equal
// to the round-tripped metadata and every rebuild looked stale.
func TestStoreBackedUpToDateAcceptsEmptyFlagSlice(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	outPath := filepath.Join(dir, "foo.o")
	metadata := map[string]interface{}{
		"toolchain_prefix": "",
		"flags":            []string{},
		"data":             map[string]interface{}{"size": int64(1 << 20)},
	}

	var runs int
	newTask := func(ctx *core.Context) *core.Task {
		task, _ := core.NewTask(ctx, core.NewTaskID("compile", outPath))
		task.AddOutputFiles(outPath)
		task.Body = &metadataBody{metadata: metadata, outPath: outPath, runs: &runs}
		return task
	}

	t1 := newTask(core.NewContext(1, store))
	if err := t1.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	t2 := newTask(core.NewContext(1, store))
	if err := t2.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if runs != 1 {
		t.Errorf("Body.Run called %d times, want 1 (second run should hit the persistent cache)", runs)
	}
}

func TestStoreGetMissUnknownKey(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.Get("nope"); ok {
		t.Errorf("Get(nope) = found, want miss")
	}
}
