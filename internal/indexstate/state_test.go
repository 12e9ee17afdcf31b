package indexstate

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"owlsearch/internal/fingerprint"
	"owlsearch/internal/funcstore"
	"owlsearch/internal/vectorindex"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func buildSample(t *testing.T) *State {
	t.Helper()
	s := New("/repo", ".py", 2, vectorindex.L2, ModelConfig{"model_name": "m1"})
	s.FileInfo["/repo/a.py"] = FileInfo{Hash: "hash-a"}
	s.Funcs.Add(funcstore.Record{Name: "foo", Code: "def foo(): pass", File: "/repo/a.py", Lineno: 1, EndLineno: 2})
	rows := [][]float32{{0.6, 0.8}}
	if err := s.Vectors.Add(rows); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.SetRows(rows)
	s.LastIndexed = Now()
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	if err := s.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := Load(testLogger(), dir, "/repo", ".py")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected existing state to load")
	}
	if loaded.Funcs.Len() != 1 {
		t.Fatalf("expected 1 function, got %d", loaded.Funcs.Len())
	}
	rec, _ := loaded.Funcs.At(0)
	if rec.Name != "foo" {
		t.Fatalf("expected function foo, got %s", rec.Name)
	}
	if loaded.Vectors.Count() != 1 {
		t.Fatalf("expected 1 indexed row, got %d", loaded.Vectors.Count())
	}
	if !loaded.ModelConfig.Equal(ModelConfig{"model_name": "m1"}) {
		t.Fatalf("model config mismatch: %v", loaded.ModelConfig)
	}
	if loaded.FileInfo["/repo/a.py"].Hash != "hash-a" {
		t.Fatalf("expected file_info to round-trip")
	}
}

func TestLoadMissingDirReturnsNotFound(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "absent")
	_, ok, err := Load(testLogger(), dir, "/repo", ".py")
	if err != nil {
		t.Fatalf("expected no error for absent state, got %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for absent state")
	}
}

func TestAtomicSaveLeavesNoTmpBehind(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	if err := s.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("found leftover tmp artifact: %s", e.Name())
		}
	}
}

func TestCrashMidWriteDoesNotCorruptPriorState(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	if err := s.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Simulate a crash partway through a second save: a stray .tmp file
	// with no corresponding rename must not be mistaken for the real
	// artifact, and the previously-committed version must still load.
	if err := os.WriteFile(filepath.Join(dir, "meta.json.tmp"), []byte("{not json"), fs.FileMode(0o644)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, ok, err := Load(testLogger(), dir, "/repo", ".py")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected the committed state to still load")
	}
	if loaded.Funcs.Len() != 1 {
		t.Fatalf("expected the committed function to survive, got %d records", loaded.Funcs.Len())
	}
}

func TestLoadClearsOnlyCorruptSlot(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	if err := s.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "embeddings.npy"), []byte("not an npy file"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, ok, err := Load(testLogger(), dir, "/repo", ".py")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected partial load to still succeed")
	}
	// Corrupt embeddings forces row-count disagreement against functions.json,
	// so the whole row set is cleared and a rebuild is expected.
	if loaded.Funcs.Len() != 0 {
		t.Fatalf("expected functions cleared after row-count disagreement, got %d", loaded.Funcs.Len())
	}
	if loaded.Vectors.Count() != 0 {
		t.Fatalf("expected vector index cleared after row-count disagreement, got %d", loaded.Vectors.Count())
	}
	// meta.json (directory, model config) is a separate artifact and survives.
	if !loaded.ModelConfig.Equal(ModelConfig{"model_name": "m1"}) {
		t.Fatalf("expected meta.json to survive independently of embeddings corruption")
	}
}

func TestIsUpToDateTrueWhenNothingChanged(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	path := filepath.Join(dir, "a.py")
	if err := os.WriteFile(path, []byte("def foo(): pass"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s.Root = dir
	s.FileInfo = map[string]FileInfo{path: {Hash: hashOf(t, path)}}

	ok, reasons := s.IsUpToDate(dir, map[string]FileInfo{path: {Hash: hashOf(t, path)}}, ModelConfig{"model_name": "m1"})
	if !ok {
		t.Fatalf("expected up to date, got reasons: %v", reasons)
	}
}

func TestIsUpToDateFalseOnRootMismatch(t *testing.T) {
	s := buildSample(t)
	ok, reasons := s.IsUpToDate("/other", map[string]FileInfo{}, ModelConfig{"model_name": "m1"})
	if ok {
		t.Fatalf("expected root mismatch to be stale")
	}
	if len(reasons) == 0 {
		t.Fatalf("expected at least one reason")
	}
}

func TestIsUpToDateFalseOnModelConfigMismatch(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	path := filepath.Join(dir, "a.py")
	if err := os.WriteFile(path, []byte("def foo(): pass"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s.Root = dir
	s.FileInfo = map[string]FileInfo{path: {Hash: hashOf(t, path)}}

	ok, _ := s.IsUpToDate(dir, map[string]FileInfo{path: {Hash: hashOf(t, path)}}, ModelConfig{"model_name": "m2"})
	if ok {
		t.Fatalf("expected model_config mismatch to be stale")
	}
}

func TestIsUpToDateFalseOnChangedContent(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	path := filepath.Join(dir, "a.py")
	if err := os.WriteFile(path, []byte("def foo(): pass"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s.Root = dir
	s.FileInfo = map[string]FileInfo{path: {Hash: "stale-hash"}}

	ok, reasons := s.IsUpToDate(dir, map[string]FileInfo{path: {Hash: hashOf(t, path)}}, ModelConfig{"model_name": "m1"})
	if ok {
		t.Fatalf("expected content change to be stale, reasons: %v", reasons)
	}
}

func TestIsUpToDateFalseOnNewUntrackedFile(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	path := filepath.Join(dir, "a.py")
	if err := os.WriteFile(path, []byte("def foo(): pass"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s.Root = dir
	s.FileInfo = map[string]FileInfo{path: {Hash: hashOf(t, path)}}

	newPath := filepath.Join(dir, "b.py")
	ok, reasons := s.IsUpToDate(dir, map[string]FileInfo{
		path:    {Hash: hashOf(t, path)},
		newPath: {Hash: "new-hash"},
	}, ModelConfig{"model_name": "m1"})
	if ok {
		t.Fatalf("expected new untracked file to be stale, reasons: %v", reasons)
	}
}

func TestClearCacheInMemoryOnly(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	if err := s.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.ClearCache(dir, false); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if s.Funcs.Len() != 0 || s.Vectors.Count() != 0 || len(s.FileInfo) != 0 {
		t.Fatalf("expected in-memory state cleared")
	}
	if _, err := os.Stat(filepath.Join(dir, "meta.json")); err != nil {
		t.Fatalf("expected meta.json to survive when alsoDisk=false: %v", err)
	}
}

func TestClearCacheAlsoRemovesDisk(t *testing.T) {
	dir := t.TempDir()
	s := buildSample(t)
	if err := s.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.ClearCache(dir, true); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected persistence directory removed, stat err: %v", err)
	}
}

func hashOf(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return fingerprint.Bytes(data)
}
