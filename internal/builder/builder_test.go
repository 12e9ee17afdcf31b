package builder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"owlsearch/internal/encoder"
	"owlsearch/internal/vectorindex"
)

// fakeEncoderServer returns the same 2-dim vector [1, 0] for every input
// string, so tests can count rows and functions without caring about real
// embedding semantics.
func fakeEncoderServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		resp := struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}{}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{1, 0}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	srv := fakeEncoderServer(t)
	t.Cleanup(srv.Close)

	enc := encoder.New(encoder.Config{
		Endpoints: []encoder.Endpoint{{Device: "cpu", URL: srv.URL}},
		ModelName: "test-model",
	})
	baseDir := t.TempDir()
	b := New(Config{
		Encoder: enc,
		BaseDir: baseDir,
		Metric:  vectorindex.L2,
	})
	return b, baseDir
}

const fallbackSource = `int add(int a, int b) {
	return a + b;
}

int sub(int a, int b) {
	return a - b;
}
`

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return root
}

func TestBuildFullIndex(t *testing.T) {
	b, _ := newTestBuilder(t)
	root := writeRepo(t, map[string]string{"a.foo": fallbackSource})

	funcs, result, err := b.Build(context.Background(), root, ".foo", true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if funcs.Len() != 2 {
		t.Fatalf("expected 2 functions, got %d", funcs.Len())
	}
	if result.FastPath {
		t.Fatalf("expected first build to not take the fast path")
	}
	if result.FunctionCount != 2 {
		t.Fatalf("expected FunctionCount 2, got %d", result.FunctionCount)
	}
}

func TestBuildFastPathOnUnchangedRepo(t *testing.T) {
	b, _ := newTestBuilder(t)
	root := writeRepo(t, map[string]string{"a.foo": fallbackSource})

	if _, _, err := b.Build(context.Background(), root, ".foo", true); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	_, result, err := b.Build(context.Background(), root, ".foo", true)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if !result.FastPath {
		t.Fatalf("expected fast path on unchanged repo")
	}
}

func TestBuildIncrementalAddsAndRemoves(t *testing.T) {
	b, _ := newTestBuilder(t)
	root := writeRepo(t, map[string]string{"a.foo": fallbackSource})

	if _, _, err := b.Build(context.Background(), root, ".foo", true); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	extra := `int mul(int a, int b) {
	return a * b;
}
`
	if err := os.WriteFile(filepath.Join(root, "b.foo"), []byte(extra), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	funcs, result, err := b.Build(context.Background(), root, ".foo", true)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if funcs.Len() != 3 {
		t.Fatalf("expected 3 functions after incremental add, got %d", funcs.Len())
	}
	if result.FastPath {
		t.Fatalf("expected the add to invalidate the fast path")
	}
	if result.ChangedFiles != 1 {
		t.Fatalf("expected 1 changed file, got %d", result.ChangedFiles)
	}

	if err := os.Remove(filepath.Join(root, "a.foo")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	funcs, result, err = b.Build(context.Background(), root, ".foo", true)
	if err != nil {
		t.Fatalf("third Build: %v", err)
	}
	if funcs.Len() != 1 {
		t.Fatalf("expected 1 function after deletion, got %d", funcs.Len())
	}
	if result.DeletedFiles != 1 {
		t.Fatalf("expected 1 deleted file, got %d", result.DeletedFiles)
	}
}

func TestBuildPersistsAndReloads(t *testing.T) {
	b, baseDir := newTestBuilder(t)
	root := writeRepo(t, map[string]string{"a.foo": fallbackSource})

	if _, _, err := b.Build(context.Background(), root, ".foo", true); err != nil {
		t.Fatalf("Build: %v", err)
	}

	srv := fakeEncoderServer(t)
	defer srv.Close()
	enc := encoder.New(encoder.Config{
		Endpoints: []encoder.Endpoint{{Device: "cpu", URL: srv.URL}},
		ModelName: "test-model",
	})
	fresh := New(Config{Encoder: enc, BaseDir: baseDir, Metric: vectorindex.L2})

	funcs, result, err := fresh.Build(context.Background(), root, ".foo", true)
	if err != nil {
		t.Fatalf("reload Build: %v", err)
	}
	if funcs.Len() != 2 {
		t.Fatalf("expected persisted state to reload with 2 functions, got %d", funcs.Len())
	}
	if result.FastPath {
		t.Fatalf("a fresh in-memory builder should take the warm path, not the fast path")
	}
}

func TestClearCacheRemovesPersistedState(t *testing.T) {
	b, baseDir := newTestBuilder(t)
	root := writeRepo(t, map[string]string{"a.foo": fallbackSource})

	if _, _, err := b.Build(context.Background(), root, ".foo", true); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := b.ClearCache(root, ".foo"); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}

	srv := fakeEncoderServer(t)
	defer srv.Close()
	enc := encoder.New(encoder.Config{
		Endpoints: []encoder.Endpoint{{Device: "cpu", URL: srv.URL}},
		ModelName: "test-model",
	})
	fresh := New(Config{Encoder: enc, BaseDir: baseDir, Metric: vectorindex.L2})
	_, result, err := fresh.Build(context.Background(), root, ".foo", true)
	if err != nil {
		t.Fatalf("rebuild after clear: %v", err)
	}
	if result.FastPath {
		t.Fatalf("expected a full rebuild after ClearCache")
	}
}
