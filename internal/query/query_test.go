package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"owlsearch/internal/builder"
	"owlsearch/internal/encoder"
	"owlsearch/internal/vectorindex"
)

// rule maps any input text containing substr to vec; the first matching rule
// wins, so earlier entries should be the more specific ones.
type rule struct {
	substr string
	vec    []float32
}

// fakeEncoderServer returns a vector per input text, chosen by the first
// matching substring rule (falling back to the zero vector), so tests can
// construct a deterministic rank ordering without depending on the exact
// byte span the extractor carves out of each source file.
func fakeEncoderServer(t *testing.T, rules []rule, dim int) *httptest.Server {
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
		for _, text := range req.Input {
			vec := make([]float32, dim)
			for _, rl := range rules {
				if strings.Contains(text, rl.substr) {
					vec = rl.vec
					break
				}
			}
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: vec})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

const pySource = `class Widget:
    def render(self):
        return 1

    def resize(self):
        return 2

    def destroy(self):
        return 3


def standalone_helper():
    return 4
`

func newTestBuilder(t *testing.T, rules []rule) *builder.Builder {
	t.Helper()
	srv := fakeEncoderServer(t, rules, 2)
	t.Cleanup(srv.Close)
	enc := encoder.New(encoder.Config{
		Endpoints: []encoder.Endpoint{{Device: "cpu", URL: srv.URL}},
		ModelName: "test-model",
	})
	return builder.New(builder.Config{
		Encoder: enc,
		BaseDir: t.TempDir(),
		Metric:  vectorindex.L2,
	})
}

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

func TestSearchReturnsRankedHits(t *testing.T) {
	// render's body is a near-exact match for the query vector; the rest
	// are orthogonal or opposite.
	rules := []rule{
		{substr: "QUERY_RENDER", vec: []float32{1, 0}},
		{substr: "def render", vec: []float32{1, 0}},
		{substr: "def resize", vec: []float32{0, 1}},
		{substr: "def destroy", vec: []float32{0, -1}},
		{substr: "def standalone_helper", vec: []float32{-1, 0}},
	}
	b := newTestBuilder(t, rules)
	root := writeRepo(t, map[string]string{"widget.py": pySource})

	hits, msg, err := Search(context.Background(), b, root, ".py", "QUERY_RENDER", 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if msg != "" {
		t.Fatalf("expected no message, got %q", msg)
	}
	if len(hits) == 0 {
		t.Fatalf("expected at least one hit")
	}
	if hits[0].Record.Name != "render" {
		t.Fatalf("expected render to rank first, got %s", hits[0].Record.Name)
	}
	if hits[0].Rank != 1 {
		t.Fatalf("expected rank 1 for the top hit, got %d", hits[0].Rank)
	}
}

func TestSearchEmptyTargetReturnsMessage(t *testing.T) {
	b := newTestBuilder(t, nil)
	root := writeRepo(t, map[string]string{"empty.py": "# nothing here\n"})

	hits, msg, err := Search(context.Background(), b, root, ".py", "anything", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits for an empty target")
	}
	if msg == "" {
		t.Fatalf("expected an explanatory message for an empty target")
	}
}

func TestClassStatsGroupsAndScores(t *testing.T) {
	rules := []rule{
		{substr: "QUERY_WIDGET", vec: []float32{1, 0}},
		{substr: "def render", vec: []float32{1, 0}},
		{substr: "def resize", vec: []float32{1, 0}},
		{substr: "def destroy", vec: []float32{0, -1}},
		{substr: "def standalone_helper", vec: []float32{0, -1}},
	}
	b := newTestBuilder(t, rules)
	root := writeRepo(t, map[string]string{"widget.py": pySource})

	groups, standalones, err := ClassStats(context.Background(), b, root, ".py", "QUERY_WIDGET", 4)
	if err != nil {
		t.Fatalf("ClassStats: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 class group, got %d", len(groups))
	}
	g := groups[0]
	if g.ClassName != "Widget" {
		t.Fatalf("expected class Widget, got %q", g.ClassName)
	}
	if g.MethodCount != 3 {
		t.Fatalf("expected 3 methods, got %d", g.MethodCount)
	}
	if g.Matched == 0 {
		t.Fatalf("expected at least one matched method")
	}
	if g.Composite <= 0 {
		t.Fatalf("expected a positive composite score, got %v", g.Composite)
	}
	if len(standalones) != 1 || standalones[0].Name != "standalone_helper" {
		t.Fatalf("expected standalone_helper as the lone stand-alone function, got %+v", standalones)
	}
}
