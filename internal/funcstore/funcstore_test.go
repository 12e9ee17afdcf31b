package funcstore

import "testing"

func TestIdentityStableAndDistinguishing(t *testing.T) {
	a := Record{File: "a.py", Name: "foo", Lineno: 1, EndLineno: 3}
	b := Record{File: "a.py", Name: "foo", Lineno: 1, EndLineno: 3, Code: "different code"}
	if Identity(a) != Identity(b) {
		t.Fatalf("identity must ignore Code, only depend on file|name|lineno|end_lineno")
	}

	c := Record{File: "a.py", Name: "bar", Lineno: 1, EndLineno: 3}
	if Identity(a) == Identity(c) {
		t.Fatalf("different name must yield different identity")
	}
}

func TestStoreOrderAndLookup(t *testing.T) {
	s := New()
	i0 := s.Add(Record{Name: "foo", File: "a.py"})
	i1 := s.Add(Record{Name: "bar", File: "b.py"})
	if i0 != 0 || i1 != 1 {
		t.Fatalf("expected sequential row indices, got %d %d", i0, i1)
	}
	if s.Len() != 2 {
		t.Fatalf("expected length 2, got %d", s.Len())
	}
	r, ok := s.At(0)
	if !ok || r.Name != "foo" {
		t.Fatalf("expected foo at row 0, got %+v ok=%v", r, ok)
	}
	if _, ok := s.At(5); ok {
		t.Fatalf("expected out-of-range lookup to fail")
	}
}

func TestFilesDeduplicates(t *testing.T) {
	s := FromRecords([]Record{
		{Name: "foo", File: "a.py"},
		{Name: "bar", File: "a.py"},
		{Name: "baz", File: "b.py"},
	})
	files := s.Files()
	if len(files) != 2 || !files["a.py"] || !files["b.py"] {
		t.Fatalf("unexpected file set: %+v", files)
	}
}
