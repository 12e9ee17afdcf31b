// Package vectorindex implements the Vector Index Adapter (C5): a flat
// (brute-force) L2 or inner-product index over row-position-addressed
// vectors. No approximate-nearest-neighbour library is linked in here — that
// capability is explicitly out of scope for this implementation; this is the
// conforming flat case the specification calls for.
package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
)

// Metric selects the distance function used by Search.
type Metric int32

const (
	// L2 ranks ascending: smaller squared distance is closer.
	L2 Metric = iota
	// InnerProduct ranks descending: larger dot product is closer.
	InnerProduct
)

// magic identifies the custom faiss.index binary layout this adapter reads
// and writes. There is no real Go FAISS binding anywhere available, so this
// format documents itself rather than attempting byte-compatibility with a
// real FAISS index file.
const magic = "OWLFLATV1"

// Index is a flat vector index keyed by row position. Row ids returned by
// Search are positions into the caller's parallel record sequence (C6);
// the index itself stores no metadata.
type Index struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	rows   [][]float32
}

// New creates an empty index of the given dimension and metric.
func New(dim int, metric Metric) *Index {
	return &Index{dim: dim, metric: metric}
}

// Dim returns the configured row dimension.
func (idx *Index) Dim() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// Count returns ntotal, the number of rows currently indexed.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.rows)
}

// Add appends rows, in order, to the index. Every row must match the
// configured dimension.
func (idx *Index) Add(rows [][]float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, r := range rows {
		if len(r) != idx.dim {
			return fmt.Errorf("vectorindex: row has dimension %d, want %d", len(r), idx.dim)
		}
	}
	idx.rows = append(idx.rows, rows...)
	return nil
}

type scored struct {
	row   int
	score float32
}

// Search returns the k nearest rows to query, as parallel (distances,
// row_ids) slices. row_ids are positions into the caller's record sequence;
// -1 pads results when fewer than k rows exist.
func (idx *Index) Search(query []float32, k int) ([]float32, []int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.dim {
		return nil, nil, fmt.Errorf("vectorindex: query has dimension %d, want %d", len(query), idx.dim)
	}
	if k <= 0 {
		return nil, nil, nil
	}

	candidates := make([]scored, len(idx.rows))
	for i, row := range idx.rows {
		candidates[i] = scored{row: i, score: idx.distance(query, row)}
	}

	switch idx.metric {
	case InnerProduct:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	default:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })
	}

	n := k
	if n > len(candidates) {
		n = len(candidates)
	}

	distances := make([]float32, k)
	rowIDs := make([]int, k)
	for i := 0; i < k; i++ {
		if i < n {
			distances[i] = candidates[i].score
			rowIDs[i] = candidates[i].row
		} else {
			rowIDs[i] = -1
		}
	}
	return distances, rowIDs, nil
}

func (idx *Index) distance(query, row []float32) float32 {
	switch idx.metric {
	case InnerProduct:
		var sum float32
		for i := range query {
			sum += query[i] * row[i]
		}
		return sum
	default:
		var sum float64
		for i := range query {
			d := float64(query[i] - row[i])
			sum += d * d
		}
		return float32(sum)
	}
}

// Write serializes the index to a *.tmp sibling of path then renames it into
// place, so a crash mid-write never leaves a partially-written faiss.index.
func (idx *Index) Write(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(magic); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	header := []int32{int32(idx.dim), int32(idx.metric), int32(len(idx.rows))}
	for _, h := range header {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	for _, row := range idx.rows {
		for _, v := range row {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads an index previously written by Write.
func Read(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	gotMagic := make([]byte, len(magic))
	if _, err := readFull(r, gotMagic); err != nil {
		return nil, fmt.Errorf("vectorindex: %w", err)
	}
	if string(gotMagic) != magic {
		return nil, fmt.Errorf("vectorindex: bad magic %q", gotMagic)
	}

	var dim, metric, count int32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &metric); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	idx := &Index{dim: int(dim), metric: Metric(metric), rows: make([][]float32, count)}
	for i := int32(0); i < count; i++ {
		row := make([]float32, dim)
		for j := int32(0); j < dim; j++ {
			var v float32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, err
			}
			row[j] = v
		}
		idx.rows[i] = row
	}
	return idx, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Normalize scales v to unit length in place, the invariant C4 guarantees
// for every embedding this index ever stores.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
