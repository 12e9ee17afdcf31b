// Package indexstate implements Index State & Persistence (C7): the owner of
// all mutable state for one (root, ext) target, atomic load/save of its four
// on-disk artifacts, and the validity predicate the builder consults before
// deciding whether a rebuild is necessary.
package indexstate

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"owlsearch/internal/errs"
	"owlsearch/internal/fingerprint"
	"owlsearch/internal/funcstore"
	"owlsearch/internal/vectorindex"
)

// FileInfo is the per-file staleness record: its content hash at last index.
type FileInfo struct {
	Hash string `json:"hash"`
}

// ModelConfig fingerprints the encoder; a mismatch against the persisted
// value forces a full rebuild regardless of file hashes.
type ModelConfig map[string]string

// Equal reports whether two model configs have identical key/value pairs.
func (m ModelConfig) Equal(other ModelConfig) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if other[k] != v {
			return false
		}
	}
	return true
}

// Meta is the persisted meta.json document.
type Meta struct {
	FileInfo    map[string]FileInfo `json:"file_info"`
	Directory   string              `json:"directory"`
	LastIndexed int64               `json:"last_indexed"`
	FileExt     string              `json:"file_ext"`
	ModelName   string              `json:"model_name"`
	ModelConfig ModelConfig         `json:"model_config"`
}

// State owns everything for one (root, ext) target: the file-hash map, the
// function store, and the vector index, kept in lockstep (§3 row-alignment
// invariant). Callers serialize all mutation through a per-target lock; this
// type itself does no locking.
type State struct {
	Root        string
	Ext         string
	FileInfo    map[string]FileInfo
	Funcs       *funcstore.Store
	Vectors     *vectorindex.Index
	LastIndexed int64
	ModelConfig ModelConfig

	// rows mirrors the vector index's rows for the npy writer, since C5's
	// minimal capability contract exposes no row-read API beyond Search.
	// Set by the builder whenever it rebuilds the vector index.
	rows [][]float32
}

// SetRows records the embedding matrix rows alongside the vector index, so
// Save can serialize embeddings.npy; the builder calls this whenever it
// rebuilds E' (§4.8 step 9).
func (s *State) SetRows(rows [][]float32) {
	s.rows = rows
}

// RowsView returns the current embedding matrix rows, by row position,
// matching Funcs in order. Callers must not mutate the returned slice; it is
// used by the builder to copy rows forward across a rebuild (§4.8 step 8).
func (s *State) RowsView() [][]float32 {
	return s.rows
}

// New returns a fresh, empty state for (root, ext).
func New(root, ext string, dim int, metric vectorindex.Metric, modelConfig ModelConfig) *State {
	return &State{
		Root:        root,
		Ext:         ext,
		FileInfo:    make(map[string]FileInfo),
		Funcs:       funcstore.New(),
		Vectors:     vectorindex.New(dim, metric),
		ModelConfig: modelConfig,
	}
}

// TargetDir derives the persistence directory for (root, ext) under baseDir,
// per the layout `<basename>_<md5(abs_root)[:16]>/<ext_without_dot>/`.
func TargetDir(baseDir, root, ext string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	sum := md5.Sum([]byte(abs))
	short := hex.EncodeToString(sum[:])[:16]
	name := fmt.Sprintf("%s_%s", filepath.Base(abs), short)
	return filepath.Join(baseDir, name, strings.TrimPrefix(ext, "."))
}

func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Save atomically persists all four artifacts under dir. Each is written via
// a *.tmp sibling then renamed, so a crash leaves either the prior or the new
// version of each artifact, never a partial one.
func (s *State) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	records := s.Funcs.All()
	if err := atomicWriteJSON(filepath.Join(dir, "functions.json"), records); err != nil {
		return fmt.Errorf("indexstate: writing functions.json: %w", err)
	}

	dim := s.Vectors.Dim()
	if err := writeNPY(filepath.Join(dir, "embeddings.npy"), s.rows, dim); err != nil {
		return fmt.Errorf("indexstate: writing embeddings.npy: %w", err)
	}

	if err := s.Vectors.Write(filepath.Join(dir, "faiss.index")); err != nil {
		return fmt.Errorf("indexstate: writing faiss.index: %w", err)
	}

	meta := Meta{
		FileInfo:    s.FileInfo,
		Directory:   s.Root,
		LastIndexed: s.LastIndexed,
		FileExt:     s.Ext,
		ModelName:   s.ModelConfig["model_name"],
		ModelConfig: s.ModelConfig,
	}
	if err := atomicWriteJSON(filepath.Join(dir, "meta.json"), meta); err != nil {
		return fmt.Errorf("indexstate: writing meta.json: %w", err)
	}
	return nil
}

// Load reads persisted state for (root, ext) from dir. A missing meta.json
// reports found=false; an unreadable or unparseable one returns
// errs.ErrPersistenceCorrupt. functions.json, embeddings.npy and faiss.index
// are read independently and a failure of one is logged; a bad faiss.index
// alone is rebuilt from the embeddings. When the three disagree on row count
// they are all cleared together, along with file_info, so the next build
// re-extracts and re-encodes every file; records from an intact
// functions.json are not kept on their own.
func Load(logger *slog.Logger, dir, root, ext string) (*State, bool, error) {
	metaPath := filepath.Join(dir, "meta.json")
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s: %v", errs.ErrPersistenceCorrupt, metaPath, err)
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		logger.Warn("persistence corrupt", "artifact", metaPath, "err", err)
		return nil, false, fmt.Errorf("%w: %s: %v", errs.ErrPersistenceCorrupt, metaPath, err)
	}

	funcPath := filepath.Join(dir, "functions.json")
	funcBytes, err := os.ReadFile(funcPath)
	var records []funcstore.Record
	if err != nil {
		logger.Warn("persistence corrupt, clearing slot", "artifact", funcPath, "err", err)
	} else if err := json.Unmarshal(funcBytes, &records); err != nil {
		logger.Warn("persistence corrupt, clearing slot", "artifact", funcPath, "err", err)
		records = nil
	}

	embPath := filepath.Join(dir, "embeddings.npy")
	rows, dim, err := readNPY(embPath)
	if err != nil {
		logger.Warn("persistence corrupt, clearing slot", "artifact", embPath, "err", err)
		rows, dim = nil, 0
	}

	idxPath := filepath.Join(dir, "faiss.index")
	vecIdx, err := vectorindex.Read(idxPath)
	if err != nil {
		logger.Warn("persistence corrupt, clearing slot", "artifact", idxPath, "err", err)
		vecIdx = vectorindex.New(dim, vectorindex.L2)
		if len(rows) > 0 {
			vecIdx.Add(rows)
		}
	}

	if len(records) != len(rows) || len(records) != vecIdx.Count() {
		logger.Warn("functions/embeddings/index row counts disagree, clearing them and file_info for a full rebuild",
			"functions", len(records), "embeddings", len(rows), "index", vecIdx.Count())
		vecIdx = vectorindex.New(dim, vectorindex.L2)
		records = nil
		rows = nil
		meta.FileInfo = nil
	}

	s := &State{
		Root:        root,
		Ext:         ext,
		FileInfo:    meta.FileInfo,
		Funcs:       funcstore.FromRecords(records),
		Vectors:     vecIdx,
		LastIndexed: meta.LastIndexed,
		ModelConfig: meta.ModelConfig,
		rows:        rows,
	}
	if s.FileInfo == nil {
		s.FileInfo = make(map[string]FileInfo)
	}
	return s, true, nil
}

// IsUpToDate implements the §4.7 validity predicate. freshInfo is the result
// of a fresh ignore-aware walk + fingerprint of root (computed by the
// caller, since the walk itself belongs to C1/C2, not C7). It returns
// whether the state is current and, if not, the reasons (for logging).
func (s *State) IsUpToDate(root string, freshInfo map[string]FileInfo, modelConfig ModelConfig) (bool, []string) {
	var reasons []string

	if s.Root != root {
		reasons = append(reasons, fmt.Sprintf("root mismatch: state=%s requested=%s", s.Root, root))
	}
	if !s.ModelConfig.Equal(modelConfig) {
		reasons = append(reasons, "model_config mismatch")
	}
	if len(s.FileInfo) == 0 {
		reasons = append(reasons, "file_info empty")
	}
	for path, info := range s.FileInfo {
		hash, err := fingerprint.File(path)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("file missing or unreadable: %s", path))
			continue
		}
		if hash != info.Hash {
			reasons = append(reasons, fmt.Sprintf("content changed: %s", path))
		}
	}
	for path := range freshInfo {
		if _, ok := s.FileInfo[path]; !ok {
			reasons = append(reasons, fmt.Sprintf("new file not in file_info: %s", path))
		}
	}
	return len(reasons) == 0, reasons
}

// ClearCache drops in-memory state and, if alsoDisk, removes the persistence
// directory.
func (s *State) ClearCache(dir string, alsoDisk bool) error {
	s.FileInfo = make(map[string]FileInfo)
	s.Funcs = funcstore.New()
	s.Vectors = vectorindex.New(s.Vectors.Dim(), vectorindex.L2)
	s.rows = nil
	s.LastIndexed = 0
	if alsoDisk {
		return os.RemoveAll(dir)
	}
	return nil
}

// Now returns the current wall-clock time in Unix seconds, used to stamp
// LastIndexed.
func Now() int64 {
	return time.Now().Unix()
}
