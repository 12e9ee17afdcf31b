// Package builder implements the Incremental Builder (C8): the engine that
// turns a (root, ext) target plus whatever changed on disk into a fresh,
// row-aligned Funcs/embedding/vector-index triple, reusing as much of the
// prior build as the diff allows. One Builder owns a set of independently
// locked targets, and partitions each target's files into added/modified,
// unchanged and deleted by the flat per-file content hashes C2 computes.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"owlsearch/internal/accelcache"
	"owlsearch/internal/encoder"
	"owlsearch/internal/errs"
	"owlsearch/internal/extract"
	"owlsearch/internal/fingerprint"
	"owlsearch/internal/funcstore"
	"owlsearch/internal/ignore"
	"owlsearch/internal/indexstate"
	"owlsearch/internal/metrics"
	"owlsearch/internal/vectorindex"
)

// defaultWorkers is the size of the bounded extraction pool used once the
// changed-file set reaches workerThreshold files (§4.8 step 6).
const (
	defaultWorkers  = 8
	workerThreshold = 16
)

// Config wires the collaborators a Builder needs: the encoder for fresh
// positions, the optional accelerator cache, and persistence directory.
type Config struct {
	Encoder       *encoder.Adapter
	Accel         *accelcache.Cache // nil disables the accelerator
	BaseDir       string            // root of the on-disk persistence tree
	Metric        vectorindex.Metric
	Workers       int // 0 means defaultWorkers
	Logger        *slog.Logger
}

// Result reports what one Build call did, for callers that want to log or
// expose counts (e.g. the HTTP /build_index response).
type Result struct {
	Target         Target
	FilesProcessed int
	FunctionCount  int
	FastPath       bool
	ChangedFiles   int
	DeletedFiles   int
}

// Target identifies one independently-locked index.
type Target struct {
	Root string
	Ext  string
}

func (t Target) key() string { return t.Root + "|" + t.Ext }

// Builder owns every target's state behind a per-target lock (§5: "one lock
// per target via a sync.Map, never one global lock across unrelated
// targets").
type Builder struct {
	cfg Config

	locks sync.Map // key -> *sync.Mutex
	state sync.Map // key -> *indexstate.State
}

// New constructs a Builder. cfg.Workers defaults to 8 when unset, and
// cfg.Logger to the process default.
func New(cfg Config) *Builder {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	metrics.WorkerPoolSize.Set(float64(cfg.Workers))
	return &Builder{cfg: cfg}
}

func (b *Builder) lockFor(t Target) *sync.Mutex {
	v, _ := b.locks.LoadOrStore(t.key(), &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ModelConfig returns the fingerprint of the current encoder configuration,
// used both to label persisted state and to detect a changed model.
func (b *Builder) ModelConfig() indexstate.ModelConfig {
	return indexstate.ModelConfig{
		"model_name": b.cfg.Encoder.ModelName(),
	}
}

// Build ensures a fresh index for (root, ext), per the ten-step algorithm of
// §4.8, and returns the resulting function set. updateState controls whether
// a rebuild is additionally persisted to disk (step 10); the in-memory state
// is always replaced.
func (b *Builder) Build(ctx context.Context, root, ext string, updateState bool) (*funcstore.Store, Result, error) {
	target := Target{Root: root, Ext: ext}
	lock := b.lockFor(target)
	lock.Lock()
	defer lock.Unlock()

	logger := b.cfg.Logger.With("root", root, "ext", ext, "build_id", uuid.NewString())
	modelConfig := b.ModelConfig()

	// Step 1: fast path.
	if cur := b.loadedState(target); cur != nil {
		freshInfo, _, err := enumerate(root, ext)
		if err == nil {
			if ok, _ := cur.IsUpToDate(root, freshInfo, modelConfig); ok {
				return cur.Funcs, Result{Target: target, FunctionCount: cur.Funcs.Len(), FastPath: true}, nil
			}
		}
	}

	// Step 2: warm path.
	dir := indexstate.TargetDir(b.cfg.BaseDir, root, ext)
	state, found, err := indexstate.Load(logger, dir, root, ext)
	if errors.Is(err, errs.ErrPersistenceCorrupt) {
		logger.Warn("persisted state unusable, rebuilding target", "err", err)
		found, err = false, nil
	}
	if err != nil {
		return nil, Result{}, err
	}
	if !found {
		dim := b.cfg.Encoder.Dimensions()
		state = indexstate.New(root, ext, dim, b.cfg.Metric, modelConfig)
	} else if !state.ModelConfig.Equal(modelConfig) {
		logger.Warn("model config changed, clearing index", "err", errs.ErrModelMismatch)
		if err := state.ClearCache(dir, true); err != nil {
			return nil, Result{}, err
		}
		state.ModelConfig = modelConfig
	}

	// Step 3: enumerate.
	freshInfo, orderedPaths, err := enumerate(root, ext)
	if err != nil {
		return nil, Result{}, err
	}

	// Step 4: diff.
	unchanged, changed, deleted := diff(state.FileInfo, freshInfo)

	// Step 5: no-op check.
	if len(changed) == 0 && len(deleted) == 0 && found {
		b.state.Store(target.key(), state)
		return state.Funcs, Result{Target: target, FunctionCount: state.Funcs.Len(), FastPath: false}, nil
	}

	// Step 6/7: extract + merge with stable ordering.
	priorByFile := groupByFile(state.Funcs.All())
	changedOrdered := intersectOrdered(orderedPaths, changed)

	extracted, err := b.extractFiles(ctx, logger, changedOrdered)
	if err != nil {
		return nil, Result{}, err
	}

	newStore := funcstore.New()
	unchangedOrdered := intersectOrdered(priorFileOrder(state.Funcs.All()), unchanged)
	for _, path := range unchangedOrdered {
		for _, rec := range priorByFile[path] {
			newStore.Add(rec)
		}
	}
	for _, path := range changedOrdered {
		for _, rec := range extracted[path] {
			newStore.Add(rec)
		}
	}

	// Step 8: embedding reuse via position-scatter.
	rows, err := b.reuseOrEncode(ctx, state, newStore, modelConfig)
	if err != nil {
		return nil, Result{}, err
	}

	// Step 9: rebuild vector index (never mutate the prior one in place).
	newIndex := vectorindex.New(b.cfg.Encoder.Dimensions(), b.cfg.Metric)
	if err := newIndex.Add(rows); err != nil {
		return nil, Result{}, err
	}

	next := indexstate.New(root, ext, b.cfg.Encoder.Dimensions(), b.cfg.Metric, modelConfig)
	next.Funcs = newStore
	next.Vectors = newIndex
	next.SetRows(rows)
	next.FileInfo = freshInfo
	next.LastIndexed = indexstate.Now()

	// Step 10: commit.
	b.state.Store(target.key(), next)
	if updateState {
		if err := next.Save(dir); err != nil {
			return nil, Result{}, err
		}
	}

	result := Result{
		Target:         target,
		FilesProcessed: len(changedOrdered),
		FunctionCount:  newStore.Len(),
		ChangedFiles:   len(changed),
		DeletedFiles:   len(deleted),
	}
	return next.Funcs, result, nil
}

// State returns the in-memory state for (root, ext) as of the last Build
// call, for callers (the query service) that need the vector index alongside
// Funcs. It does not itself ensure freshness — call Build first.
func (b *Builder) State(root, ext string) (*indexstate.State, bool) {
	s := b.loadedState(Target{Root: root, Ext: ext})
	return s, s != nil
}

// EncodeQuery encodes a single query string through the same encoder used to
// build the index, for C9's search operation.
func (b *Builder) EncodeQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := b.cfg.Encoder.Encode(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("encoder returned no vector for query")
	}
	return vectors[0], nil
}

func (b *Builder) loadedState(t Target) *indexstate.State {
	v, ok := b.state.Load(t.key())
	if !ok {
		return nil
	}
	return v.(*indexstate.State)
}

// enumerate walks root with the Ignore Filter, collecting paths matching ext
// and their content hashes (§4.8 step 3). orderedPaths preserves the
// lexicographically-stabilized directory-walk discovery order.
func enumerate(root, ext string) (map[string]indexstate.FileInfo, []string, error) {
	// An unreadable .gitignore (errs.ErrIgnoreParse) is a no-op: ignore.New
	// still returns a Filter, one that ignores nothing.
	filt, _ := ignore.New(root)

	info := make(map[string]indexstate.FileInfo)
	var ordered []string

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := readDirSorted(dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.name)
			if entry.isDir {
				if entry.name == ".git" || filt.IgnoredDir(full) {
					continue
				}
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			if filepath.Ext(full) != ext {
				continue
			}
			if filt.Ignored(full) {
				continue
			}
			hash, err := fingerprint.File(full)
			if err != nil {
				continue
			}
			info[full] = indexstate.FileInfo{Hash: hash}
			ordered = append(ordered, full)
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", errs.ErrInputNotFound, root, err)
	}
	return info, ordered, nil
}

type dirEntry struct {
	name  string
	isDir bool
}

func readDirSorted(dir string) ([]dirEntry, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries, nil
}

// diff partitions the union of prior and fresh file sets into unchanged,
// changed (added or modified), and deleted (§4.8 step 4).
func diff(prev, fresh map[string]indexstate.FileInfo) (unchanged, changed, deleted map[string]bool) {
	unchanged = make(map[string]bool)
	changed = make(map[string]bool)
	deleted = make(map[string]bool)
	for path, info := range fresh {
		if p, ok := prev[path]; ok && p.Hash == info.Hash {
			unchanged[path] = true
		} else {
			changed[path] = true
		}
	}
	for path := range prev {
		if _, ok := fresh[path]; !ok {
			deleted[path] = true
		}
	}
	return
}

func intersectOrdered(ordered []string, set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, p := range ordered {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}

func groupByFile(records []funcstore.Record) map[string][]funcstore.Record {
	m := make(map[string][]funcstore.Record)
	for _, r := range records {
		m[r.File] = append(m[r.File], r)
	}
	return m
}

// priorFileOrder returns each distinct file in the order its first record
// appeared in records, preserving the prior build's discovery order for
// files carried forward unchanged.
func priorFileOrder(records []funcstore.Record) []string {
	seen := make(map[string]bool)
	var order []string
	for _, r := range records {
		if !seen[r.File] {
			seen[r.File] = true
			order = append(order, r.File)
		}
	}
	return order
}

// extractFiles runs C3 over paths, sequentially under workerThreshold files
// and otherwise on a bounded pool of cfg.Workers goroutines, writing each
// file's result into a pre-sized slot so merge order never depends on
// completion order (§4.8 step 6, §5 parallelism-inside-a-request).
func (b *Builder) extractFiles(ctx context.Context, logger *slog.Logger, paths []string) (map[string][]funcstore.Record, error) {
	results := make([][]funcstore.Record, len(paths))

	extractOne := func(i int) error {
		path := paths[i]
		content, err := readFile(path)
		if err != nil {
			logger.Warn("extractor failure, dropping file", "file", path, "err", err)
			return nil
		}
		recs, err := extract.File(ctx, path, content)
		if err != nil {
			logger.Warn("extractor failure, dropping file", "file", path, "err", fmt.Errorf("%w: %v", errs.ErrExtractorFailure, err))
			return nil
		}
		out := make([]funcstore.Record, len(recs))
		for j, r := range recs {
			out[j] = funcstore.Record{
				Name:      r.Name,
				Code:      r.Code,
				File:      path,
				Lineno:    r.Lineno,
				EndLineno: r.EndLineno,
				ClassName: r.ClassName,
				Docstring: r.Docstring,
			}
		}
		results[i] = out
		return nil
	}

	if len(paths) >= workerThreshold {
		g, gctx := errgroup.WithContext(ctx)
		sem := semaphore.NewWeighted(int64(b.cfg.Workers))
		for i := range paths {
			i := i
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil, err
			}
			g.Go(func() error {
				defer sem.Release(1)
				return extractOne(i)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range paths {
			if err := extractOne(i); err != nil {
				return nil, err
			}
		}
	}

	out := make(map[string][]funcstore.Record, len(paths))
	for i, path := range paths {
		out[path] = results[i]
	}
	return out, nil
}

// reuseOrEncode implements §4.8 step 8: rows whose identity hash matches a
// row in the prior build are copied across unchanged; everything else is a
// fresh position, checked against the accelerator before falling through to
// the encoder, in one batched call.
func (b *Builder) reuseOrEncode(ctx context.Context, prev *indexstate.State, newStore *funcstore.Store, modelConfig indexstate.ModelConfig) ([][]float32, error) {
	newRecords := newStore.All()
	prevIDs := prev.Funcs.Identities()
	prevIndex := make(map[string]int, len(prevIDs))
	for i, id := range prevIDs {
		prevIndex[id] = i
	}
	prevRows := prev.RowsView()

	rows := make([][]float32, len(newRecords))
	var freshPositions []int
	var freshTexts []string

	modelTag := modelConfig["model_name"]
	for i, rec := range newRecords {
		id := funcstore.Identity(rec)
		if j, ok := prevIndex[id]; ok && j < len(prevRows) {
			rows[i] = prevRows[j]
			continue
		}
		if b.cfg.Accel != nil {
			hash := fingerprint.Bytes([]byte(rec.Code))
			if cached, ok, err := b.cfg.Accel.Get(hash, modelTag); err == nil && ok {
				rows[i] = cached
				continue
			}
		}
		freshPositions = append(freshPositions, i)
		freshTexts = append(freshTexts, rec.Code)
	}

	if len(freshTexts) > 0 {
		vectors, err := b.cfg.Encoder.Encode(ctx, freshTexts)
		if err != nil {
			return nil, err
		}
		for k, pos := range freshPositions {
			rows[pos] = vectors[k]
			if b.cfg.Accel != nil {
				hash := fingerprint.Bytes([]byte(newRecords[pos].Code))
				_ = b.cfg.Accel.Put(hash, modelTag, vectors[k])
			}
		}
	}
	return rows, nil
}

// ClearCache drops both in-memory and on-disk state for (root, ext).
func (b *Builder) ClearCache(root, ext string) error {
	target := Target{Root: root, Ext: ext}
	lock := b.lockFor(target)
	lock.Lock()
	defer lock.Unlock()

	dir := indexstate.TargetDir(b.cfg.BaseDir, root, ext)
	if cur := b.loadedState(target); cur != nil {
		if err := cur.ClearCache(dir, true); err != nil {
			return err
		}
		b.state.Delete(target.key())
		return nil
	}
	return removeAll(dir)
}
