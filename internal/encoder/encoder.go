// Package encoder implements the Encoder Adapter (C4): batched text→vector
// encoding with device-preference fallback, out-of-memory batch-halving
// retries, and optional progress reporting. The neural encoder itself is an
// out-of-scope external collaborator (per this module's specification); this
// adapter reaches it over HTTP through an ordered, device-tagged endpoint
// list standing in for "mps -> cuda -> cpu".
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"owlsearch/internal/errs"
	"owlsearch/internal/vectorindex"
)

// Endpoint is one device-tagged encoder HTTP endpoint.
type Endpoint struct {
	Device string // "mps", "cuda", or "cpu"
	URL    string
}

// Config configures an Adapter. Endpoints should be given in device
// preference order, e.g. mps, cuda, cpu; the adapter only ever falls back
// toward later entries, never forward.
type Config struct {
	Endpoints         []Endpoint
	InitialBatchSize  int
	ProgressEnabled   bool
	ProgressThreshold int // progress is only emitted above this input count
	MaxRetries        int // batch-halving retry cap per endpoint
	HTTPClient        *http.Client
	RequestTimeout    time.Duration
	ModelName         string // OWL_MODEL_NAME; part of the model-config fingerprint
}

func (c Config) withDefaults() Config {
	if c.InitialBatchSize <= 0 {
		c.InitialBatchSize = 32
	}
	if c.ProgressThreshold <= 0 {
		c.ProgressThreshold = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.HTTPClient == nil {
		timeout := c.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		c.HTTPClient = &http.Client{Timeout: timeout}
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = []Endpoint{{Device: "cpu", URL: "http://127.0.0.1:1234/v1/embeddings"}}
	}
	return c
}

// Adapter is the process-wide encoder. Device selection is cached and
// reused across calls until a failure forces a fallback; that mutation
// happens under the same lock that protects it, never by callers toggling
// device state directly.
type Adapter struct {
	cfg Config

	mu          sync.Mutex
	deviceIdx   int
	dim         int
	dimResolved bool
	batchSize   int
}

// New constructs an Adapter with the given config, applying defaults for any
// zero-valued field.
func New(cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{cfg: cfg, batchSize: cfg.InitialBatchSize}
}

// BatchSize returns the current initial batch size used before any
// out-of-memory halving, adjustable at runtime via SetBatchSize.
func (a *Adapter) BatchSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.batchSize
}

// SetBatchSize overrides the batch size new Encode calls start from; values
// below 1 are ignored.
func (a *Adapter) SetBatchSize(n int) {
	if n < 1 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batchSize = n
}

// Dimensions returns the embedding width, as reported by the first
// successful encode call. Before any call has succeeded, 0 is returned.
func (a *Adapter) Dimensions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dim
}

// ModelName returns the configured OWL_MODEL_NAME, part of the
// model-config fingerprint the builder stamps into persisted state.
func (a *Adapter) ModelName() string {
	return a.cfg.ModelName
}

// ResetDevice clears the cached device choice, forcing the next Encode call
// to start from the front of the preference list again.
func (a *Adapter) ResetDevice() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deviceIdx = 0
}

type embedRequest struct {
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Encode maps texts to unit-length vectors, one row per input, in order. It
// tries the cached (or first) device endpoint with batch-halving retries; on
// persistent non-CPU failure it advances to the CPU-tagged endpoint and
// retries once more before returning errs.ErrEncoderMemory.
func (a *Adapter) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	a.mu.Lock()
	startIdx := a.deviceIdx
	a.mu.Unlock()

	var bar *progressbar.ProgressBar
	if a.cfg.ProgressEnabled && len(texts) > a.cfg.ProgressThreshold {
		bar = progressbar.Default(int64(len(texts)), "encoding")
	}

	var lastErr error
	triedCPU := false
	for idx := startIdx; idx < len(a.cfg.Endpoints); {
		ep := a.cfg.Endpoints[idx]
		vectors, err := a.encodeWithRetries(ctx, ep, texts, bar)
		if err == nil {
			a.mu.Lock()
			a.deviceIdx = idx
			if len(vectors) > 0 {
				a.dim = len(vectors[0])
				a.dimResolved = true
			}
			a.mu.Unlock()
			for _, v := range vectors {
				vectorindex.Normalize(v)
			}
			return vectors, nil
		}
		lastErr = err

		if ep.Device == "cpu" {
			triedCPU = true
			break
		}
		next := a.findEndpoint("cpu")
		if next < 0 || next == idx {
			break
		}
		idx = next
		triedCPU = false
	}
	if !triedCPU {
		if cpuIdx := a.findEndpoint("cpu"); cpuIdx >= 0 {
			vectors, err := a.encodeWithRetries(ctx, a.cfg.Endpoints[cpuIdx], texts, bar)
			if err == nil {
				a.mu.Lock()
				a.deviceIdx = cpuIdx
				a.mu.Unlock()
				for _, v := range vectors {
					vectorindex.Normalize(v)
				}
				return vectors, nil
			}
			lastErr = err
		}
	}
	return nil, fmt.Errorf("%w: %v", errs.ErrEncoderMemory, lastErr)
}

func (a *Adapter) findEndpoint(device string) int {
	for i, ep := range a.cfg.Endpoints {
		if ep.Device == device {
			return i
		}
	}
	return -1
}

// encodeWithRetries halves the batch size up to MaxRetries times on failure
// against one endpoint.
func (a *Adapter) encodeWithRetries(ctx context.Context, ep Endpoint, texts []string, bar *progressbar.ProgressBar) ([][]float32, error) {
	batch := a.BatchSize()
	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxRetries; attempt++ {
		vectors, err := a.encodeBatched(ctx, ep, texts, batch, bar)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		batch = batch / 2
		if batch < 1 {
			batch = 1
		}
	}
	return nil, lastErr
}

func (a *Adapter) encodeBatched(ctx context.Context, ep Endpoint, texts []string, batch int, bar *progressbar.ProgressBar) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := start + batch
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := a.postBatch(ctx, ep, texts[start:end])
		if err != nil {
			return nil, err
		}
		result = append(result, vectors...)
		if bar != nil {
			bar.Add(end - start)
		}
	}
	return result, nil
}

func (a *Adapter) postBatch(ctx context.Context, ep Endpoint, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encoder endpoint %s (%s) unreachable: %w", ep.Device, ep.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("encoder endpoint %s (%s) returned %d", ep.Device, ep.URL, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("encoder endpoint %s (%s) returned %d: %s", ep.Device, ep.URL, resp.StatusCode, string(data))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
