// Package pipeline implements the Indexing Pipeline (spec §4.D): a
// parse → chunk → embed → persist stage sequence with per-stage retry
// policies and exponential backoff, run over a bounded-concurrency stream of
// fingerprints. The per-stage retry/backoff discipline mirrors the teacher's
// own reconnect-with-backoff loop in pkg/synchronization/controller.go
// (autoReconnectInterval-style waits between attempts), generalized from a
// single long-lived retry loop to a short per-stage retry budget.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/okets/folder-mcp/internal/errs"
	"github.com/okets/folder-mcp/internal/fingerprint"
	"github.com/okets/folder-mcp/internal/model"
)

// DefaultConcurrency is the default bounded-concurrency level W for batch
// processing (spec §4.D).
const DefaultConcurrency = 3

// stagePolicy pairs a stage name with its retry budget.
type stagePolicy struct {
	name       string
	maxRetries int
}

// Default per-stage retry budgets, per spec §4.D.
var (
	parsePolicy   = stagePolicy{"parse", 2}
	chunkPolicy   = stagePolicy{"chunk", 1}
	embedPolicy   = stagePolicy{"embed", 3}
	persistPolicy = stagePolicy{"persist", 2}
)

// retryBase and retryFactor define the pipeline's exponential backoff
// schedule, per spec §4.D.
const (
	retryBase   = 1 * time.Second
	retryFactor = 2
)

// Chunk is a single unit of extracted, segmented text awaiting embedding.
type Chunk struct {
	Ordinal          int
	ExtractionParams string
	Text             string
	TokenEstimate    int
}

// Parser extracts plain text from a file's raw bytes. The Pipeline passes
// each fingerprint's Path unchanged, which is folder-relative; the lifecycle
// orchestrator wraps its configured Parser so that it receives the path
// joined onto the folder root.
type Parser interface {
	Parse(ctx context.Context, absolutePath string) (text string, err error)
}

// Chunker segments extracted text into chunks suitable for embedding.
type Chunker interface {
	Chunk(text string) []Chunk
}

// Persister writes a file's chunks and embeddings atomically, keyed by
// fingerprint. Implemented by internal/storage.Store in production.
type Persister interface {
	UpsertDocument(ctx context.Context, path, hash string, size int64, modTime int64, chunks []Chunk, embeddingsByOrdinal map[int][]float32, modelID string) error
}

// Outcome is the result of running the pipeline for a single fingerprint.
type Outcome struct {
	Path         string
	Succeeded    bool
	SkippedEmpty bool
	FailedStage  string
	Err          error
	// Retries is the total number of retry attempts (beyond each stage's
	// first try) consumed across every stage run for this fingerprint,
	// surfaced so callers can record it against the originating task (spec
	// §8 scenario S4: a task that recovers via internal stage retries still
	// reports the retry count it took to succeed).
	Retries int
}

// Pipeline wires together the parse/chunk/embed/persist stages.
type Pipeline struct {
	parser      Parser
	chunker     Chunker
	embedder    model.Embedder
	persister   Persister
	allowedExts map[string]bool
	concurrency int
}

// Config configures a Pipeline.
type Config struct {
	Parser      Parser
	Chunker     Chunker
	Embedder    model.Embedder
	Persister   Persister
	AllowedExts []string
	Concurrency int
}

// New constructs a Pipeline. A Concurrency of 0 uses DefaultConcurrency.
func New(cfg Config) *Pipeline {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	allowed := make(map[string]bool, len(cfg.AllowedExts))
	for _, ext := range cfg.AllowedExts {
		allowed[ext] = true
	}
	return &Pipeline{
		parser:      cfg.Parser,
		chunker:     cfg.Chunker,
		embedder:    cfg.Embedder,
		persister:   cfg.Persister,
		allowedExts: allowed,
		concurrency: concurrency,
	}
}

// Run processes a stream of fingerprints with the pipeline's configured
// concurrency bound, emitting one Outcome per fingerprint on the returned
// channel. Fingerprint order is preserved only within a single file's
// processing; across files, completion order on the channel is unspecified.
func (p *Pipeline) Run(ctx context.Context, fingerprints <-chan fingerprint.Fingerprint) <-chan Outcome {
	out := make(chan Outcome)

	go func() {
		defer close(out)

		tokens := make(chan struct{}, p.concurrency)
		done := make(chan struct{}, p.concurrency)
		active := 0

		emit := func(o Outcome) {
			select {
			case out <- o:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case fp, ok := <-fingerprints:
				if !ok {
					fingerprints = nil
					if active == 0 {
						return
					}
					continue
				}
				select {
				case tokens <- struct{}{}:
				case <-ctx.Done():
					return
				}
				active++
				go func(fp fingerprint.Fingerprint) {
					defer func() {
						<-tokens
						done <- struct{}{}
					}()
					emit(p.processFile(ctx, fp))
				}(fp)
			case <-done:
				active--
				if fingerprints == nil && active == 0 {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// processFile runs a single fingerprint through parse, chunk, embed, and
// persist, honoring per-stage retry budgets and the empty-text/disallowed-
// extension skip rules.
func (p *Pipeline) processFile(ctx context.Context, fp fingerprint.Fingerprint) Outcome {
	if len(p.allowedExts) > 0 && !p.allowedExts[extOf(fp.Path)] {
		return Outcome{Path: fp.Path, Succeeded: true, SkippedEmpty: true}
	}

	totalRetries := 0

	text, retries, err := runWithRetry(ctx, parsePolicy, func() (string, error) {
		return p.parser.Parse(ctx, fp.Path)
	})
	totalRetries += retries
	if err != nil {
		return Outcome{Path: fp.Path, FailedStage: parsePolicy.name, Err: err, Retries: totalRetries}
	}

	if text == "" {
		if err := p.persister.UpsertDocument(ctx, fp.Path, fp.Hash, fp.Size, fp.ModTime, nil, nil, p.embedder.ModelID()); err != nil {
			return Outcome{Path: fp.Path, FailedStage: persistPolicy.name, Err: err, Retries: totalRetries}
		}
		return Outcome{Path: fp.Path, Succeeded: true, SkippedEmpty: true, Retries: totalRetries}
	}

	chunks, retries, err := runWithRetry(ctx, chunkPolicy, func() ([]Chunk, error) {
		return p.chunker.Chunk(text), nil
	})
	totalRetries += retries
	if err != nil {
		return Outcome{Path: fp.Path, FailedStage: chunkPolicy.name, Err: err, Retries: totalRetries}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, retries, err := runWithRetry(ctx, embedPolicy, func() ([][]float32, error) {
		return p.embedder.Embed(ctx, texts, false)
	})
	totalRetries += retries
	if err != nil {
		return Outcome{Path: fp.Path, FailedStage: embedPolicy.name, Err: err, Retries: totalRetries}
	}

	embeddingsByOrdinal := make(map[int][]float32, len(chunks))
	for i, c := range chunks {
		if i < len(vectors) {
			embeddingsByOrdinal[c.Ordinal] = vectors[i]
		}
	}

	_, retries, err = runWithRetry(ctx, persistPolicy, func() (struct{}, error) {
		return struct{}{}, p.persister.UpsertDocument(ctx, fp.Path, fp.Hash, fp.Size, fp.ModTime, chunks, embeddingsByOrdinal, p.embedder.ModelID())
	})
	totalRetries += retries
	if err != nil {
		return Outcome{Path: fp.Path, FailedStage: persistPolicy.name, Err: err, Retries: totalRetries}
	}

	return Outcome{Path: fp.Path, Succeeded: true, Retries: totalRetries}
}

// runWithRetry runs fn up to policy.maxRetries+1 times, backing off
// exponentially between attempts, and returns the number of retries (attempts
// beyond the first) consumed, along with the last error if every attempt
// fails.
func runWithRetry[T any](ctx context.Context, policy stagePolicy, fn func() (T, error)) (T, int, error) {
	var zero T
	var lastErr error

	backoff := retryBase
	for attempt := 0; attempt <= policy.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, attempt, ctx.Err()
			}
			backoff *= retryFactor
		}

		result, err := fn()
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
	}

	return zero, policy.maxRetries, errs.Wrap(errs.KindTransientIO, "STAGE_FAILED", lastErr, fmt.Sprintf("%s stage failed after %d attempts", policy.name, policy.maxRetries+1))
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' {
			break
		}
	}
	return ""
}
