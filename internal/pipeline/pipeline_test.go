package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okets/folder-mcp/internal/fingerprint"
)

type fakeParser struct {
	textFor map[string]string
	errFor  map[string]int // path -> number of failures before success
	calls   map[string]int
	mu      sync.Mutex
}

func (p *fakeParser) Parse(ctx context.Context, path string) (string, error) {
	p.mu.Lock()
	p.calls[path]++
	calls := p.calls[path]
	p.mu.Unlock()

	if fails, ok := p.errFor[path]; ok && calls <= fails {
		return "", errors.New("parse failed")
	}
	return p.textFor[path], nil
}

type fakeChunker struct{}

func (fakeChunker) Chunk(text string) []Chunk {
	if text == "" {
		return nil
	}
	return []Chunk{{Ordinal: 0, Text: text, TokenEstimate: len(text)}}
}

type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, immediate bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}
func (f *fakeEmbedder) Dimension() int  { return f.dim }
func (f *fakeEmbedder) ModelID() string { return "fake-model" }

type fakePersister struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePersister) UpsertDocument(ctx context.Context, path, hash string, size int64, modTime int64, chunks []Chunk, embeddingsByOrdinal map[int][]float32, modelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, path)
	return nil
}

func fingerprints(paths ...string) <-chan fingerprint.Fingerprint {
	ch := make(chan fingerprint.Fingerprint, len(paths))
	for _, p := range paths {
		ch <- fingerprint.Fingerprint{Path: p, Hash: "h-" + p}
	}
	close(ch)
	return ch
}

func TestPipelineSucceeds(t *testing.T) {
	parser := &fakeParser{textFor: map[string]string{"a.md": "hello"}, errFor: map[string]int{}, calls: map[string]int{}}
	persister := &fakePersister{}
	p := New(Config{
		Parser:    parser,
		Chunker:   fakeChunker{},
		Embedder:  &fakeEmbedder{dim: 4},
		Persister: persister,
	})

	outcomes := collectOutcomes(t, p, fingerprints("a.md"))
	if len(outcomes) != 1 || !outcomes[0].Succeeded {
		t.Fatalf("expected a single successful outcome, got %+v", outcomes)
	}
	if len(persister.calls) != 1 {
		t.Fatalf("expected persist to be called once, got %v", persister.calls)
	}
}

func TestPipelineSkipsDisallowedExtension(t *testing.T) {
	parser := &fakeParser{textFor: map[string]string{}, errFor: map[string]int{}, calls: map[string]int{}}
	persister := &fakePersister{}
	p := New(Config{
		Parser:      parser,
		Chunker:     fakeChunker{},
		Embedder:    &fakeEmbedder{dim: 4},
		Persister:   persister,
		AllowedExts: []string{".md"},
	})

	outcomes := collectOutcomes(t, p, fingerprints("a.bin"))
	if len(outcomes) != 1 || !outcomes[0].SkippedEmpty {
		t.Fatalf("expected a skip outcome for disallowed extension, got %+v", outcomes)
	}
	if parser.calls["a.bin"] != 0 {
		t.Error("expected parse to never run for a disallowed extension")
	}
}

func TestPipelineEmptyTextYieldsSuccessfulSkip(t *testing.T) {
	parser := &fakeParser{textFor: map[string]string{"empty.md": ""}, errFor: map[string]int{}, calls: map[string]int{}}
	persister := &fakePersister{}
	p := New(Config{
		Parser:    parser,
		Chunker:   fakeChunker{},
		Embedder:  &fakeEmbedder{dim: 4},
		Persister: persister,
	})

	outcomes := collectOutcomes(t, p, fingerprints("empty.md"))
	if len(outcomes) != 1 || !outcomes[0].Succeeded || !outcomes[0].SkippedEmpty {
		t.Fatalf("expected empty text to succeed as a skip, got %+v", outcomes)
	}
}

func TestPipelineRetriesParseStage(t *testing.T) {
	parser := &fakeParser{
		textFor: map[string]string{"a.md": "hello"},
		errFor:  map[string]int{"a.md": 1}, // fails once, succeeds on retry
		calls:   map[string]int{},
	}
	persister := &fakePersister{}
	p := New(Config{
		Parser:    parser,
		Chunker:   fakeChunker{},
		Embedder:  &fakeEmbedder{dim: 4},
		Persister: persister,
	})

	outcomes := collectOutcomes(t, p, fingerprints("a.md"))
	if len(outcomes) != 1 || !outcomes[0].Succeeded {
		t.Fatalf("expected the pipeline to succeed after one retry, got %+v", outcomes)
	}
	if parser.calls["a.md"] != 2 {
		t.Errorf("expected exactly one retry (2 calls), got %d", parser.calls["a.md"])
	}
	if outcomes[0].Retries != 1 {
		t.Errorf("expected Outcome.Retries to report the single parse retry, got %d", outcomes[0].Retries)
	}
}

type flakyEmbedder struct {
	dim          int
	failuresLeft int
	mu           sync.Mutex
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string, immediate bool) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("embed failed")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}
func (f *flakyEmbedder) Dimension() int  { return f.dim }
func (f *flakyEmbedder) ModelID() string { return "fake-model" }

// TestPipelineReportsRetriesAfterEmbedRecovers reproduces the scenario of the
// embed stage failing three times before succeeding: the outcome must still
// report success along with the number of retries consumed, so callers can
// record it against the task that triggered this file's processing.
func TestPipelineReportsRetriesAfterEmbedRecovers(t *testing.T) {
	parser := &fakeParser{textFor: map[string]string{"a.md": "hello"}, errFor: map[string]int{}, calls: map[string]int{}}
	persister := &fakePersister{}
	p := New(Config{
		Parser:    parser,
		Chunker:   fakeChunker{},
		Embedder:  &flakyEmbedder{dim: 4, failuresLeft: 3},
		Persister: persister,
	})

	outcomes := collectOutcomes(t, p, fingerprints("a.md"))
	if len(outcomes) != 1 || !outcomes[0].Succeeded {
		t.Fatalf("expected the pipeline to succeed after the embed stage recovers, got %+v", outcomes)
	}
	if outcomes[0].Retries != 3 {
		t.Errorf("expected Outcome.Retries == 3, got %d", outcomes[0].Retries)
	}
}

func TestPipelineFailsAfterExhaustingRetries(t *testing.T) {
	parser := &fakeParser{
		textFor: map[string]string{"a.md": "hello"},
		errFor:  map[string]int{"a.md": 99},
		calls:   map[string]int{},
	}
	persister := &fakePersister{}
	p := New(Config{
		Parser:    parser,
		Chunker:   fakeChunker{},
		Embedder:  &fakeEmbedder{dim: 4},
		Persister: persister,
	})

	outcomes := collectOutcomes(t, p, fingerprints("a.md"))
	if len(outcomes) != 1 || outcomes[0].Succeeded || outcomes[0].FailedStage != "parse" {
		t.Fatalf("expected a failed parse outcome, got %+v", outcomes)
	}
}

func collectOutcomes(t *testing.T, p *Pipeline, fps <-chan fingerprint.Fingerprint) []Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var outcomes []Outcome
	for o := range p.Run(ctx, fps) {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func TestExtOf(t *testing.T) {
	cases := map[string]string{
		"a.md":            ".md",
		"dir/a.txt":       ".txt",
		"dir.with.dots/a": "",
		"noext":           "",
	}
	for path, want := range cases {
		if got := extOf(path); got != want {
			t.Errorf("extOf(%q) = %q, want %q", path, got, want)
		}
	}
}
