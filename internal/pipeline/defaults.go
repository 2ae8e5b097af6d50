package pipeline

import (
	"context"
	"os"

	"github.com/okets/folder-mcp/internal/errs"
)

// MaxParseSize bounds how many bytes PlainTextParser will read from a single
// file, preventing one oversized file from exhausting memory during a scan.
const MaxParseSize = 32 * 1024 * 1024

// PlainTextParser extracts text by reading a file's contents verbatim,
// decoded as UTF-8. Format-specific extraction (PDF, Word, spreadsheets) is
// out of scope; this is the fallback every folder gets for its plain-text
// and markdown files.
type PlainTextParser struct{}

// Parse implements Parser.
func (PlainTextParser) Parse(ctx context.Context, absolutePath string) (string, error) {
	info, err := os.Stat(absolutePath)
	if err != nil {
		return "", errs.Wrap(errs.KindTransientIO, "PARSE_STAT_FAILED", err, "unable to stat file for parsing")
	}
	if info.Size() > MaxParseSize {
		return "", errs.New(errs.KindTransientIO, "PARSE_FILE_TOO_LARGE", "file exceeds the maximum parse size")
	}

	data, err := os.ReadFile(absolutePath)
	if err != nil {
		return "", errs.Wrap(errs.KindTransientIO, "PARSE_READ_FAILED", err, "unable to read file for parsing")
	}

	return string(data), nil
}

// FixedSizeChunker segments text into overlapping windows of approximately
// Size runes, breaking on whitespace where possible so words aren't split
// across chunk boundaries (spec §6's processing.chunkSize/.overlap knobs).
type FixedSizeChunker struct {
	Size    int
	Overlap int
}

// Chunk implements Chunker.
func (c FixedSizeChunker) Chunk(text string) []Chunk {
	if text == "" {
		return nil
	}

	size := c.Size
	if size <= 0 {
		size = 500
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var chunks []Chunk
	ordinal := 0
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		} else {
			end = extendToWordBoundary(runes, end)
		}

		chunks = append(chunks, Chunk{
			Ordinal:       ordinal,
			Text:          string(runes[start:end]),
			TokenEstimate: end - start,
		})
		ordinal++

		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// extendToWordBoundary advances idx forward to the next whitespace rune (up
// to a small lookahead) so a chunk boundary doesn't split a word.
func extendToWordBoundary(runes []rune, idx int) int {
	const maxLookahead = 32
	for i := 0; i < maxLookahead && idx+i < len(runes); i++ {
		if runes[idx+i] == ' ' || runes[idx+i] == '\n' || runes[idx+i] == '\t' {
			return idx + i
		}
	}
	return idx
}
