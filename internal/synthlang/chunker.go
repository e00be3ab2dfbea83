package synthlang

import (
	"fmt"
	"strings"
)

const defaultChunkWords = 16

// LogarithmicChunker rewrites repetition with run-length prefixes at two
// granularities: runs of an identical word become "N×word", and runs of
// an identical chunk (a fixed-size word window) become "N×⟦chunk⟧".
// Whitespace inside the text collapses to single spaces; the stage is
// meant to run after the Normalizer.
type LogarithmicChunker struct {
	chunkWords int
}

// NewLogarithmicChunker uses the default 16-word chunk window.
func NewLogarithmicChunker() *LogarithmicChunker {
	return &LogarithmicChunker{chunkWords: defaultChunkWords}
}

// NewLogarithmicChunkerSize overrides the chunk window size.
func NewLogarithmicChunkerSize(words int) *LogarithmicChunker {
	if words < 2 {
		words = 2
	}
	return &LogarithmicChunker{chunkWords: words}
}

func (c *LogarithmicChunker) Name() string { return StageChunker }

func (c *LogarithmicChunker) Encode(text string) (string, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text, nil
	}

	words = collapseWordRuns(words)
	chunks := c.chunk(words)
	chunks = collapseChunkRuns(chunks)

	return strings.Join(chunks, " "), nil
}

// Decode is identity: run-length prefixes are left for the consumer.
func (c *LogarithmicChunker) Decode(text string) (string, error) {
	return text, nil
}

// collapseWordRuns rewrites runs of the same word as "N×word" when the
// rewrite is shorter than the run it replaces.
func collapseWordRuns(words []string) []string {
	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		j := i
		for j < len(words) && words[j] == words[i] {
			j++
		}
		run := j - i
		if run >= 2 {
			rle := fmt.Sprintf("%d×%s", run, words[i])
			plain := run*len(words[i]) + run - 1
			if len(rle) < plain {
				out = append(out, rle)
				i = j
				continue
			}
		}
		for ; i < j; i++ {
			out = append(out, words[i])
		}
	}
	return out
}

// chunk groups words into windows of chunkWords joined by spaces.
func (c *LogarithmicChunker) chunk(words []string) []string {
	var chunks []string
	for i := 0; i < len(words); i += c.chunkWords {
		end := i + c.chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// collapseChunkRuns rewrites runs of an identical chunk as "N×⟦chunk⟧".
func collapseChunkRuns(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for i := 0; i < len(chunks); {
		j := i
		for j < len(chunks) && chunks[j] == chunks[i] {
			j++
		}
		run := j - i
		if run >= 2 {
			out = append(out, fmt.Sprintf("%d×⟦%s⟧", run, chunks[i]))
		} else {
			out = append(out, chunks[i])
		}
		i = j
	}
	return out
}
