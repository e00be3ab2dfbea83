package synthlang

import (
	"fmt"
	"unicode/utf8"
)

// PresetStageNames returns the stage sequence for a compression level.
func PresetStageNames(level string) []string {
	switch level {
	case "low":
		return []string{StageNormalizer, StageAbbreviator}
	case "high":
		return []string{StageNormalizer, StageAbbreviator, StageVowel, StageSymbol, StageChunker}
	default: // medium
		return []string{StageNormalizer, StageAbbreviator, StageVowel, StageSymbol}
	}
}

// StageResult records one stage's effect on the text.
type StageResult struct {
	Name     string `json:"name"`
	InChars  int    `json:"in_chars"`
	OutChars int    `json:"out_chars"`
	Skipped  bool   `json:"skipped,omitempty"` // output grew, stage no-opped
}

// Result is the outcome of a pipeline run.
type Result struct {
	Output   string        `json:"output"`
	Degraded bool          `json:"degraded"`
	Stages   []StageResult `json:"stages,omitempty"`
	Err      error         `json:"-"` // set when Degraded, for logging
}

// Pipeline is an ordered stage sequence with an optional terminal
// BinaryEncoder. Safe for concurrent use.
type Pipeline struct {
	stages        []Stage
	binary        Stage
	useGzip       bool
	gzipThreshold int
}

// NewPipeline assembles a pipeline for the given level against the
// registry snapshot. When useGzip is set, the BinaryEncoder terminates
// the pipeline for texts at or past gzipThreshold characters.
func NewPipeline(reg *Registry, level string, useGzip bool, gzipThreshold int) (*Pipeline, error) {
	stages, err := reg.resolve(PresetStageNames(level))
	if err != nil {
		return nil, fmt.Errorf("assembling %s pipeline: %w", level, err)
	}
	binary, ok := reg.Get(StageBinary)
	if !ok {
		return nil, fmt.Errorf("assembling %s pipeline: %w", level, fmt.Errorf("unknown stage %q", StageBinary))
	}
	return &Pipeline{
		stages:        stages,
		binary:        binary,
		useGzip:       useGzip,
		gzipThreshold: gzipThreshold,
	}, nil
}

// Compress runs the stages in order. Per-stage rules:
//   - output longer than input → the stage no-ops for this text
//   - error or panic → the pre-stage text is returned with Degraded set
//
// The BinaryEncoder runs last, only for +gzip pipelines whose text still
// meets the size threshold.
func (p *Pipeline) Compress(text string) Result {
	res := Result{Output: text}
	current := text

	for _, s := range p.stages {
		out, err := safeEncode(s, current)
		if err != nil {
			res.Output = current
			res.Degraded = true
			res.Err = err
			return res
		}
		sr := StageResult{
			Name:     s.Name(),
			InChars:  utf8.RuneCountInString(current),
			OutChars: utf8.RuneCountInString(out),
		}
		if sr.OutChars > sr.InChars {
			sr.Skipped = true
			sr.OutChars = sr.InChars
			out = current
		}
		res.Stages = append(res.Stages, sr)
		current = out
	}

	if p.useGzip && utf8.RuneCountInString(current) >= p.gzipThreshold {
		out, err := safeEncode(p.binary, current)
		if err != nil {
			res.Output = current
			res.Degraded = true
			res.Err = err
			return res
		}
		sr := StageResult{
			Name:     p.binary.Name(),
			InChars:  utf8.RuneCountInString(current),
			OutChars: utf8.RuneCountInString(out),
		}
		if sr.OutChars > sr.InChars {
			sr.Skipped = true
			sr.OutChars = sr.InChars
			out = current
		}
		res.Stages = append(res.Stages, sr)
		current = out
	}

	res.Output = current
	return res
}

// Decompress reverses the pipeline as far as its stages allow: the
// BinaryEncoder decode runs first (it passes through non-encoded text),
// then each stage decodes in reverse order. A failing stage leaves the
// text as-is and reports degradation.
func (p *Pipeline) Decompress(text string) (string, bool) {
	current := text

	if out, err := safeDecode(p.binary, current); err == nil {
		current = out
	} else {
		return current, true
	}

	for i := len(p.stages) - 1; i >= 0; i-- {
		out, err := safeDecode(p.stages[i], current)
		if err != nil {
			return current, true
		}
		current = out
	}
	return current, false
}
