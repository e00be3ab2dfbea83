// Package synthlang implements the symbolic prompt compression pipeline.
//
// DESIGN: Six stages, each implementing the Stage interface:
//   - Normalizer:         whitespace canonicalization (decode is identity)
//   - Abbreviator:        dictionary word substitution (decode restores)
//   - VowelStripper:      strips internal vowels from long words
//   - SymbolCompressor:   replaces phrases with symbolic glyphs
//   - LogarithmicChunker: run-length rewriting of repetitive text
//   - BinaryEncoder:      deflate + URL-safe base64, terminal stage
//
// FLOW:
//  1. A Pipeline is assembled from a preset level (low/medium/high) against
//     the stage registry snapshot.
//  2. Compress runs each stage in order. A stage whose output is longer
//     than its input no-ops for that input. A stage that fails or panics
//     degrades the pipeline: the pre-stage text is returned unchanged.
//  3. The BinaryEncoder is appended only for +gzip requests and only when
//     the post-pipeline size reaches the configured threshold.
//
// Stages are stateless after construction and safe for concurrent use.
package synthlang

import (
	"fmt"
)

// Stage is one compression step. Encode compresses, Decode restores as
// much as the stage can. Both must be total on UTF-8 text.
type Stage interface {
	Name() string
	Encode(text string) (string, error)
	Decode(text string) (string, error)
}

// Built-in stage names, usable in preset definitions and the registry.
const (
	StageNormalizer  = "normalizer"
	StageAbbreviator = "abbreviator"
	StageVowel       = "vowel_stripper"
	StageSymbol      = "symbol_compressor"
	StageChunker     = "logarithmic_chunker"
	StageBinary      = "binary_encoder"
)

// safeEncode runs a stage encode, converting panics into errors so a
// misbehaving stage degrades the pipeline instead of killing the request.
func safeEncode(s Stage, text string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Encode(text)
}

// safeDecode mirrors safeEncode for the decode direction.
func safeDecode(s Stage, text string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Decode(text)
}
