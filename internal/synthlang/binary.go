package synthlang

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"fmt"
	"io"
)

// BinaryEncoder deflates the text and emits URL-safe base64. It is the
// terminal stage: nothing may run after it. Decode reverses when the
// input round-trips as base64 deflate, and passes anything else through
// untouched so decoding plain text is harmless.
type BinaryEncoder struct{}

func NewBinaryEncoder() *BinaryEncoder { return &BinaryEncoder{} }

func (b *BinaryEncoder) Name() string { return StageBinary }

func (b *BinaryEncoder) Encode(text string) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("deflate init: %w", err)
	}
	if _, err := w.Write([]byte(text)); err != nil {
		return "", fmt.Errorf("deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("deflate close: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

func (b *BinaryEncoder) Decode(text string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(text)
	if err != nil {
		return text, nil
	}
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()

	decoded, err := io.ReadAll(r)
	if err != nil {
		return text, nil
	}
	return string(decoded), nil
}
