// Package gateway - handlers.go serves the non-completion endpoints:
// the compression debug surface, cache administration, model listing,
// and liveness.
package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/synthlang/proxy/internal/config"
	"github.com/synthlang/proxy/internal/synthlang"
	"github.com/synthlang/proxy/internal/tokens"
)

// readBody reads a size-capped request body, or writes 400 and reports
// false.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, g.cfg.Server.MaxBodyBytes+1))
	if err != nil {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > g.cfg.Server.MaxBodyBytes {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation,
			fmt.Sprintf("request body exceeds %d bytes", g.cfg.Server.MaxBodyBytes))
		return nil, false
	}
	return body, true
}

// writeJSON emits a JSON response.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func validLevel(level string) bool {
	switch level {
	case config.LevelLow, config.LevelMedium, config.LevelHigh:
		return true
	}
	return false
}

// ===== COMPRESSION DEBUG SURFACE =====

type compressRequest struct {
	Text    string `json:"text"`
	Level   string `json:"level,omitempty"`
	UseGzip *bool  `json:"use_gzip,omitempty"`
	Model   string `json:"model,omitempty"`
}

type compressResponse struct {
	Output         string                  `json:"output"`
	Level          string                  `json:"level"`
	Degraded       bool                    `json:"degraded"`
	OriginalChars  int                     `json:"original_chars"`
	OutputChars    int                     `json:"output_chars"`
	OriginalTokens int                     `json:"original_tokens"`
	OutputTokens   int                     `json:"output_tokens"`
	Stages         []synthlang.StageResult `json:"stages,omitempty"`
}

func (g *Gateway) handleCompress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, r, http.StatusMethodNotAllowed, CodeValidation, "method not allowed")
		return
	}
	if g.authenticate(w, r) == nil {
		return
	}
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req compressRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation, "text is required")
		return
	}
	level := req.Level
	if level == "" {
		level = g.cfg.Pipeline.Level
	}
	if !validLevel(level) {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation,
			fmt.Sprintf("level %q is not one of low, medium, high", level))
		return
	}
	useGzip := g.cfg.Pipeline.UseGzip
	if req.UseGzip != nil {
		useGzip = *req.UseGzip
	}
	model := req.Model
	if model == "" {
		model = g.cfg.Upstream.DefaultModel
	}

	pipe, err := synthlang.NewPipeline(g.stages, level, useGzip, g.cfg.Pipeline.GzipThreshold)
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	res := pipe.Compress(req.Text)

	counter := tokens.ForModel(model)
	g.writeJSON(w, http.StatusOK, compressResponse{
		Output:         res.Output,
		Level:          level,
		Degraded:       res.Degraded,
		OriginalChars:  utf8.RuneCountInString(req.Text),
		OutputChars:    utf8.RuneCountInString(res.Output),
		OriginalTokens: counter.Count(req.Text),
		OutputTokens:   counter.Count(res.Output),
		Stages:         res.Stages,
	})
}

type decompressRequest struct {
	Text  string `json:"text"`
	Level string `json:"level,omitempty"`
}

type decompressResponse struct {
	Output   string `json:"output"`
	Degraded bool   `json:"degraded"`
}

func (g *Gateway) handleDecompress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, r, http.StatusMethodNotAllowed, CodeValidation, "method not allowed")
		return
	}
	if g.authenticate(w, r) == nil {
		return
	}
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req decompressRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation, "text is required")
		return
	}
	level := req.Level
	if level == "" {
		level = g.cfg.Pipeline.Level
	}
	if !validLevel(level) {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation,
			fmt.Sprintf("level %q is not one of low, medium, high", level))
		return
	}

	pipe, err := synthlang.NewPipeline(g.stages, level, true, g.cfg.Pipeline.GzipThreshold)
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	output, degraded := pipe.Decompress(req.Text)
	g.writeJSON(w, http.StatusOK, decompressResponse{Output: output, Degraded: degraded})
}

// ===== CACHE ADMINISTRATION =====

func (g *Gateway) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, r, http.StatusMethodNotAllowed, CodeValidation, "method not allowed")
		return
	}
	if g.requireAdmin(w, r) == nil {
		return
	}
	g.writeJSON(w, http.StatusOK, g.cache.Stats(r.URL.Query().Get("model")))
}

func (g *Gateway) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, r, http.StatusMethodNotAllowed, CodeValidation, "method not allowed")
		return
	}
	if g.requireAdmin(w, r) == nil {
		return
	}
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req struct {
		Model string `json:"model"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			g.writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
			return
		}
	}
	g.writeJSON(w, http.StatusOK, map[string]int{"cleared": g.cache.Clear(req.Model)})
}

// ===== MODELS AND LIVENESS =====

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (g *Gateway) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, r, http.StatusMethodNotAllowed, CodeValidation, "method not allowed")
		return
	}
	if g.authenticate(w, r) == nil {
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []modelEntry{{
			ID:      g.cfg.Upstream.DefaultModel,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "system",
		}},
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
