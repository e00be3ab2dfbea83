// Package gateway - flags.go resolves the per-request feature flags.
//
// DESIGN: Three layers, strongest last: environment defaults, header
// overrides, body overrides. Body fields are pointers so only fields
// the client actually sent take effect. disable_keyword_detection is
// one-way: it can switch detection off for a request but never switch
// it on past a disabled deployment.
package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/synthlang/proxy/internal/openai"
)

// Flags is the effective feature configuration for one request.
type Flags struct {
	UseSynthLang  bool
	UseGzip       bool
	Level         string
	Cache         bool
	Keywords      bool
	MaskBeforeLLM bool
	MaskInLogs    bool
}

// resolveFlags layers header and body overrides over the environment
// defaults.
func (g *Gateway) resolveFlags(r *http.Request, req *openai.ChatRequest) Flags {
	f := Flags{
		UseSynthLang:  g.cfg.Pipeline.Enabled,
		UseGzip:       g.cfg.Pipeline.UseGzip,
		Level:         g.cfg.Pipeline.Level,
		Cache:         g.cfg.Cache.Enabled,
		Keywords:      g.cfg.Keywords.Enabled,
		MaskBeforeLLM: g.cfg.PII.MaskBeforeLLM,
		MaskInLogs:    g.cfg.PII.MaskInLogs,
	}

	if v, ok := boolHeader(r, HeaderMaskPIIBeforeLLM); ok {
		f.MaskBeforeLLM = v
	}
	if v, ok := boolHeader(r, HeaderMaskPIIInLogs); ok {
		f.MaskInLogs = v
	}

	if req.UseSynthLang != nil {
		f.UseSynthLang = *req.UseSynthLang
	}
	if req.UseGzip != nil {
		f.UseGzip = *req.UseGzip
	}
	if req.CompressionLevel != "" {
		f.Level = req.CompressionLevel
	}
	if req.Cache != nil {
		f.Cache = *req.Cache
	}
	if req.DisableKeywords != nil && *req.DisableKeywords {
		f.Keywords = false
	}

	return f
}

// boolHeader parses an optional boolean header. Unset or malformed
// values report ok=false and leave the default in place.
func boolHeader(r *http.Request, name string) (value, ok bool) {
	raw := strings.TrimSpace(r.Header.Get(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
