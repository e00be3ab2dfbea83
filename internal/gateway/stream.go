// Package gateway - stream.go writes server-sent event responses.
//
// DESIGN: Three producers share the SSE framing helpers: the upstream
// proxy loop, the simulated single chunk used for cache hits and
// synthesized completions, and tool-provided chunk channels. The
// upstream loop forwards each frame as soon as it is received,
// restoring placeholders on the forwarded copy only, and accumulates
// the unrestored content for the cache insert at clean stream end. A
// client disconnect cancels the upstream call; the partial response is
// discarded and the request is audited as aborted.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/synthlang/proxy/internal/audit"
	"github.com/synthlang/proxy/internal/llm"
	"github.com/synthlang/proxy/internal/openai"
	"github.com/synthlang/proxy/internal/pii"
	"github.com/synthlang/proxy/internal/tokens"
)

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeSSE(w http.ResponseWriter, payload []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flush(w)
	return nil
}

func writeSSEDone(w http.ResponseWriter) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// streamUpstream proxies an SSE completion from the upstream to the
// client.
func (g *Gateway) streamUpstream(w http.ResponseWriter, r *http.Request, cc *chatContext, upstreamBody []byte) {
	ctx := r.Context()
	start := time.Now()

	stream, err := g.llm.Stream(ctx, upstreamBody)
	if err != nil {
		g.failUpstream(w, r, cc, err)
		return
	}
	defer stream.Close()

	setSSEHeaders(w)

	var (
		content strings.Builder // unrestored, for cache insert and audit
		usage   *openai.Usage
		frames  int
	)

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			writeSSEDone(w)
			g.metrics.LLMRequestDuration.WithLabelValues(cc.req.Model).Observe(time.Since(start).Seconds())
			g.finishStream(cc, content.String(), usage)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client went away; the upstream call is already canceled.
				g.submitAudit(cc, "", false, audit.StatusAborted, 0, 0)
				return
			}
			g.streamFailure(w, r, cc, err, frames)
			return
		}

		if frames == 0 {
			g.metrics.LLMFirstChunk.Observe(time.Since(start).Seconds())
		}
		frames++

		payload := ev.Raw
		if ev.Chunk != nil {
			for _, choice := range ev.Chunk.Choices {
				content.WriteString(choice.Delta.Content)
			}
			if ev.Chunk.Usage != nil {
				usage = ev.Chunk.Usage
			}
			if cc.red != nil {
				payload = restoreChunk(payload, cc.red)
			}
		}
		if writeSSE(w, payload) != nil {
			g.submitAudit(cc, "", false, audit.StatusAborted, 0, 0)
			return
		}
	}
}

// finishStream caches and audits a cleanly terminated stream. The
// cached body is the reassembled completion, never a partial one.
func (g *Gateway) finishStream(cc *chatContext, content string, usage *openai.Usage) {
	if cc.flags.Cache && cc.vector != nil && content != "" {
		completion := openai.NewCompletion(cc.req.Model, content)
		if data, err := json.Marshal(completion); err == nil {
			g.cache.Insert(cc.req.Model, cc.vector, cc.digest, data)
		}
	}

	var pt, rt int
	if usage != nil {
		pt, rt = usage.PromptTokens, usage.CompletionTokens
	} else {
		counter := tokens.ForModel(cc.req.Model)
		pt, rt = counter.CountMessages(cc.req.Messages), counter.Count(content)
	}
	g.submitAudit(cc, content, false, audit.StatusOK, pt, rt)
}

// streamFailure ends a broken stream: as a plain error response before
// any frame went out, as a final error frame after.
func (g *Gateway) streamFailure(w http.ResponseWriter, r *http.Request, cc *chatContext, err error, frames int) {
	var ue *llm.Error
	if errors.As(err, &ue) {
		g.alerts.FlagUpstreamError(cc.requestID, string(ue.Kind), ue.StatusCode, ue.Message)
	}

	status, code := upstreamError(err)
	if frames == 0 {
		w.Header().Del("Cache-Control")
		w.Header().Del("Connection")
		g.writeError(w, r, status, code, err.Error())
	} else {
		payload, _ := json.Marshal(errorEnvelope{Error: errorDetail{
			Type:      code,
			Message:   err.Error(),
			RequestID: cc.requestID,
		}})
		_ = writeSSE(w, payload)
	}
	g.submitAudit(cc, "", false, audit.StatusError, 0, 0)
}

// streamSingleChunk emits a completion as one simulated chunk followed
// by the terminator, the wire shape of a streamed cache hit.
func (g *Gateway) streamSingleChunk(w http.ResponseWriter, model, content string) {
	setSSEHeaders(w)
	chunk := openai.NewChunk(openai.NewCompletionID(), model,
		openai.Delta{Role: openai.RoleAssistant, Content: content}, openai.FinishStop)
	if payload, err := json.Marshal(chunk); err == nil {
		_ = writeSSE(w, payload)
	}
	writeSSEDone(w)
}

// streamToolChunks forwards a tool's chunk channel to the client.
func (g *Gateway) streamToolChunks(w http.ResponseWriter, r *http.Request, cc *chatContext, ch <-chan openai.Chunk) {
	ctx := r.Context()
	setSSEHeaders(w)

	var content strings.Builder
	for {
		select {
		case <-ctx.Done():
			g.submitAudit(cc, "", false, audit.StatusAborted, 0, 0)
			return
		case chunk, ok := <-ch:
			if !ok {
				writeSSEDone(w)
				counter := tokens.ForModel(cc.req.Model)
				g.submitAudit(cc, content.String(), false, audit.StatusOK,
					counter.CountMessages(cc.req.Messages), counter.Count(content.String()))
				return
			}
			for _, choice := range chunk.Choices {
				content.WriteString(choice.Delta.Content)
			}
			payload, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			if writeSSE(w, payload) != nil {
				g.submitAudit(cc, "", false, audit.StatusAborted, 0, 0)
				return
			}
		}
	}
}

// restoreChunk rewrites delta content with placeholders restored. A
// placeholder split across two chunks is left as transmitted.
func restoreChunk(payload []byte, red *pii.Redactor) []byte {
	if red.Count() == 0 {
		return payload
	}
	out := payload
	gjson.GetBytes(payload, "choices").ForEach(func(idx, choice gjson.Result) bool {
		content := choice.Get("delta.content")
		if !content.Exists() || content.String() == "" {
			return true
		}
		restored := red.Restore(content.String())
		if restored != content.String() {
			out, _ = sjson.SetBytes(out, "choices."+idx.String()+".delta.content", restored)
		}
		return true
	})
	return out
}
