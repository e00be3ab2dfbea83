package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/synthlang/proxy/internal/openai"
)

// Event is one decoded SSE frame. Raw is the exact data payload as the
// upstream sent it, for byte-faithful forwarding; Chunk is the parsed
// view and is nil when the payload is not a chunk object.
type Event struct {
	Raw   []byte
	Chunk *openai.Chunk
}

type frame struct {
	event *Event
	err   error
}

// Stream is an in-flight streamed completion. Recv returns events until
// the upstream terminator arrives (io.EOF) or a failure ends the
// stream. Close aborts the upstream call.
type Stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	frames chan frame
	idle   time.Duration

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	finished bool
	err      error
}

// Stream opens a streamed chat completion. The configured timeout
// bounds the wait for response headers and then each chunk gap, not the
// stream's total lifetime.
func (c *Client) Stream(ctx context.Context, body []byte) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, classifyTransport(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()
		cancel()
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	s := &Stream{
		body:   resp.Body,
		cancel: cancel,
		frames: make(chan frame, 16),
		idle:   c.timeout,
		done:   make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// pump reads SSE lines off the upstream body and feeds them to Recv.
func (s *Stream) pump() {
	reader := bufio.NewReader(s.body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			payload, isData := ssePayload(line)
			switch {
			case !isData:
			case bytes.Equal(payload, doneMarker):
				s.deliver(frame{err: io.EOF})
				return
			default:
				ev := &Event{Raw: payload}
				var chunk openai.Chunk
				if json.Unmarshal(payload, &chunk) == nil {
					ev.Chunk = &chunk
				}
				if !s.deliver(frame{event: ev}) {
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				s.deliver(frame{err: &Error{Kind: KindConnection, Message: "upstream stream ended without terminator"}})
			} else {
				s.deliver(frame{err: classifyTransport(err)})
			}
			return
		}
	}
}

var doneMarker = []byte("[DONE]")

// ssePayload extracts the payload of a data: line. Comments, event
// names, and blank keep-alive lines report false.
func ssePayload(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	return bytes.TrimSpace(line[len("data:"):]), true
}

func (s *Stream) deliver(f frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.done:
		return false
	}
}

// Recv returns the next event. io.EOF signals clean termination; any
// other error ends the stream and aborts the upstream call.
func (s *Stream) Recv() (*Event, error) {
	s.mu.Lock()
	if s.finished {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	select {
	case f := <-s.frames:
		if f.err != nil {
			s.finish(f.err)
			s.Close()
			return nil, f.err
		}
		return f.event, nil
	case <-timer.C:
		err := &Error{Kind: KindTimeout, Message: "no chunk received within the idle timeout"}
		s.finish(err)
		s.Close()
		return nil, err
	}
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	if !s.finished {
		s.finished = true
		s.err = err
	}
	s.mu.Unlock()
}

// Close aborts the upstream call. Safe to call more than once and
// concurrently with Recv.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.body.Close()
		s.finish(&Error{Kind: KindConnection, Message: "stream closed"})
	})
	return nil
}
