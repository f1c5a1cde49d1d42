package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// eventDecoder holds the per-stream accumulation state of one vendor format.
type eventDecoder interface {
	// decode consumes one event payload and returns any text to emit.
	decode(event gjson.Result) (string, error)
	// finish builds the final fragment after the stream has ended.
	finish() Response
}

// Stream is a pull iterator over the fragments of a streamed completion:
// text deltas first, then exactly one final fragment carrying tool calls,
// finish reason and usage.
//
//	for s.Next() {
//		frag := s.Current()
//	}
//	err := s.Err()
type Stream struct {
	provider string
	body     io.ReadCloser
	release  context.CancelFunc
	reader   *bufio.Reader
	dec      eventDecoder

	cur    Response
	err    error
	done   bool
	closed bool
}

func newStream(provider string, body io.ReadCloser, release context.CancelFunc, dec eventDecoder) *Stream {
	return &Stream{
		provider: provider,
		body:     body,
		release:  release,
		reader:   bufio.NewReader(body),
		dec:      dec,
	}
}

// Next advances to the next fragment.
func (s *Stream) Next() bool {
	if s.done || s.err != nil || s.closed {
		return false
	}
	for {
		line, readErr := s.reader.ReadBytes('\n')
		if data, ok := sseData(line); ok {
			if bytes.Equal(data, []byte("[DONE]")) {
				return s.end()
			}
			if gjson.ValidBytes(data) {
				text, err := s.dec.decode(gjson.ParseBytes(data))
				if err != nil {
					s.err = err
					s.Close()
					return false
				}
				if text != "" {
					s.cur = Response{Content: text}
					return true
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return s.end()
			}
			s.err = Classify(s.provider, readErr)
			s.Close()
			return false
		}
	}
}

func (s *Stream) end() bool {
	s.done = true
	s.cur = s.dec.finish()
	s.Close()
	return true
}

// Current returns the fragment produced by the last successful Next.
func (s *Stream) Current() Response { return s.cur }

// Err returns the error that stopped iteration, if any.
func (s *Stream) Err() error { return s.err }

// Close releases the response body and the request's timeout. It is safe to
// call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.body != nil {
		err = s.body.Close()
	}
	if s.release != nil {
		s.release()
	}
	return err
}

// Drain consumes the stream, passing text deltas to onText, and returns the
// assembled response.
func Drain(s *Stream, onText func(string)) (*Response, error) {
	defer s.Close()
	var (
		text  strings.Builder
		final Response
	)
	for s.Next() {
		frag := s.Current()
		if s.done {
			final = frag
			break
		}
		text.WriteString(frag.Content)
		if onText != nil {
			onText(frag.Content)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	final.Content = text.String()
	return &final, nil
}

// sseData extracts the payload of a "data:" line. Other lines are ignored.
func sseData(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r\n")
	rest, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	rest = bytes.TrimSpace(rest)
	if len(rest) == 0 {
		return nil, false
	}
	return rest, true
}

// toolCallBuilder collects the pieces of one streamed tool call.
type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
	// initial holds arguments delivered whole at block start, used only when
	// no fragments follow.
	initial string
}

func (b *toolCallBuilder) merge(id, name, fragment string) {
	if id != "" {
		b.id = id
	}
	if name != "" && b.name == "" {
		b.name = name
	}
	b.args.WriteString(fragment)
}

func (b *toolCallBuilder) build() ToolCall {
	id := b.id
	if id == "" {
		id = syntheticCallID()
	}
	args := b.args.String()
	if strings.TrimSpace(args) == "" {
		args = b.initial
	}
	return ToolCall{ID: id, Name: b.name, Arguments: SafeParseArguments(args)}
}

// toolCallSet keys builders by the vendor's index and keeps index order.
type toolCallSet struct {
	byIndex map[int64]*toolCallBuilder
}

func (s *toolCallSet) get(index int64) *toolCallBuilder {
	if s.byIndex == nil {
		s.byIndex = make(map[int64]*toolCallBuilder)
	}
	b, ok := s.byIndex[index]
	if !ok {
		b = &toolCallBuilder{}
		s.byIndex[index] = b
	}
	return b
}

func (s *toolCallSet) len() int { return len(s.byIndex) }

func (s *toolCallSet) build() []ToolCall {
	if len(s.byIndex) == 0 {
		return nil
	}
	keys := make([]int64, 0, len(s.byIndex))
	for k := range s.byIndex {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	calls := make([]ToolCall, 0, len(keys))
	for _, k := range keys {
		calls = append(calls, s.byIndex[k].build())
	}
	return calls
}

func syntheticCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func defaultFinishReason(reason string, hasCalls bool) string {
	if reason != "" {
		return reason
	}
	if hasCalls {
		return "tool_calls"
	}
	return "stop"
}
