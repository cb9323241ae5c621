package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/harunnryd/hibiki/internal/model/contract"

	"gopkg.in/yaml.v3"
)

// Script is a recorded exchange: each turn is the chunk sequence returned by one Open.
//
//	turns:
//	  - chunks:
//	      - tool_calls: [{name: get_weather, arguments: '{"city":"NYC"}'}]
//	      - finish_reason: tool_calls
//	  - chunks:
//	      - content: "72F and sunny."
//	      - finish_reason: stop
type Script struct {
	Turns []Turn `yaml:"turns"`
}

// Turn is one streamed completion. A non-empty Error is returned by Recv after the chunks run out
// instead of io.EOF.
type Turn struct {
	Chunks []contract.Chunk `yaml:"chunks"`
	Error  string           `yaml:"error,omitempty"`
}

func Parse(data []byte) (Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return Script{}, fmt.Errorf("parse replay script: %w", err)
	}
	if len(script.Turns) == 0 {
		return Script{}, fmt.Errorf("parse replay script: no turns")
	}
	return script, nil
}

func Load(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read replay script: %w", err)
	}
	return Parse(data)
}

// Provider serves scripted turns in order. Once the script is exhausted Open fails.
type Provider struct {
	mu       sync.Mutex
	script   Script
	next     int
	requests []contract.CompletionRequest
}

func New(script Script) *Provider {
	return &Provider{script: script}
}

func (p *Provider) Name() string {
	return "replay"
}

func (p *Provider) Open(ctx context.Context, req contract.CompletionRequest) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.next >= len(p.script.Turns) {
		return nil, fmt.Errorf("replay script exhausted after %d turns", len(p.script.Turns))
	}
	turn := p.script.Turns[p.next]
	p.next++
	p.requests = append(p.requests, req)

	return &Stream{ctx: ctx, turn: turn}, nil
}

// Requests returns the requests seen so far.
func (p *Provider) Requests() []contract.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]contract.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Rewind restarts the script from the first turn.
func (p *Provider) Rewind() {
	p.mu.Lock()
	p.next = 0
	p.mu.Unlock()
}

type Stream struct {
	ctx  context.Context
	turn Turn
	pos  int
}

func (s *Stream) Recv() (contract.Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return contract.Chunk{}, err
	}
	if s.pos >= len(s.turn.Chunks) {
		if s.turn.Error != "" {
			return contract.Chunk{}, fmt.Errorf("replay: %s", s.turn.Error)
		}
		return contract.Chunk{}, io.EOF
	}
	chunk := s.turn.Chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *Stream) Close() error {
	return nil
}
