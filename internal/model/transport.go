package model

import (
	"context"

	"github.com/harunnryd/hibiki/internal/model/contract"
)

// ChunkStream yields the raw chunks of one streamed completion.
// Recv returns io.EOF after the last chunk. Close releases the underlying connection.
type ChunkStream interface {
	Recv() (contract.Chunk, error)
	Close() error
}

// Transport opens one streamed completion per turn.
type Transport interface {
	Open(ctx context.Context, req contract.CompletionRequest) (ChunkStream, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req contract.CompletionRequest) (ChunkStream, error)

func (f TransportFunc) Open(ctx context.Context, req contract.CompletionRequest) (ChunkStream, error) {
	return f(ctx, req)
}
