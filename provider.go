package cascade

import "context"

// streamChunkBuffer is the capacity of channels passed to ChatStream.
const streamChunkBuffer = 100

// Provider is a chat completion backend. Implementations live in
// provider subpackages; the runtime only depends on this interface.
//
// ChatStream sends incremental content chunks on ch as they arrive and
// returns the assembled response at the end. When the first delta from
// the backend carries no content (a tool-call stream), implementations
// send one empty chunk so consumers can tell a live stream from a
// silent one; consumers must ignore empty chunks. The callee never
// closes ch; ownership stays with the caller. Implementations must
// respect ctx cancellation between chunks.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (*ChatResponse, error)
	Name() string
}
