package ports

import (
	"context"
	"kickoff/internal/types"
)

// Publisher delivers a raw JSON payload to an external topic (SNS in production).
type Publisher interface {
	PublishRaw(ctx context.Context, arn string, payload []byte) error
}

// Broadcaster fans live updates out to in-process subscribers such as SSE sessions.
type Broadcaster interface {
	Broadcast(update types.LiveUpdate) int
}
