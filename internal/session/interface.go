package session

import (
	"context"

	"github.com/mattjoyce/facegate/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_invoker.go -package=mocks github.com/mattjoyce/facegate/internal/session Invoker

// Invoker runs one inference request to completion. *invoke.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req protocol.Request) (protocol.Result, error)
}

// Publisher receives session lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}
