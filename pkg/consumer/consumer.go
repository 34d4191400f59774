package consumer

import (
	"context"
	"wikistream/pkg/models"
)

type Consumer interface {
	Connect(ctx context.Context) (MessageStream, error)
}

// MessageStream is a one-shot sequence of server-sent events. Once Next
// returns false the stream is finished and Err reports why; a clean end of
// stream leaves Err nil.
type MessageStream interface {
	Next() bool
	Message() models.RawMessage
	Err() error
	Close() error
}
