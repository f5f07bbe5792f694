package core

import "context"

// Notifier is an interface to receive record change notifications
type Notifier interface {
	Notify(ctx context.Context, collection string, operation Operation, payload []byte) error
}
