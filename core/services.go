package core

import (
	"context"
	"time"
)

type (
	// KVStore is a key/value store with expiring entries.
	KVStore interface {
		Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
		// Get returns ok=false when the key does not exist or has expired.
		Get(ctx context.Context, key string) (value []byte, ok bool, err error)
		Delete(ctx context.Context, key string) error
	}

	// SMSSender is any service that can send text messages.
	SMSSender interface {
		Send(ctx context.Context, to, text string) error
	}

	// Notifier sends in-app notifications.
	Notifier interface {
		Notify(ctx context.Context, userID int, title, body, link string) error
	}
)
