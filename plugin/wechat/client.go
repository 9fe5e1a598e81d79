package wechat

import (
	"context"
)

// Client defines the primitives consumed from the automation driver.
type Client interface {
	// MyInfo returns the logged-in account.
	MyInfo(ctx context.Context) (*Identity, error)

	// FetchNextMessage blocks until the driver reports the next unseen batch.
	// An empty batch is a legitimate result.
	FetchNextMessage(ctx context.Context, muteFiltered bool) (*Batch, error)

	// OpenConversation switches the client window to the named conversation.
	OpenConversation(ctx context.Context, name string) (bool, error)

	// LoadMoreHistory scrolls the open conversation back by one page.
	LoadMoreHistory(ctx context.Context) (*LoadResult, error)

	// FetchAllMessages returns every message rendered in the open conversation.
	FetchAllMessages(ctx context.Context) ([]*Message, error)

	// SendReply answers a specific message in its conversation.
	SendReply(ctx context.Context, msg *Message, text string) (bool, error)

	// Send sends text to the named conversation.
	Send(ctx context.Context, name, text string) (bool, error)

	// Close releases the client.
	Close() error
}

// Connector constructs a client. It is called on every connect and reconnect.
type Connector func(ctx context.Context) (Client, error)

// Errors
var (
	ErrNotConnected   = &BridgeError{Code: "NOT_CONNECTED", Message: "chat client is not logged in"}
	ErrUnreachable    = &BridgeError{Code: "UNREACHABLE", Message: "automation bridge not reachable"}
	ErrInvalidPayload = &BridgeError{Code: "INVALID_PAYLOAD", Message: "could not parse bridge response"}
	ErrUnauthorized   = &BridgeError{Code: "UNAUTHORIZED", Message: "bridge rejected api key"}
)

// BridgeError represents an error returned by the automation bridge.
type BridgeError struct {
	Code    string
	Message string
	Err     error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Is matches on Code so wrapped copies compare equal to the sentinels.
func (e *BridgeError) Is(target error) bool {
	t, ok := target.(*BridgeError)
	return ok && t.Code == e.Code
}

// IsRetryable returns true if the error is transient and the operation can be retried.
func (e *BridgeError) IsRetryable() bool {
	switch e.Code {
	case "UNAUTHORIZED", "INVALID_PAYLOAD":
		return false
	default:
		return true
	}
}

func wrapErr(base *BridgeError, err error) *BridgeError {
	return &BridgeError{Code: base.Code, Message: base.Message, Err: err}
}
