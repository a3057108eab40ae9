// Package platform defines the contract between the relay and the chat
// platform client. The relay never talks to the platform directly; it goes
// through a Messenger, and failure modes are normalized into the sentinel
// errors below so the connection manager can branch on them without knowing
// the underlying client.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuthFailed means the credential was rejected. Retrying with the same
	// credential cannot succeed; the process should exit.
	ErrAuthFailed = errors.New("platform: authentication failed")

	// ErrRateLimited means the platform asked us to slow down.
	ErrRateLimited = errors.New("platform: rate limited")

	// ErrNotFound means the target user/channel does not exist (or the bot
	// cannot see it).
	ErrNotFound = errors.New("platform: target not found")

	// ErrForbidden means the bot is not allowed to message the target.
	ErrForbidden = errors.New("platform: forbidden")

	// ErrNoText means the resolved channel cannot receive plain text.
	ErrNoText = errors.New("platform: channel does not accept text")
)

type User struct {
	ID       int64
	Username string
}

type Channel struct {
	ID    int64
	Title string
	// Textable reports whether plain text can be posted to this channel.
	Textable bool
}

// Messenger is a single chat-platform session.
//
// After Connect succeeds, all methods must be called from one goroutine only
// (the connection manager's loop); the underlying session object is not safe
// for concurrent use.
type Messenger interface {
	// Connect performs the platform handshake with the stored credential.
	Connect(ctx context.Context) error

	// Probe cheaply verifies the session is still alive.
	Probe(ctx context.Context) error

	// Close releases the session. Safe to call when not connected.
	Close()

	FetchUser(ctx context.Context, id int64) (User, error)
	FetchChannel(ctx context.Context, id int64) (Channel, error)

	SendUser(ctx context.Context, id int64, text string) error
	SendChannel(ctx context.Context, id int64, text string) error
}

// RateLimitedFor wraps ErrRateLimited with the platform's cool-down hint.
func RateLimitedFor(after time.Duration) error {
	return &rateLimitError{after: after}
}

type rateLimitError struct{ after time.Duration }

func (e *rateLimitError) Error() string {
	return ErrRateLimited.Error() + " (retry after " + e.after.String() + ")"
}

func (e *rateLimitError) Is(target error) bool { return target == ErrRateLimited }

func (e *rateLimitError) RetryAfter() time.Duration { return e.after }

// RetryAfter extracts the cool-down hint from a rate-limit error, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}
