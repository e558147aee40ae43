package services

import "errors"

var (
	// ErrInvalid wraps request validation failures.
	ErrInvalid = errors.New("invalid request")

	// ErrForbidden is returned when a participant acts on a conversation or
	// message that is not theirs.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited is returned when a sender exceeds the send rate.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrMediaUnavailable is returned for attachments when no object store
	// is configured.
	ErrMediaUnavailable = errors.New("media storage is not configured")

	// ErrSessionClosed is returned by operations on a closed chat session.
	ErrSessionClosed = errors.New("chat session closed")
)
