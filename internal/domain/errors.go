package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrSubscribeFailed = errors.New("subscribe failed")
	ErrMalformedRecord = errors.New("malformed record")
	ErrInvalidKey      = errors.New("invalid subscription key")
	ErrKeyTooLong      = errors.New("stream key exceeds 32 bytes")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrRateLimited     = errors.New("rate limited")
)
