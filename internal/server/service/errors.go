package service

import "errors"

var (
	// ErrClientClosed is returned when sending to a closed client
	ErrClientClosed = errors.New("client connection is closed")

	// ErrNotConnected is returned when exporting before the tunnel is up
	ErrNotConnected = errors.New("tunnel not connected")

	// ErrNoExchangeKey is returned when connection info exchange is
	// requested but no key is configured
	ErrNoExchangeKey = errors.New("no exchange key configured")

	// ErrInvalidExchangeKey is returned for a key that is not 32 bytes of
	// base64
	ErrInvalidExchangeKey = errors.New("exchange key must be 32 bytes, base64 encoded")

	// ErrInvalidExchange is returned when an imported payload cannot be
	// opened
	ErrInvalidExchange = errors.New("invalid exchange payload")
)
