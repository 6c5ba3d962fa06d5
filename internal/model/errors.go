package model

import "errors"

// Configuration-shape errors fail the requesting call immediately.
var (
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")
	ErrUnknownTimeframe     = errors.New("unknown timeframe")
)

// Runtime fetch errors are absorbed by the worker retry loop.
var (
	// ErrTransient covers network failures, 5xx/429 answers and EService errors.
	ErrTransient = errors.New("transient market data error")
	// ErrMalformedResponse covers undecodable bodies and missing fields.
	ErrMalformedResponse = errors.New("malformed market data response")
)
