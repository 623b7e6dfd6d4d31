package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownOrder  = errors.New("fill references unknown order")
	ErrDuplicateFill = errors.New("fill already processed")
	ErrPositionOpen  = errors.New("position already open for symbol")
	ErrNoPosition    = errors.New("no open position for symbol")
	ErrStaleSymbol   = errors.New("price history stale for symbol")
	ErrNotConnected  = errors.New("broker not connected")
	ErrInvalidOrder  = errors.New("invalid order parameters")
)
