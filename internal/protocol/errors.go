package protocol

import "errors"

var (
	ErrUnknownKind    = errors.New("protocol: unknown message kind")
	ErrInvalidTarget  = errors.New("protocol: invalid target")
	ErrMissingSource  = errors.New("protocol: missing source")
	ErrKindMismatch   = errors.New("protocol: header type and kind field disagree")
	ErrMalformedFrame = errors.New("protocol: malformed frame")
)
