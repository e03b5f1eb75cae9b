package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	FixedHeaderLen = 32

	// Magic spells "LIFT".
	Magic   uint32 = 0x4C494654
	Version uint16 = 1

	// MaxPayload keeps a whole frame inside one UDP datagram.
	MaxPayload = 1024
)

var (
	ErrShortHeader     = errors.New("frame: short fixed header")
	ErrHeaderLen       = errors.New("frame: header_len does not match fixed header")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrShortPayload    = errors.New("frame: datagram shorter than payload_len")
	ErrTrailingBytes   = errors.New("frame: trailing bytes after payload")
	ErrBadMagic        = errors.New("frame: bad magic")
	ErrBadVersion      = errors.New("frame: unsupported version")
)

// Header is the fixed wire header. Flags is reserved and written as zero.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one datagram: header followed by payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// Encode stamps magic, version and lengths and returns the datagram bytes.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.Flags = 0
	h.PayloadLen = uint64(len(f.Payload))

	buf := make([]byte, 0, FixedHeaderLen+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	return append(buf, f.Payload...), nil
}

// Decode parses exactly one datagram. A datagram is never split or
// concatenated, so any length mismatch is an error.
func Decode(b []byte) (Frame, error) {
	if len(b) < FixedHeaderLen {
		return Frame{}, ErrShortHeader
	}
	h, err := DecodeHeader(b[:FixedHeaderLen])
	if err != nil {
		return Frame{}, err
	}
	switch {
	case h.Magic != Magic:
		return Frame{}, ErrBadMagic
	case h.Version != Version:
		return Frame{}, ErrBadVersion
	case h.HeaderLen != FixedHeaderLen:
		return Frame{}, fmt.Errorf("%w: %d", ErrHeaderLen, h.HeaderLen)
	case h.PayloadLen > MaxPayload:
		return Frame{}, ErrPayloadTooLarge
	}

	rest := b[FixedHeaderLen:]
	if uint64(len(rest)) < h.PayloadLen {
		return Frame{}, ErrShortPayload
	}
	if uint64(len(rest)) > h.PayloadLen {
		return Frame{}, ErrTrailingBytes
	}
	payload := make([]byte, len(rest))
	copy(payload, rest)
	return Frame{Header: h, Payload: payload}, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

// DecodeHeader parses the fixed header without checking its values.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != FixedHeaderLen {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
