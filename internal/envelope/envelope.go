// Package envelope implements the binary frame stored in a stream entry.
//
// A frame carries string headers followed by the opaque body, so consumers can
// read a header (such as the message uuid) straight from the raw entry bytes
// without touching the body.
package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Field is the stream entry field that holds the encoded frame.
const Field = "__data__"

// Version is the only frame version understood by this package.
const Version uint16 = 1

var magic = []byte{0x89, 'T', 'S', 'K', '\r', '\n', 0x1a, '\n'}

// prefix = magic + version + header block length
const prefixLen = 8 + 2 + 4

var (
	// ErrInvalidFrame is returned for input that is not an envelope frame.
	ErrInvalidFrame = errors.New("envelope: invalid frame")
	// ErrUnsupportedVersion is returned for frames written by a newer encoder.
	ErrUnsupportedVersion = errors.New("envelope: unsupported version")
	// ErrTruncated is returned when the frame ends inside the header block.
	ErrTruncated = errors.New("envelope: truncated frame")
	// ErrHeadersTooLarge is returned by CheckHeaders for headers the frame cannot hold.
	ErrHeadersTooLarge = errors.New("envelope: headers exceed frame limits")
)

// CheckHeaders reports whether headers fit in a frame: at most 65535 headers,
// keys of at most 65535 bytes and a header block below 4 GiB.
func CheckHeaders(headers map[string]string) error {
	if len(headers) > math.MaxUint16 {
		return fmt.Errorf("%w: %d headers", ErrHeadersTooLarge, len(headers))
	}
	size := uint64(2)
	for k, v := range headers {
		if len(k) > math.MaxUint16 {
			return fmt.Errorf("%w: key of %d bytes", ErrHeadersTooLarge, len(k))
		}
		size += 2 + uint64(len(k)) + 4 + uint64(len(v))
	}
	if size > math.MaxUint32 {
		return fmt.Errorf("%w: header block of %d bytes", ErrHeadersTooLarge, size)
	}
	return nil
}

// Message is a decoded frame.
type Message struct {
	Headers map[string]string
	Body    []byte
}

// Encode builds a frame. Header order is sorted so equal inputs give equal bytes.
// Headers must pass CheckHeaders; larger ones produce a frame Decode rejects.
func Encode(headers map[string]string, body []byte) []byte {
	names := make([]string, 0, len(headers))
	hdrSize := 2
	for k, v := range headers {
		names = append(names, k)
		hdrSize += 2 + len(k) + 4 + len(v)
	}
	sort.Strings(names)

	out := make([]byte, 0, prefixLen+hdrSize+len(body))
	out = append(out, magic...)
	out = binary.BigEndian.AppendUint16(out, Version)
	out = binary.BigEndian.AppendUint32(out, uint32(hdrSize))
	out = binary.BigEndian.AppendUint16(out, uint16(len(names)))
	for _, k := range names {
		v := headers[k]
		out = binary.BigEndian.AppendUint16(out, uint16(len(k)))
		out = append(out, k...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(v)))
		out = append(out, v...)
	}
	return append(out, body...)
}

// Decode parses a full frame.
func Decode(raw []byte) (Message, error) {
	block, body, err := split(raw)
	if err != nil {
		return Message{}, err
	}
	hdrs := make(map[string]string)
	err = walk(block, func(k, v []byte) bool {
		hdrs[string(k)] = string(v)
		return true
	})
	if err != nil {
		return Message{}, err
	}
	b := make([]byte, len(body))
	copy(b, body)
	return Message{Headers: hdrs, Body: b}, nil
}

// PeekHeaders returns the raw header values without reading the body.
func PeekHeaders(raw []byte) (map[string][]byte, error) {
	block, _, err := split(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	err = walk(block, func(k, v []byte) bool {
		out[string(k)] = append([]byte(nil), v...)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PeekHeader returns the raw value of one header. The bool is false when the
// header is absent.
func PeekHeader(raw []byte, key string) ([]byte, bool, error) {
	block, _, err := split(raw)
	if err != nil {
		return nil, false, err
	}
	var (
		val   []byte
		found bool
	)
	err = walk(block, func(k, v []byte) bool {
		if string(k) == key {
			val = append([]byte(nil), v...)
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return nil, false, err
	}
	return val, found, nil
}

// IsFrame reports whether raw starts with the envelope magic.
func IsFrame(raw []byte) bool {
	return len(raw) >= len(magic) && bytes.Equal(raw[:len(magic)], magic)
}

func split(raw []byte) (block, body []byte, err error) {
	if !IsFrame(raw) {
		return nil, nil, ErrInvalidFrame
	}
	if len(raw) < prefixLen {
		return nil, nil, ErrTruncated
	}
	if v := binary.BigEndian.Uint16(raw[8:10]); v != Version {
		return nil, nil, ErrUnsupportedVersion
	}
	n := int(binary.BigEndian.Uint32(raw[10:14]))
	if n < 2 || len(raw)-prefixLen < n {
		return nil, nil, ErrTruncated
	}
	return raw[prefixLen : prefixLen+n], raw[prefixLen+n:], nil
}

func walk(block []byte, fn func(k, v []byte) bool) error {
	count := int(binary.BigEndian.Uint16(block[:2]))
	p := 2
	for i := 0; i < count; i++ {
		if len(block)-p < 2 {
			return ErrTruncated
		}
		kl := int(binary.BigEndian.Uint16(block[p : p+2]))
		p += 2
		if len(block)-p < kl+4 {
			return ErrTruncated
		}
		k := block[p : p+kl]
		p += kl
		vl := int(binary.BigEndian.Uint32(block[p : p+4]))
		p += 4
		if vl < 0 || len(block)-p < vl {
			return ErrTruncated
		}
		v := block[p : p+vl]
		p += vl
		if !fn(k, v) {
			return nil
		}
	}
	return nil
}
