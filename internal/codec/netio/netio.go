// Package netio provides the leaf wire encoders/decoders shared by every
// protocol in this module: safe strings, fixed-width UTF-16 fields, bit
// vectors, little-endian UUIDs, and length-prefixed byte buffers.
package netio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// StringFormat selects the code-unit width used by ReadSafeString/WriteSafeString.
type StringFormat int

const (
	Latin1 StringFormat = iota
	UTF8
	UTF16
)

const safeStringLenMask = 0x0FFF
const safeStringFlag = 0xF000

// ReadSafeString reads the bitwise-complemented, length-prefixed string
// encoding used throughout the auth/vault wire format. For UTF16 the high
// bit of the first code unit distinguishes "complemented" payloads from
// legacy plain ones; for the byte formats the high bit of the length
// prefix (part of the 0xF000 flag) decides. Either way only the low 12
// bits of the length prefix carry the count.
func ReadSafeString(r io.Reader, format StringFormat) (string, error) {
	switch format {
	case UTF16:
		return readSafeStringUTF16(r)
	default:
		return readSafeStringBytes(r, format)
	}
}

func readSafeStringBytes(r io.Reader, format StringFormat) (string, error) {
	var lenField uint16
	if err := binary.Read(r, binary.LittleEndian, &lenField); err != nil {
		return "", fmt.Errorf("reading safe string length: %w", err)
	}
	n := int(lenField & safeStringLenMask)
	complemented := lenField&0x8000 != 0
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("reading safe string body: %w", err)
		}
	}
	if complemented {
		for i := range buf {
			buf[i] = ^buf[i]
		}
	}
	if format == Latin1 {
		runes := make([]rune, len(buf))
		for i, b := range buf {
			runes[i] = rune(b)
		}
		return string(runes), nil
	}
	return string(buf), nil
}

func readSafeStringUTF16(r io.Reader) (string, error) {
	var lenField uint16
	if err := binary.Read(r, binary.LittleEndian, &lenField); err != nil {
		return "", fmt.Errorf("reading safe string length: %w", err)
	}
	n := int(lenField & safeStringLenMask)
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		if err := binary.Read(r, binary.LittleEndian, &units[i]); err != nil {
			return "", fmt.Errorf("reading safe string unit %d: %w", i, err)
		}
	}
	complemented := n > 0 && units[0]&0x8000 != 0
	if complemented {
		for i := range units {
			units[i] = ^units[i]
		}
	}
	return UTF16ToString(units), nil
}

// WriteSafeString writes s using the bitwise-complemented safe-string
// encoding. Code units are always written complemented (the client accepts
// a legacy plain form on read, but this server only ever emits the
// complemented form, matching the reference encoder).
func WriteSafeString(w io.Writer, s string, format StringFormat) error {
	switch format {
	case UTF16:
		units := StringToUTF16(s)
		if len(units) > safeStringLenMask {
			units = units[:safeStringLenMask]
		}
		lenField := uint16(len(units)) | safeStringFlag
		if err := binary.Write(w, binary.LittleEndian, lenField); err != nil {
			return err
		}
		for _, u := range units {
			if err := binary.Write(w, binary.LittleEndian, ^u); err != nil {
				return err
			}
		}
		return nil
	default:
		var buf []byte
		if format == Latin1 {
			buf = make([]byte, 0, len(s))
			for _, r := range s {
				if r > 0xFF {
					r = '?'
				}
				buf = append(buf, byte(r))
			}
		} else {
			buf = []byte(s)
		}
		if len(buf) > safeStringLenMask {
			buf = buf[:safeStringLenMask]
		}
		lenField := uint16(len(buf)) | safeStringFlag
		if err := binary.Write(w, binary.LittleEndian, lenField); err != nil {
			return err
		}
		complemented := make([]byte, len(buf))
		for i, b := range buf {
			complemented[i] = ^b
		}
		_, err := w.Write(complemented)
		return err
	}
}

// ReadFixedUTF16 reads exactly n code units and returns the string up to
// (excluding) the first zero unit, matching the client's fixed-width
// nul-terminated string fields (e.g. 260-unit filenames).
func ReadFixedUTF16(r io.Reader, n int) (string, error) {
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		if err := binary.Read(r, binary.LittleEndian, &units[i]); err != nil {
			return "", fmt.Errorf("reading fixed utf16 unit %d: %w", i, err)
		}
	}
	end := len(units)
	for i, u := range units {
		if u == 0 {
			end = i
			break
		}
	}
	return UTF16ToString(units[:end]), nil
}

// WriteFixedUTF16 writes exactly n code units: s truncated to n-1 units
// followed by zero padding (always nul-terminated when s is shorter than n).
func WriteFixedUTF16(w io.Writer, s string, n int) error {
	units := StringToUTF16(s)
	if len(units) > n-1 {
		units = units[:n-1]
	}
	padded := make([]uint16, n)
	copy(padded, units)
	for _, u := range padded {
		if err := binary.Write(w, binary.LittleEndian, u); err != nil {
			return err
		}
	}
	return nil
}

// ReadUTF16String reads a plain (non-complemented) u16-length-prefixed
// UTF-16LE string, used by the gatekeeper and file protocols.
func ReadUTF16String(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("reading utf16 string length: %w", err)
	}
	units := make([]uint16, n)
	for i := range units {
		if err := binary.Read(r, binary.LittleEndian, &units[i]); err != nil {
			return "", fmt.Errorf("reading utf16 string unit %d: %w", i, err)
		}
	}
	return UTF16ToString(units), nil
}

// WriteUTF16String writes a plain u16-length-prefixed UTF-16LE string.
func WriteUTF16String(w io.Writer, s string) error {
	units := StringToUTF16(s)
	if len(units) > 0xFFFF {
		units = units[:0xFFFF]
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(units))); err != nil {
		return err
	}
	for _, u := range units {
		if err := binary.Write(w, binary.LittleEndian, u); err != nil {
			return err
		}
	}
	return nil
}

// StringToUTF16 converts a Go string to UTF-16 code units (no BOM; runes
// above the BMP become surrogate pairs, with no further validation).
func StringToUTF16(s string) []uint16 {
	runes := []rune(s)
	units := make([]uint16, 0, len(runes))
	for _, r := range runes {
		if r < 0x10000 {
			units = append(units, uint16(r))
			continue
		}
		r -= 0x10000
		units = append(units, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return units
}

// UTF16ToString converts UTF-16 code units back to a Go string.
func UTF16ToString(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u <= 0xDBFF && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] <= 0xDFFF {
			r := (rune(u-0xD800) << 10) + rune(units[i+1]-0xDC00) + 0x10000
			runes = append(runes, r)
			i++
			continue
		}
		runes = append(runes, rune(u))
	}
	return string(runes)
}

// ReadUUID reads a 16-byte little-endian UUID (the wire byte order is the
// reverse of uuid.UUID's big-endian textual form).
func ReadUUID(r io.Reader) (uuid.UUID, error) {
	var raw [16]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return uuid.Nil, fmt.Errorf("reading uuid: %w", err)
	}
	return leBytesToUUID(raw), nil
}

// WriteUUID writes a UUID as 16 little-endian bytes.
func WriteUUID(w io.Writer, id uuid.UUID) error {
	raw := uuidToLEBytes(id)
	_, err := w.Write(raw[:])
	return err
}

func leBytesToUUID(raw [16]byte) uuid.UUID {
	var u uuid.UUID
	// Data1 (4 bytes) and Data2/Data3 (2 bytes each) are little-endian on
	// the wire; Data4 (8 bytes) is already big-endian/byte-order neutral.
	u[0], u[1], u[2], u[3] = raw[3], raw[2], raw[1], raw[0]
	u[4], u[5] = raw[5], raw[4]
	u[6], u[7] = raw[7], raw[6]
	copy(u[8:], raw[8:])
	return u
}

func uuidToLEBytes(u uuid.UUID) [16]byte {
	var raw [16]byte
	raw[3], raw[2], raw[1], raw[0] = u[0], u[1], u[2], u[3]
	raw[5], raw[4] = u[4], u[5]
	raw[7], raw[6] = u[6], u[7]
	copy(raw[8:], u[8:])
	return raw
}

// MaxNodeBufferSize and MaxPropagateBufferSize are the two 1 MiB caps the
// auth protocol enforces on sized buffers; MaxPingPayload caps ping bodies.
const (
	MaxNodeBufferSize     = 1 << 20
	MaxPropagateBufferSize = 1 << 20
	MaxPingPayload        = 64 << 10
)

// ReadSizedBuffer reads a u32-length-prefixed byte buffer, rejecting
// lengths above max.
func ReadSizedBuffer(r io.Reader, max uint32) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("reading buffer length: %w", err)
	}
	if n > max {
		return nil, fmt.Errorf("buffer length %d exceeds max %d", n, max)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading buffer body: %w", err)
		}
	}
	return buf, nil
}

// WriteSizedBuffer writes a u32-length-prefixed byte buffer.
func WriteSizedBuffer(w io.Writer, buf []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(buf))); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// BufReader is the minimal reader surface codecs in this package need.
type BufReader interface {
	io.Reader
	io.ByteReader
}
