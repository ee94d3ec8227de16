package sdl

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/nimue-net/uruserver/internal/codec/netio"
)

// Time is Plasma's two-u32 (seconds, microseconds) wall-clock value.
type Time struct{ Secs, Micros uint32 }

// Vector3 backs both the point3 and vector3 var types; they share layout.
type Vector3 struct{ X, Y, Z float32 }

// Quaternion is a 4-component rotation.
type Quaternion struct{ X, Y, Z, W float32 }

// RGB is a floating-point color triple (0..1 range, unchecked).
type RGB struct{ R, G, B float32 }

// RGB8 is a byte color triple.
type RGB8 struct{ R, G, B byte }

// RGBA is a floating-point color quad.
type RGBA struct{ R, G, B, A float32 }

// RGBA8 is a byte color quad.
type RGBA8 struct{ R, G, B, A byte }

// Creatable is an opaque tagged blob: class id plus raw bytes. Only a
// small subset of creatables matter to this core (see spec glossary); the
// core never inspects the payload, only round-trips it.
type Creatable struct {
	ClassID uint16
	Data    []byte
}

// zeroValue returns t's descriptor-declared "all zero" value, used when no
// DEFAULT clause is present or the clause can't be parsed.
func zeroValue(t VarType) any {
	switch t {
	case VarBool:
		return false
	case VarByte:
		return uint8(0)
	case VarShort:
		return int16(0)
	case VarInt:
		return int32(0)
	case VarFloat:
		return float32(0)
	case VarDouble:
		return float64(0)
	case VarString32:
		return ""
	case VarTime:
		return Time{}
	case VarPlKey:
		return []byte(nil)
	case VarPoint3, VarVector3:
		return Vector3{}
	case VarQuaternion:
		return Quaternion{}
	case VarRGB:
		return RGB{}
	case VarRGB8:
		return RGB8{}
	case VarRGBA:
		return RGBA{}
	case VarRGBA8:
		return RGBA8{}
	case VarCreatable:
		return Creatable{}
	case VarAgeTimeOfDay:
		return nil
	default:
		return nil
	}
}

// parseDefault best-effort-parses a DEFAULT=<expr> clause's raw text into
// t's Go value. Scalar literals parse exactly; anything this parser
// doesn't recognize (composite expressions, nested constructors) falls
// back to the type's zero value, matching the "type mismatches fall back
// to defaults" upgrade rule for the harder cases too.
func parseDefault(t VarType, raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return zeroValue(t)
	}
	switch t {
	case VarBool:
		switch strings.ToLower(raw) {
		case "true", "1":
			return true
		case "false", "0":
			return false
		}
	case VarByte:
		if n, err := strconv.ParseUint(raw, 10, 8); err == nil {
			return uint8(n)
		}
	case VarShort:
		if n, err := strconv.ParseInt(raw, 10, 16); err == nil {
			return int16(n)
		}
	case VarInt:
		if n, err := strconv.ParseInt(raw, 10, 32); err == nil {
			return int32(n)
		}
	case VarFloat:
		if f, err := strconv.ParseFloat(raw, 32); err == nil {
			return float32(f)
		}
	case VarDouble:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case VarString32:
		return strings.Trim(raw, `"`)
	}
	return zeroValue(t)
}

func writeValue(w io.Writer, t VarType, v any) error {
	switch t {
	case VarBool:
		b := byte(0)
		if v.(bool) {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	case VarByte:
		_, err := w.Write([]byte{v.(uint8)})
		return err
	case VarShort:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(v.(int16)))
		_, err := w.Write(buf[:])
		return err
	case VarInt:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v.(int32)))
		_, err := w.Write(buf[:])
		return err
	case VarFloat:
		return writeFloat32(w, v.(float32))
	case VarDouble:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.(float64)))
		_, err := w.Write(buf[:])
		return err
	case VarString32:
		return netio.WriteFixedUTF16(w, v.(string), 32)
	case VarTime:
		tm := v.(Time)
		var buf [8]byte
		binary.LittleEndian.PutUint32(buf[0:4], tm.Secs)
		binary.LittleEndian.PutUint32(buf[4:8], tm.Micros)
		_, err := w.Write(buf[:])
		return err
	case VarPlKey:
		return netio.WriteSizedBuffer(w, v.([]byte))
	case VarPoint3, VarVector3:
		vec := v.(Vector3)
		return writeFloats(w, vec.X, vec.Y, vec.Z)
	case VarQuaternion:
		q := v.(Quaternion)
		return writeFloats(w, q.X, q.Y, q.Z, q.W)
	case VarRGB:
		c := v.(RGB)
		return writeFloats(w, c.R, c.G, c.B)
	case VarRGB8:
		c := v.(RGB8)
		_, err := w.Write([]byte{c.R, c.G, c.B})
		return err
	case VarRGBA:
		c := v.(RGBA)
		return writeFloats(w, c.R, c.G, c.B, c.A)
	case VarRGBA8:
		c := v.(RGBA8)
		_, err := w.Write([]byte{c.R, c.G, c.B, c.A})
		return err
	case VarCreatable:
		c := v.(Creatable)
		var classBuf [2]byte
		binary.LittleEndian.PutUint16(classBuf[:], c.ClassID)
		if _, err := w.Write(classBuf[:]); err != nil {
			return err
		}
		return netio.WriteSizedBuffer(w, c.Data)
	case VarAgeTimeOfDay:
		return nil // computed, no stored bytes
	default:
		return fmt.Errorf("sdl: unknown var type %d", t)
	}
}

func readValue(r io.Reader, t VarType) (any, error) {
	switch t {
	case VarBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case VarByte:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return b[0], nil
	case VarShort:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return int16(binary.LittleEndian.Uint16(buf[:])), nil
	case VarInt:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return int32(binary.LittleEndian.Uint32(buf[:])), nil
	case VarFloat:
		return readFloat32(r)
	case VarDouble:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
	case VarString32:
		return netio.ReadFixedUTF16(r, 32)
	case VarTime:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return Time{Secs: binary.LittleEndian.Uint32(buf[0:4]), Micros: binary.LittleEndian.Uint32(buf[4:8])}, nil
	case VarPlKey:
		return netio.ReadSizedBuffer(r, netio.MaxNodeBufferSize)
	case VarPoint3, VarVector3:
		xs, err := readFloats(r, 3)
		if err != nil {
			return nil, err
		}
		return Vector3{X: xs[0], Y: xs[1], Z: xs[2]}, nil
	case VarQuaternion:
		xs, err := readFloats(r, 4)
		if err != nil {
			return nil, err
		}
		return Quaternion{X: xs[0], Y: xs[1], Z: xs[2], W: xs[3]}, nil
	case VarRGB:
		xs, err := readFloats(r, 3)
		if err != nil {
			return nil, err
		}
		return RGB{R: xs[0], G: xs[1], B: xs[2]}, nil
	case VarRGB8:
		var buf [3]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return RGB8{R: buf[0], G: buf[1], B: buf[2]}, nil
	case VarRGBA:
		xs, err := readFloats(r, 4)
		if err != nil {
			return nil, err
		}
		return RGBA{R: xs[0], G: xs[1], B: xs[2], A: xs[3]}, nil
	case VarRGBA8:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return RGBA8{R: buf[0], G: buf[1], B: buf[2], A: buf[3]}, nil
	case VarCreatable:
		var classBuf [2]byte
		if _, err := io.ReadFull(r, classBuf[:]); err != nil {
			return nil, err
		}
		data, err := netio.ReadSizedBuffer(r, netio.MaxNodeBufferSize)
		if err != nil {
			return nil, err
		}
		return Creatable{ClassID: binary.LittleEndian.Uint16(classBuf[:]), Data: data}, nil
	case VarAgeTimeOfDay:
		return nil, nil
	default:
		return nil, fmt.Errorf("sdl: unknown var type %d", t)
	}
}

func writeFloat32(w io.Writer, f float32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
	_, err := w.Write(buf[:])
	return err
}

func readFloat32(r io.Reader) (float32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[:])), nil
}

func writeFloats(w io.Writer, fs ...float32) error {
	for _, f := range fs {
		if err := writeFloat32(w, f); err != nil {
			return err
		}
	}
	return nil
}

func readFloats(r io.Reader, n int) ([]float32, error) {
	out := make([]float32, n)
	for i := range out {
		f, err := readFloat32(r)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func valuesEqual(a, b any) bool {
	return a == b
}
