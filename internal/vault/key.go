// Package vault implements the server-side object graph: typed nodes,
// directed references between them, and the single-writer engine that
// serializes all mutation and broadcasts changes to connected clients.
package vault

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nimue-net/uruserver/internal/codec/netio"
)

// Location identifies an age instance's sequence prefix/page pair, packed
// into a single 32-bit sequence number plus a flags word. The packing
// preserves the client's exact arithmetic, wraparound included.
type Location struct {
	Sequence uint32
	Flags    uint16
}

// InvalidLocation is the sentinel used for keys that don't resolve to a
// real age instance.
var InvalidLocation = Location{Sequence: 0xFFFFFFFF, Flags: 0}

// MakeLocation packs a signed age sequence prefix and page number into a
// Location the way the client does: negative prefixes count down from
// 0xFF000001, non-negative prefixes count up from 0x00000021. The
// shift-then-add is carried out in wrapping 32-bit arithmetic, matching the
// client bit for bit including the "not actually valid" overflow cases.
func MakeLocation(prefix, page int32, flags uint16) Location {
	p := uint32(page) & 0xFFFF
	if prefix < 0 {
		seq := p - uint32(prefix<<16) + 0xFF000001
		return Location{Sequence: seq, Flags: flags}
	}
	seq := p + uint32(prefix<<16) + 0x00000021
	return Location{Sequence: seq, Flags: flags}
}

func ReadLocation(r io.Reader) (Location, error) {
	var buf [6]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Location{}, fmt.Errorf("reading location: %w", err)
	}
	return Location{
		Sequence: binary.LittleEndian.Uint32(buf[0:4]),
		Flags:    binary.LittleEndian.Uint16(buf[4:6]),
	}, nil
}

func WriteLocation(w io.Writer, loc Location) error {
	var buf [6]byte
	binary.LittleEndian.PutUint32(buf[0:4], loc.Sequence)
	binary.LittleEndian.PutUint16(buf[4:6], loc.Flags)
	_, err := w.Write(buf[:])
	return err
}

// uoid flag bits controlling which optional fields are present on the wire.
const (
	uoidHasCloneIDs uint8 = 1 << 0
	uoidHasLoadMask uint8 = 1 << 1
)

// Uoid (Unique Object IDentifier) names a single scene object within an
// age instance.
type Uoid struct {
	Location      Location
	LoadMask      uint8
	ObjType       uint16
	ObjName       string
	ObjID         uint32
	CloneID       uint32
	ClonePlayerID uint32
}

// InvalidUoid is the zero-value object reference: an invalid location, no
// name, load mask fully set.
var InvalidUoid = Uoid{Location: InvalidLocation, LoadMask: 0xFF}

func ReadUoid(r io.Reader) (Uoid, error) {
	var contentsBuf [1]byte
	if _, err := io.ReadFull(r, contentsBuf[:]); err != nil {
		return Uoid{}, fmt.Errorf("reading uoid contents byte: %w", err)
	}
	contents := contentsBuf[0]

	loc, err := ReadLocation(r)
	if err != nil {
		return Uoid{}, err
	}

	loadMask := uint8(0xFF)
	if contents&uoidHasLoadMask != 0 {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Uoid{}, fmt.Errorf("reading uoid load mask: %w", err)
		}
		loadMask = b[0]
	}

	var fixed [6]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Uoid{}, fmt.Errorf("reading uoid type/id: %w", err)
	}
	objType := binary.LittleEndian.Uint16(fixed[0:2])
	objID := binary.LittleEndian.Uint32(fixed[2:6])

	objName, err := netio.ReadSafeString(r, netio.Latin1)
	if err != nil {
		return Uoid{}, fmt.Errorf("reading uoid name: %w", err)
	}

	var cloneID, clonePlayerID uint32
	if contents&uoidHasCloneIDs != 0 {
		var ids [8]byte
		if _, err := io.ReadFull(r, ids[:]); err != nil {
			return Uoid{}, fmt.Errorf("reading uoid clone ids: %w", err)
		}
		cloneID = binary.LittleEndian.Uint32(ids[0:4])
		clonePlayerID = binary.LittleEndian.Uint32(ids[4:8])
	}

	return Uoid{
		Location:      loc,
		LoadMask:      loadMask,
		ObjType:       objType,
		ObjName:       objName,
		ObjID:         objID,
		CloneID:       cloneID,
		ClonePlayerID: clonePlayerID,
	}, nil
}

func WriteUoid(w io.Writer, u Uoid) error {
	var contents uint8
	if u.LoadMask != 0xFF {
		contents |= uoidHasLoadMask
	}
	if u.CloneID != 0 || u.ClonePlayerID != 0 {
		contents |= uoidHasCloneIDs
	}
	if _, err := w.Write([]byte{contents}); err != nil {
		return fmt.Errorf("writing uoid contents byte: %w", err)
	}

	if err := WriteLocation(w, u.Location); err != nil {
		return err
	}
	if contents&uoidHasLoadMask != 0 {
		if _, err := w.Write([]byte{u.LoadMask}); err != nil {
			return fmt.Errorf("writing uoid load mask: %w", err)
		}
	}

	var fixed [6]byte
	binary.LittleEndian.PutUint16(fixed[0:2], u.ObjType)
	binary.LittleEndian.PutUint32(fixed[2:6], u.ObjID)
	if _, err := w.Write(fixed[:]); err != nil {
		return fmt.Errorf("writing uoid type/id: %w", err)
	}

	if err := netio.WriteSafeString(w, u.ObjName, netio.Latin1); err != nil {
		return fmt.Errorf("writing uoid name: %w", err)
	}

	if contents&uoidHasCloneIDs != 0 {
		var ids [8]byte
		binary.LittleEndian.PutUint32(ids[0:4], u.CloneID)
		binary.LittleEndian.PutUint32(ids[4:8], u.ClonePlayerID)
		if _, err := w.Write(ids[:]); err != nil {
			return fmt.Errorf("writing uoid clone ids: %w", err)
		}
	}

	return nil
}

// Key is an optional Uoid: nil when the referenced object doesn't exist.
type Key struct {
	Uoid *Uoid
}

func ReadKey(r io.Reader) (Key, error) {
	var present [1]byte
	if _, err := io.ReadFull(r, present[:]); err != nil {
		return Key{}, fmt.Errorf("reading key presence byte: %w", err)
	}
	if present[0] == 0 {
		return Key{}, nil
	}
	u, err := ReadUoid(r)
	if err != nil {
		return Key{}, err
	}
	return Key{Uoid: &u}, nil
}

func WriteKey(w io.Writer, k Key) error {
	if k.Uoid == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	return WriteUoid(w, *k.Uoid)
}
