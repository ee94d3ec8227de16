package sdl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// State flag bits, written as the leading u16 of every encoded blob.
const (
	stateFlagVolatile uint16 = 1 << 0
)

// Variable flag bits, written as a single byte ahead of each dirty
// variable's value.
const (
	varFlagHasNotificationInfo byte = 1 << 0
	varFlagHasTimestamp        byte = 1 << 1
	varFlagSameAsDefault       byte = 1 << 2
	varFlagDirty               byte = 1 << 3
	varFlagWantTimestamp       byte = 1 << 4
)

// Var is one live variable slot: its current value plus whether it has
// been touched since the descriptor's default applied.
type Var struct {
	Value any
	Dirty bool
}

// State is a live instance of a Descriptor: one Var per declared simple
// variable, one nested State per declared nested variable. A freshly
// created State has every Var set to its descriptor default and marked
// clean; SetValue marks a Var dirty so only touched variables (plus
// values with no default) serialize to the wire.
type State struct {
	Descriptor *Descriptor
	Name       string
	Vars       []Var
	Nested     []*State
}

// New builds a State initialized to d's declared defaults.
func New(d *Descriptor) *State {
	s := &State{Descriptor: d, Name: d.Name}
	s.Vars = make([]Var, len(d.Vars))
	for i, decl := range d.Vars {
		s.Vars[i].Value = parseDefault(decl.Type, decl.Default)
	}
	s.Nested = make([]*State, len(d.NestedVars))
	return s
}

// SetValue sets the i'th simple variable and marks it dirty.
func (s *State) SetValue(i int, v any) {
	s.Vars[i].Value = v
	s.Vars[i].Dirty = true
}

// compressedSizeWidth returns the byte width ("compressed size" field
// width) needed to hold any count up to and including total, matching the
// wire rule: a count that fits in a byte uses 1 byte, a count that needs
// more than a byte but fits in 16 bits uses 2, else 4.
func compressedSizeWidth(total int) int {
	switch {
	case total < 0x100:
		return 1
	case total < 0x10000:
		return 2
	default:
		return 4
	}
}

func writeCompressedSize(w io.Writer, width, n int) error {
	switch width {
	case 1:
		_, err := w.Write([]byte{byte(n)})
		return err
	case 2:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(n))
		_, err := w.Write(buf[:])
		return err
	default:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(n))
		_, err := w.Write(buf[:])
		return err
	}
}

func readCompressedSize(r io.Reader, width int) (int, error) {
	switch width {
	case 1:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return int(b[0]), nil
	case 2:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return int(binary.LittleEndian.Uint16(b[:])), nil
	default:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return int(binary.LittleEndian.Uint32(b[:])), nil
	}
}

// Encode writes s's wire representation: flags, io-version, then the
// simple-var group followed by the nested-var group, each group written
// as a "compressed size" count and either indexed entries (count < total,
// only dirty/non-default slots) or a dense run (count == total).
func (s *State) Encode(w io.Writer) error {
	var flagBuf [2]byte
	binary.LittleEndian.PutUint16(flagBuf[:], 0)
	if _, err := w.Write(flagBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(s.Descriptor.Version)}); err != nil {
		return err
	}

	if err := encodeGroup(w, s.Descriptor.Vars, s.Vars, func(i int, vw io.Writer) error {
		return writeValue(vw, s.Descriptor.Vars[i].Type, s.Vars[i].Value)
	}); err != nil {
		return fmt.Errorf("encoding simple vars of %q: %w", s.Descriptor.Name, err)
	}

	total := len(s.Descriptor.NestedVars)
	dirtyNested := make([]int, 0, total)
	for i, n := range s.Nested {
		if n != nil {
			dirtyNested = append(dirtyNested, i)
		}
	}
	width := compressedSizeWidth(total)
	if len(dirtyNested) == total {
		if err := writeCompressedSize(w, width, total); err != nil {
			return err
		}
		for i := range s.Nested {
			if err := encodeNested(w, s.Nested[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := writeCompressedSize(w, width, len(dirtyNested)); err != nil {
		return err
	}
	for _, i := range dirtyNested {
		if err := writeCompressedSize(w, width, i); err != nil {
			return err
		}
		if err := encodeNested(w, s.Nested[i]); err != nil {
			return err
		}
	}
	return nil
}

func encodeNested(w io.Writer, n *State) error {
	if n == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	return n.Encode(w)
}

// encodeGroup writes one simple-var "compressed size" group. writeOne
// writes variable i's encoded value (flags byte + payload) to vw.
func encodeGroup(w io.Writer, decls []VarDecl, vars []Var, writeOne func(i int, vw io.Writer) error) error {
	total := len(decls)
	width := compressedSizeWidth(total)

	dirty := make([]int, 0, total)
	for i, v := range vars {
		if v.Dirty || decls[i].Default == "" {
			dirty = append(dirty, i)
		}
	}

	writeEntry := func(i int) error {
		flags := varFlagHasNotificationInfo
		if vars[i].Dirty {
			flags |= varFlagDirty
		}
		if _, err := w.Write([]byte{flags}); err != nil {
			return err
		}
		return writeOne(i, w)
	}

	if len(dirty) == total {
		if err := writeCompressedSize(w, width, total); err != nil {
			return err
		}
		for i := range decls {
			if err := writeEntry(i); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeCompressedSize(w, width, len(dirty)); err != nil {
		return err
	}
	for _, i := range dirty {
		if err := writeCompressedSize(w, width, i); err != nil {
			return err
		}
		if err := writeEntry(i); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a wire blob into a fresh State, upgrading it to latest if
// the encoded io-version differs. db supplies both the exact-version
// descriptor (to know the wire's variable layout) and the latest version
// (the result's descriptor), per the version-upgrade-by-name rule: a
// variable surviving under the same name keeps its decoded value, a
// renamed or removed variable is dropped, and a new variable in the
// latest descriptor takes its default.
func Decode(r io.Reader, name string, db *DB) (*State, error) {
	var flagBuf [2]byte
	if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
		return nil, fmt.Errorf("reading state flags: %w", err)
	}
	var verBuf [1]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return nil, fmt.Errorf("reading state io-version: %w", err)
	}
	wireVersion := int(verBuf[0])

	wireDesc, ok := db.Get(name, wireVersion)
	if !ok {
		return nil, fmt.Errorf("sdl: unknown descriptor %q version %d", name, wireVersion)
	}
	latestDesc, ok := db.Latest(name)
	if !ok {
		latestDesc = wireDesc
	}

	wireVars, err := decodeGroup(r, wireDesc.Vars)
	if err != nil {
		return nil, fmt.Errorf("decoding simple vars of %q v%d: %w", name, wireVersion, err)
	}

	total := len(wireDesc.NestedVars)
	width := compressedSizeWidth(total)
	count, err := readCompressedSize(r, width)
	if err != nil {
		return nil, fmt.Errorf("reading nested count of %q v%d: %w", name, wireVersion, err)
	}
	wireNested := make([]*State, total)
	if count == total {
		for i := 0; i < total; i++ {
			n, err := decodeNested(r, wireDesc.NestedVars[i].NestedDesc, db)
			if err != nil {
				return nil, err
			}
			wireNested[i] = n
		}
	} else {
		for k := 0; k < count; k++ {
			idx, err := readCompressedSize(r, width)
			if err != nil {
				return nil, err
			}
			n, err := decodeNested(r, wireDesc.NestedVars[idx].NestedDesc, db)
			if err != nil {
				return nil, err
			}
			if idx < total {
				wireNested[idx] = n
			}
		}
	}

	if wireDesc.Version == latestDesc.Version {
		out := New(latestDesc)
		for i := range out.Vars {
			out.Vars[i] = wireVars[i]
		}
		out.Nested = wireNested
		return out, nil
	}
	return upgrade(wireDesc, wireVars, wireNested, latestDesc), nil
}

func decodeGroup(r io.Reader, decls []VarDecl) ([]Var, error) {
	total := len(decls)
	width := compressedSizeWidth(total)
	vars := make([]Var, total)
	for i, decl := range decls {
		vars[i].Value = parseDefault(decl.Type, decl.Default)
	}

	count, err := readCompressedSize(r, width)
	if err != nil {
		return nil, err
	}

	readEntry := func(i int) error {
		var flagBuf [1]byte
		if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
			return err
		}
		v, err := readValue(r, decls[i].Type)
		if err != nil {
			return err
		}
		vars[i].Value = v
		vars[i].Dirty = flagBuf[0]&varFlagDirty != 0
		return nil
	}

	if count == total {
		for i := range decls {
			if err := readEntry(i); err != nil {
				return nil, err
			}
		}
		return vars, nil
	}
	for k := 0; k < count; k++ {
		idx, err := readCompressedSize(r, width)
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= total {
			return nil, fmt.Errorf("sdl: var index %d out of range (total %d)", idx, total)
		}
		if err := readEntry(idx); err != nil {
			return nil, err
		}
	}
	return vars, nil
}

func decodeNested(r io.Reader, descName string, db *DB) (*State, error) {
	var present [1]byte
	if _, err := io.ReadFull(r, present[:]); err != nil {
		return nil, err
	}
	if present[0] == 0 {
		return nil, nil
	}
	return Decode(r, descName, db)
}

// upgrade maps a decoded wireDesc-shaped State onto latestDesc: variables
// are matched by name (case-sensitive, matching declaration text); a
// variable present only in the old descriptor is dropped, one present
// only in the new descriptor keeps its parsed default, and so does a
// matched variable that was still at its old default. A matched variable
// whose declared type or array length changed across versions also keeps
// the new default, with a warning: carrying the old value into a slot of
// a different type would poison every later encode of the state.
func upgrade(wireDesc *Descriptor, wireVars []Var, wireNested []*State, latestDesc *Descriptor) *State {
	out := New(latestDesc)

	oldByName := make(map[string]int, len(wireDesc.Vars))
	for i, decl := range wireDesc.Vars {
		oldByName[decl.Name] = i
	}
	for i, decl := range latestDesc.Vars {
		oldIdx, ok := oldByName[decl.Name]
		if !ok {
			continue
		}
		oldDecl := wireDesc.Vars[oldIdx]
		if oldDecl.Type != decl.Type {
			slog.Warn("sdl: variable type changed across versions, reverting to default",
				"descriptor", latestDesc.Name, "var", decl.Name)
			continue
		}
		if oldDecl.Count != decl.Count {
			slog.Warn("sdl: variable length changed across versions, reverting to default",
				"descriptor", latestDesc.Name, "var", decl.Name)
			continue
		}
		if !wireVars[oldIdx].Dirty && oldDecl.Default != "" {
			continue
		}
		out.Vars[i] = wireVars[oldIdx]
	}

	oldNestedByName := make(map[string]int, len(wireDesc.NestedVars))
	for i, decl := range wireDesc.NestedVars {
		oldNestedByName[decl.Name] = i
	}
	for i, decl := range latestDesc.NestedVars {
		oldIdx, ok := oldNestedByName[decl.Name]
		if !ok {
			continue
		}
		oldDecl := wireDesc.NestedVars[oldIdx]
		if !strings.EqualFold(oldDecl.NestedDesc, decl.NestedDesc) || oldDecl.Count != decl.Count {
			slog.Warn("sdl: nested variable changed across versions, reverting to default",
				"descriptor", latestDesc.Name, "var", decl.Name)
			continue
		}
		out.Nested[i] = wireNested[oldIdx]
	}
	return out
}

// EncodeBytes and DecodeBytes are convenience wrappers around Encode/Decode
// for callers that already have the whole blob in memory (the common case:
// SDL state arrives as one sized buffer inside a larger message).
func (s *State) EncodeBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeBytes(data []byte, name string, db *DB) (*State, error) {
	return Decode(bytes.NewReader(data), name, db)
}
