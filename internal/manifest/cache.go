package manifest

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nimue-net/uruserver/internal/codec/netio"
)

// cacheMagic is the four ASCII bytes 'M','F','S',0x01 read little-endian as
// a u32, matching the wire description `u32 magic = 'MFS\x01'`.
const cacheMagic uint32 = 0x0153464d

// buildBody packs m's live entries into the shared body format both the
// on-disk cache and the wire ManifestReply use: a run of
// nul-terminated UTF-16 strings and packed integers per entry, terminated
// by one zero code unit.
func buildBody(m *Manifest) []uint16 {
	var body []uint16
	for _, f := range m.Live() {
		body = append(body, netio.StringToUTF16(f.ClientPath)...)
		body = append(body, 0)
		body = append(body, netio.StringToUTF16(f.DownloadPath)...)
		body = append(body, 0)
		body = append(body, netio.StringToUTF16(f.FileMD5)...)
		body = append(body, 0)
		body = append(body, netio.StringToUTF16(f.DownloadMD5)...)
		body = append(body, 0)
		body = append(body, packU32AsUnits(f.FileSize)...)
		body = append(body, packU32AsUnits(f.DownloadSize)...)
		body = append(body, packU32AsUnits(f.Flags)...)
	}
	body = append(body, 0) // terminator
	return body
}

// WriteCache encodes m in the on-disk `.mfs_cache` format: a magic header,
// file count, a code-unit count, then that many UTF-16 code units forming
// the concatenation of every (non-deleted) entry, each entry a run of
// nul-terminated safe strings and packed integers, the whole body
// terminated by one zero code unit.
func WriteCache(w io.Writer, m *Manifest) error {
	if err := binary.Write(w, binary.LittleEndian, cacheMagic); err != nil {
		return err
	}
	return WriteWire(w, m)
}

// WriteWire encodes m the same way WriteCache does but without the leading
// magic, the form embedded directly in a ManifestReply message payload.
func WriteWire(w io.Writer, m *Manifest) error {
	live := m.Live()
	body := buildBody(m)

	if err := binary.Write(w, binary.LittleEndian, uint32(len(live))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(body))); err != nil {
		return err
	}
	for _, u := range body {
		if err := binary.Write(w, binary.LittleEndian, u); err != nil {
			return err
		}
	}
	return nil
}

// packU32AsUnits splits v into four u16 code units (one per byte, widened),
// matching the wire description's "u32-as-four-u16" packing.
func packU32AsUnits(v uint32) []uint16 {
	return []uint16{
		uint16(v & 0xFF),
		uint16((v >> 8) & 0xFF),
		uint16((v >> 16) & 0xFF),
		uint16((v >> 24) & 0xFF),
	}
}

func unpackUnitsAsU32(units []uint16) uint32 {
	return uint32(units[0]) | uint32(units[1])<<8 | uint32(units[2])<<16 | uint32(units[3])<<24
}

// ReadCache decodes a `.mfs_cache` file produced by WriteCache.
func ReadCache(r io.Reader, name string) (*Manifest, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading cache magic: %w", err)
	}
	if magic != cacheMagic {
		return nil, fmt.Errorf("manifest: bad cache magic %#x", magic)
	}
	return ReadWire(r, name)
}

// ReadWire decodes a manifest body in the form WriteWire produces: no
// magic, just the file count, code-unit count, and body. This is the
// shape embedded directly in a ManifestReply message.
func ReadWire(r io.Reader, name string) (*Manifest, error) {
	var numFiles, codeUnits uint32
	if err := binary.Read(r, binary.LittleEndian, &numFiles); err != nil {
		return nil, fmt.Errorf("reading cache file count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &codeUnits); err != nil {
		return nil, fmt.Errorf("reading cache code-unit count: %w", err)
	}

	body := make([]uint16, codeUnits)
	for i := range body {
		if err := binary.Read(r, binary.LittleEndian, &body[i]); err != nil {
			return nil, fmt.Errorf("reading cache body unit %d: %w", i, err)
		}
	}

	m := &Manifest{Name: name}
	pos := 0
	readStr := func() (string, error) {
		start := pos
		for pos < len(body) && body[pos] != 0 {
			pos++
		}
		if pos >= len(body) {
			return "", fmt.Errorf("manifest: unterminated string in cache")
		}
		s := netio.UTF16ToString(body[start:pos])
		pos++ // skip nul
		return s, nil
	}
	readU32 := func() (uint32, error) {
		if pos+4 > len(body) {
			return 0, fmt.Errorf("manifest: truncated packed u32 in cache")
		}
		v := unpackUnitsAsU32(body[pos : pos+4])
		pos += 4
		return v, nil
	}

	for i := uint32(0); i < numFiles; i++ {
		var f FileInfo
		var err error
		if f.ClientPath, err = readStr(); err != nil {
			return nil, err
		}
		if f.DownloadPath, err = readStr(); err != nil {
			return nil, err
		}
		if f.FileMD5, err = readStr(); err != nil {
			return nil, err
		}
		if f.DownloadMD5, err = readStr(); err != nil {
			return nil, err
		}
		if f.FileSize, err = readU32(); err != nil {
			return nil, err
		}
		if f.DownloadSize, err = readU32(); err != nil {
			return nil, err
		}
		if f.Flags, err = readU32(); err != nil {
			return nil, err
		}
		m.Files = append(m.Files, f)
	}
	return m, nil
}
