// Package filecrypt implements the TEA/XXTEA envelope used to encrypt SDL,
// age, csv, fni and packaged Python files at rest. The constants and block
// algorithms are transcribed bit-for-bit from the reference implementation;
// modernizing them (e.g. swapping in AES) would break every existing data
// file the client ships with.
package filecrypt

import (
	"encoding/binary"
	"fmt"
)

const delta = 0x9E3779B9

// DefaultKey is the fixed 4x32-bit key used for age/csv/fni files and any
// file encrypted without a more specific key.
var DefaultKey = [4]uint32{0x6c0a5452, 0x03827d0f, 0x3a170b92, 0x16db7fc2}

// Magic prefixes identifying the three encryption modes. Unencrypted files
// carry none of these and are read as plain bytes.
var (
	MagicTEAWhat  = []byte("whatdoyousee")
	MagicTEABryce = []byte("BryceIsSmart")
	MagicXXTEA    = []byte("notthedroids")
)

const MagicSize = 12

// Mode identifies which envelope, if any, wraps a file's bytes.
type Mode int

const (
	Unencrypted Mode = iota
	TEA
	XXTEA
)

// DetectMode inspects the leading bytes of a file (at least MagicSize) and
// returns which envelope mode it uses.
func DetectMode(header []byte) Mode {
	if len(header) < MagicSize {
		return Unencrypted
	}
	prefix := header[:MagicSize]
	if string(prefix) == string(MagicTEAWhat) || string(prefix) == string(MagicTEABryce) {
		return TEA
	}
	if string(prefix) == string(MagicXXTEA) {
		return XXTEA
	}
	return Unencrypted
}

// Decode strips whatever envelope wraps data and returns the plaintext.
// TEA envelopes use DefaultKey; XXTEA envelopes use ntdKey (the site
// secret). Unencrypted data is returned as-is.
func Decode(data []byte, ntdKey [4]uint32) ([]byte, error) {
	mode := DetectMode(data)
	if mode == Unencrypted {
		return data, nil
	}
	if len(data) < MagicSize+4 {
		return nil, fmt.Errorf("filecrypt: truncated envelope (%d bytes)", len(data))
	}
	plainLen := int(binary.LittleEndian.Uint32(data[MagicSize:]))
	payload := data[MagicSize+4:]
	if plainLen > len(payload)+7 {
		return nil, fmt.Errorf("filecrypt: declared length %d exceeds payload %d", plainLen, len(payload))
	}
	switch mode {
	case TEA:
		return DecryptTEA(payload, plainLen, DefaultKey), nil
	default:
		return DecryptXXTEA(payload, plainLen, ntdKey), nil
	}
}

// teaEncipherBlock encrypts one 8-byte (two u32) TEA block and returns the
// enciphered pair.
func teaEncipherBlock(v0, v1 uint32, key [4]uint32) (uint32, uint32) {
	var sum uint32
	for i := 0; i < 32; i++ {
		sum += delta
		v0 += ((v1 << 4) + key[0]) ^ (v1 + sum) ^ ((v1 >> 5) + key[1])
		v1 += ((v0 << 4) + key[2]) ^ (v0 + sum) ^ ((v0 >> 5) + key[3])
	}
	return v0, v1
}

// teaDecipherBlock decrypts one 8-byte TEA block and returns the
// deciphered pair. Per the
// reference implementation, sum starts at 0xC6EF3720 (32*delta) and
// advances by -delta each round.
func teaDecipherBlock(v0, v1 uint32, key [4]uint32) (uint32, uint32) {
	sum := uint32(0xC6EF3720)
	for i := 0; i < 32; i++ {
		v1 -= ((v0 << 4) + key[2]) ^ (v0 + sum) ^ ((v0 >> 5) + key[3])
		v0 -= ((v1 << 4) + key[0]) ^ (v1 + sum) ^ ((v1 >> 5) + key[1])
		sum -= delta
	}
	return v0, v1
}

// EncryptTEA encrypts plaintext with the given key, producing a
// magic-prefixed, length-prefixed envelope. The plaintext is padded to a
// multiple of 8 bytes with zero bytes; the original length is carried in
// the envelope so decryption can trim the padding.
func EncryptTEA(plaintext []byte, key [4]uint32) []byte {
	padded := padTo8(plaintext)
	out := make([]byte, 0, MagicSize+4+len(padded))
	out = append(out, MagicTEAWhat...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(plaintext)))
	out = append(out, lenBuf[:]...)
	for i := 0; i < len(padded); i += 8 {
		v0 := binary.LittleEndian.Uint32(padded[i:])
		v1 := binary.LittleEndian.Uint32(padded[i+4:])
		v0, v1 = teaEncipherBlock(v0, v1, key)
		var block [8]byte
		binary.LittleEndian.PutUint32(block[0:], v0)
		binary.LittleEndian.PutUint32(block[4:], v1)
		out = append(out, block[:]...)
	}
	return out
}

// DecryptTEA reverses EncryptTEA. The envelope (magic + length) must
// already have been stripped by the caller; payload is the bytes
// following the 4-byte length field.
func DecryptTEA(payload []byte, plainLen int, key [4]uint32) []byte {
	out := make([]byte, 0, len(payload))
	for i := 0; i+8 <= len(payload); i += 8 {
		v0 := binary.LittleEndian.Uint32(payload[i:])
		v1 := binary.LittleEndian.Uint32(payload[i+4:])
		v0, v1 = teaDecipherBlock(v0, v1, key)
		var block [8]byte
		binary.LittleEndian.PutUint32(block[0:], v0)
		binary.LittleEndian.PutUint32(block[4:], v1)
		out = append(out, block[:]...)
	}
	if plainLen >= 0 && plainLen <= len(out) {
		out = out[:plainLen]
	}
	return out
}

// xxteaEncipher encrypts v (a slice of u32 words, at least 2 long) in
// place using XXTEA's variable block-length algorithm.
func xxteaEncipher(v []uint32, key [4]uint32) {
	n := len(v)
	if n < 2 {
		return
	}
	rounds := 6 + 52/n
	var sum uint32
	z := v[n-1]
	for r := 0; r < rounds; r++ {
		sum += delta
		e := (sum >> 2) & 3
		for p := 0; p < n; p++ {
			y := v[(p+1)%n]
			v[p] += mx(y, z, sum, e, uint32(p), key)
			z = v[p]
		}
	}
}

// xxteaDecipher reverses xxteaEncipher.
func xxteaDecipher(v []uint32, key [4]uint32) {
	n := len(v)
	if n < 2 {
		return
	}
	rounds := 6 + 52/n
	sum := uint32(rounds) * delta
	y := v[0]
	for r := 0; r < rounds; r++ {
		e := (sum >> 2) & 3
		for p := n - 1; p >= 0; p-- {
			var z uint32
			if p == 0 {
				z = v[n-1]
			} else {
				z = v[p-1]
			}
			v[p] -= mx(y, z, sum, e, uint32(p), key)
			y = v[p]
		}
		sum -= delta
	}
}

func mx(y, z, sum, e, p uint32, key [4]uint32) uint32 {
	return ((z>>5 ^ y<<2) + (y>>3 ^ z<<4)) ^ ((sum ^ y) + (key[(p&3)^e] ^ z))
}

// EncryptXXTEA encrypts plaintext with key, producing a magic-prefixed,
// length-prefixed envelope whose payload is padded to a multiple of 4
// bytes (a whole number of u32 words) before being enciphered in place as
// one variable-length XXTEA block.
func EncryptXXTEA(plaintext []byte, key [4]uint32) []byte {
	padded := padTo4(plaintext)
	words := bytesToWords(padded)
	xxteaEncipher(words, key)
	payload := wordsToBytes(words)

	out := make([]byte, 0, MagicSize+4+len(payload))
	out = append(out, MagicXXTEA...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(plaintext)))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	return out
}

// DecryptXXTEA reverses EncryptXXTEA; payload excludes the magic+length
// header, plainLen is the original (pre-padding) length from that header.
func DecryptXXTEA(payload []byte, plainLen int, key [4]uint32) []byte {
	words := bytesToWords(payload)
	xxteaDecipher(words, key)
	out := wordsToBytes(words)
	if plainLen >= 0 && plainLen <= len(out) {
		out = out[:plainLen]
	}
	return out
}

func padTo8(b []byte) []byte {
	n := len(b)
	pad := (8 - n%8) % 8
	out := make([]byte, n+pad)
	copy(out, b)
	return out
}

func padTo4(b []byte) []byte {
	n := len(b)
	pad := (4 - n%4) % 4
	out := make([]byte, n+pad)
	copy(out, b)
	return out
}

func bytesToWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
