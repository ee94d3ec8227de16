package auth

import (
	"crypto/sha1"
	"encoding/binary"
	"regexp"
	"strings"

	"github.com/nimue-net/uruserver/internal/codec/netio"
	"github.com/nimue-net/uruserver/internal/codec/sha0"
)

// reEmailDomain captures the second-level domain of an e-mail-style
// account name; GameTap accounts keep the plain SHA-1 path, everything
// else e-mail-shaped goes through the legacy SHA-0 challenge.
var reEmailDomain = regexp.MustCompile(`[^@]+@([^.]+\.)*([^.]+)\.[^.]+`)

// useEmailAuth reports whether accountName selects the legacy challenge
// hash.
func useEmailAuth(accountName string) bool {
	caps := reEmailDomain.FindStringSubmatch(accountName)
	if caps == nil {
		return false
	}
	return !strings.EqualFold(caps[2], "gametap")
}

// writeTruncatedUTF16 appends value's UTF-16 code units with the final
// unit replaced by a nul. This drops the last character of the value, a
// client bug the stored hashes depend on.
func writeTruncatedUTF16(dst []byte, value string) []byte {
	units := netio.StringToUTF16(value)
	if len(units) == 0 {
		return dst
	}
	for _, u := range units[:len(units)-1] {
		dst = binary.LittleEndian.AppendUint16(dst, u)
	}
	return binary.LittleEndian.AppendUint16(dst, 0)
}

// CreatePassHash produces the stored password hash for an account: the
// legacy truncated SHA-0 over password-then-name for e-mail-style names,
// a plain SHA-1 of the password otherwise. Exported for account tooling.
func CreatePassHash(accountName, password string) [20]byte {
	if useEmailAuth(accountName) {
		var buf []byte
		buf = writeTruncatedUTF16(buf, password)
		buf = writeTruncatedUTF16(buf, accountName)
		return sha0.Sum0(buf)
	}
	return sha1.Sum([]byte(password))
}

// hashPasswordChallenge computes the login challenge digest:
// Sha0(LE(client_challenge) || LE(server_challenge) || stored_hash).
func hashPasswordChallenge(clientChallenge, serverChallenge uint32, passHash [20]byte) [20]byte {
	buf := make([]byte, 0, 28)
	buf = binary.LittleEndian.AppendUint32(buf, clientChallenge)
	buf = binary.LittleEndian.AppendUint32(buf, serverChallenge)
	buf = append(buf, passHash[:]...)
	return sha0.Sum0(buf)
}

// endianSwap flips each 32-bit word of a digest; the client transmits its
// SHA-1 comparison hash little-endian per word.
func endianSwap(d [20]byte) [20]byte {
	var out [20]byte
	for i := 0; i < 20; i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = d[i+3], d[i+2], d[i+1], d[i]
	}
	return out
}
