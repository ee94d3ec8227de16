package manifest

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/nimue-net/uruserver/internal/codec/filecrypt"
)

// NTDKeyFileName is the well-known filename for the site's NTD key,
// resolved relative to the data root.
const NTDKeyFileName = ".ntd_server.key"

// LoadOrCreateNTDKey reads the 4x32-bit big-endian NTD key from path,
// generating a fresh CSPRNG key and writing it on first run.
func LoadOrCreateNTDKey(path string) ([4]uint32, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != 16 {
			return [4]uint32{}, fmt.Errorf("manifest: NTD key file %s has wrong length %d", path, len(data))
		}
		var key [4]uint32
		for i := range key {
			key[i] = binary.BigEndian.Uint32(data[i*4:])
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return [4]uint32{}, fmt.Errorf("reading NTD key: %w", err)
	}

	var key [4]uint32
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return [4]uint32{}, fmt.Errorf("generating NTD key: %w", err)
	}
	for i := range key {
		key[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return [4]uint32{}, fmt.Errorf("writing NTD key: %w", err)
	}
	slog.Info("manifest: generated new NTD key", "path", path)
	return key, nil
}

// SecureSDLFiles walks <dataRoot>/SDL and ensures every .sdl file is
// encrypted at rest with XXTEA under ntdKey; files already carrying any
// envelope (TEA or XXTEA) are left untouched.
func SecureSDLFiles(dataRoot string, ntdKey [4]uint32) error {
	root := filepath.Join(dataRoot, "SDL")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".sdl") {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := encryptFileIfPlain(path, ntdKey); err != nil {
			return fmt.Errorf("securing %s: %w", path, err)
		}
	}
	return nil
}

func encryptFileIfPlain(path string, key [4]uint32) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if filecrypt.DetectMode(data) != filecrypt.Unencrypted {
		return nil
	}
	enc := filecrypt.EncryptXXTEA(data, key)
	return os.WriteFile(path, enc, 0o644)
}

// CompilePythonPak byte-compiles every .py file under <dataRoot>/Python
// using the interpreter at pythonPath, concatenates the resulting
// bytecode into one archive (one length-prefixed blob per source file,
// path then payload), then encrypts the whole archive with XXTEA under
// ntdKey, writing the result to <dataRoot>/Python.pak.
//
// When pythonPath is empty the step is skipped and logged: this server
// does not embed a Python compiler, so byte-compilation depends entirely
// on an externally configured interpreter.
func CompilePythonPak(dataRoot, pythonPath string, ntdKey [4]uint32) error {
	if pythonPath == "" {
		slog.Warn("manifest: no python interpreter configured, skipping .pak compilation")
		return nil
	}

	root := filepath.Join(dataRoot, "Python")
	var entries []string
	err := filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !fi.IsDir() && strings.EqualFold(filepath.Ext(p), ".py") {
			entries = append(entries, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}

	var archive []byte
	for _, src := range entries {
		rel, err := filepath.Rel(dataRoot, src)
		if err != nil {
			return err
		}
		out := src + "c"
		if err := exec.Command(pythonPath, "-m", "py_compile", src).Run(); err != nil {
			return fmt.Errorf("compiling %s: %w", src, err)
		}
		compiled, err := os.ReadFile(out)
		if err != nil {
			return fmt.Errorf("reading compiled %s: %w", out, err)
		}
		archive = appendPakEntry(archive, filepath.ToSlash(rel), compiled)
	}

	enc := filecrypt.EncryptXXTEA(archive, ntdKey)
	return os.WriteFile(filepath.Join(dataRoot, "Python.pak"), enc, 0o644)
}

func appendPakEntry(archive []byte, path string, data []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(path)))
	archive = append(archive, lenBuf[:]...)
	archive = append(archive, path...)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	archive = append(archive, lenBuf[:]...)
	archive = append(archive, data...)
	return archive
}
