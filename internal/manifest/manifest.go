// Package manifest scans the server's data tree into per-variant file
// manifests (Patcher/Thin/Full), incrementally re-hashes and compresses
// entries as files on disk change, and encrypts SDL/Python assets at rest
// with the NTD key. It backs the file service's ManifestRequest; the auth
// service's SDL/Python file listings are built from the directory instead.
package manifest

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileInfo describes one file a client may download: its path inside the
// client's install tree, the (possibly gzip-compressed) path this server
// actually serves bytes from, both paths' MD5 hashes, both sizes, and a
// flag bitmap. Deleted is cache-internal bookkeeping, never serialized to
// the client-facing manifest reply.
type FileInfo struct {
	ClientPath   string
	DownloadPath string
	FileMD5      string
	DownloadMD5  string
	FileSize     uint32
	DownloadSize uint32
	Flags        uint32
	Deleted      bool
}

// Flag bits carried in FileInfo.Flags.
const (
	FlagRedistUpdate uint32 = 1 << 0
	FlagGzipped      uint32 = 1 << 1
)

// Manifest is one named, ordered collection of FileInfo entries (e.g.
// "Thin_Windows_ia32_External").
type Manifest struct {
	Name  string
	Files []FileInfo
}

// Variant names the four client build targets the scan produces manifests
// for.
type Variant struct {
	Arch     string // "ia32" or "x64"
	External bool
}

var variants = []Variant{
	{Arch: "ia32", External: true},
	{Arch: "ia32", External: false},
	{Arch: "x64", External: true},
	{Arch: "x64", External: false},
}

func (v Variant) clientDir() string {
	loc := "internal"
	if v.External {
		loc = "external"
	}
	return filepath.Join("client", "windows_"+v.Arch, loc)
}

func (v Variant) suffix() string {
	loc := "Internal"
	if v.External {
		loc = "External"
	}
	return fmt.Sprintf("Windows_%s_%s", v.Arch, loc)
}

// sharedDirs are scanned for every variant and appended to its Full manifest
// (and, via the same classification rules, Thin/Patcher where applicable).
var sharedDirs = []string{"avi", "dat", "sfx"}

// class is which manifest(s) a file belongs to.
type class int

const (
	classThinAndFull class = iota
	classFullOnly
	classPatcher
)

var fullOnlyExts = map[string]bool{
	".prp": true, ".fni": true, ".csv": true, ".ogg": true, ".sub": true,
}

func classify(clientPath string) class {
	lower := strings.ToLower(clientPath)
	if strings.Contains(lower, "vcredist") || strings.Contains(lower, "launcher") {
		return classPatcher
	}
	if fullOnlyExts[strings.ToLower(filepath.Ext(clientPath))] {
		return classFullOnly
	}
	return classThinAndFull
}

func skipFile(name string) bool {
	if strings.HasSuffix(name, ".gz") {
		return true
	}
	if name == "desktop.ini" {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	return false
}

// Scan walks dataRoot and produces the Patcher/Thin/Full manifest for each
// of the four client variants, twelve manifests total.
func Scan(dataRoot string) (map[string]*Manifest, error) {
	out := map[string]*Manifest{}
	for _, v := range variants {
		patcher := &Manifest{Name: "Patcher_" + v.suffix()}
		thin := &Manifest{Name: "Thin_" + v.suffix()}
		full := &Manifest{Name: "Full_" + v.suffix()}

		if err := scanDir(dataRoot, v.clientDir(), patcher, thin, full); err != nil {
			return nil, err
		}
		for _, dir := range sharedDirs {
			if err := scanDir(dataRoot, dir, patcher, thin, full); err != nil {
				return nil, err
			}
		}

		out[patcher.Name] = patcher
		out[thin.Name] = thin
		out[full.Name] = full
	}
	return out, nil
}

func scanDir(dataRoot, rel string, patcher, thin, full *Manifest) error {
	root := filepath.Join(dataRoot, rel)
	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			return nil
		}
		if skipFile(fi.Name()) {
			return nil
		}

		srcRel, err := filepath.Rel(dataRoot, path)
		if err != nil {
			return err
		}

		info, err := buildFileInfo(dataRoot, srcRel)
		if err != nil {
			return err
		}

		switch classify(info.ClientPath) {
		case classPatcher:
			if strings.Contains(strings.ToLower(info.ClientPath), "vcredist") {
				info.Flags |= FlagRedistUpdate
			}
			patcher.Files = append(patcher.Files, info)
		case classFullOnly:
			full.Files = append(full.Files, info)
		default:
			thin.Files = append(thin.Files, info)
			full.Files = append(full.Files, info)
		}
		return nil
	})
}

// toWindows converts a native relative path to the backslash form every
// path on the wire (and in the cache files) uses.
func toWindows(rel string) string {
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", `\`)
}

// clientPathFor reduces a source-relative path to the name the client
// sees: per-variant binaries under client/ install into the client's own
// root, so they collapse to a bare filename; shared data files keep their
// relative path in backslash form.
func clientPathFor(srcRel string) string {
	slash := filepath.ToSlash(srcRel)
	if strings.HasPrefix(slash, "client/") {
		return path.Base(slash)
	}
	return strings.ReplaceAll(slash, "/", `\`)
}

// sourcePath resolves the on-disk file backing this entry: the download
// path in native form, minus the .gz suffix when the download is the
// compressed sibling. The client path can't serve here since client/
// binaries carry only their bare filename.
func (f *FileInfo) sourcePath(dataRoot string) string {
	rel := filepath.FromSlash(strings.ReplaceAll(f.DownloadPath, `\`, "/"))
	if f.Flags&FlagGzipped != 0 {
		rel = strings.TrimSuffix(rel, ".gz")
	}
	return filepath.Join(dataRoot, rel)
}

// buildFileInfo hashes srcRel (a native path relative to dataRoot) and,
// if compression shrinks it below 90% of the original, writes a `.gz`
// sibling and points DownloadPath/DownloadMD5/DownloadSize at it.
func buildFileInfo(dataRoot, srcRel string) (FileInfo, error) {
	abs := filepath.Join(dataRoot, srcRel)
	data, err := os.ReadFile(abs)
	if err != nil {
		return FileInfo{}, fmt.Errorf("reading %s: %w", srcRel, err)
	}

	winRel := toWindows(srcRel)
	sum := md5.Sum(data)
	info := FileInfo{
		ClientPath:   clientPathFor(srcRel),
		DownloadPath: winRel,
		FileMD5:      hex.EncodeToString(sum[:]),
		FileSize:     uint32(len(data)),
		DownloadMD5:  hex.EncodeToString(sum[:]),
		DownloadSize: uint32(len(data)),
	}

	gzPath := abs + ".gz"
	gzData, err := gzipBytes(data)
	if err != nil {
		return FileInfo{}, err
	}
	if len(gzData) < len(data)*9/10 {
		if err := os.WriteFile(gzPath, gzData, 0o644); err != nil {
			return FileInfo{}, fmt.Errorf("writing %s: %w", gzPath, err)
		}
		gzSum := md5.Sum(gzData)
		info.DownloadPath = winRel + ".gz"
		info.DownloadMD5 = hex.EncodeToString(gzSum[:])
		info.DownloadSize = uint32(len(gzData))
		info.Flags |= FlagGzipped
	}
	return info, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Update re-hashes and re-stats every entry already present in m against
// dataRoot, recompressing changed files and marking files that have
// disappeared from disk as Deleted (kept in the manifest, omitted from the
// wire reply) rather than removed outright, so later generations still
// know to retire them.
func Update(m *Manifest, dataRoot string) error {
	for i := range m.Files {
		entry := &m.Files[i]
		src := entry.sourcePath(dataRoot)

		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) {
				entry.Deleted = true
				continue
			}
			return fmt.Errorf("stat/read %s: %w", entry.ClientPath, err)
		}
		entry.Deleted = false

		sum := md5.Sum(data)
		newMD5 := hex.EncodeToString(sum[:])
		if newMD5 == entry.FileMD5 && uint32(len(data)) == entry.FileSize {
			continue
		}

		srcRel, err := filepath.Rel(dataRoot, src)
		if err != nil {
			return err
		}
		rebuilt, err := buildFileInfo(dataRoot, srcRel)
		if err != nil {
			return err
		}
		// Classification flags (redistributable-update, ogg bits) outlive a
		// content change; only the compression flag is recomputed.
		rebuilt.Flags |= entry.Flags &^ FlagGzipped
		*entry = rebuilt
	}
	return nil
}

// Live returns m's entries with Deleted ones filtered out, the view the
// wire format actually serializes.
func (m *Manifest) Live() []FileInfo {
	out := make([]FileInfo, 0, len(m.Files))
	for _, f := range m.Files {
		if !f.Deleted {
			out = append(out, f)
		}
	}
	return out
}

// ReadAll is a small helper for secure-file handling: read the whole file
// into memory, erroring clearly if it's missing.
func ReadAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
