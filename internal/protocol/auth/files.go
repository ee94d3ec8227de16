package auth

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// The auth file service only ever serves two directories, each with one
// extension: compiled Python packages and SDL descriptors. Anything else
// is FileNotFound regardless of what exists on disk.
func checkFileRequest(dir, ext string) bool {
	return (dir == "Python" && ext == "pak") || (dir == "SDL" && ext == "sdl")
}

type listedFile struct {
	path string // client form: `Dir\Name.Ext`
	size uint32
}

// listServerFiles enumerates dataRoot/dir/*.ext for a whitelisted
// (dir, ext) pair, returning entries in the client's backslash form. A
// non-whitelisted pair returns ok=false.
func listServerFiles(dataRoot, dir, ext string) ([]listedFile, bool) {
	if !checkFileRequest(dir, ext) {
		return nil, false
	}

	entries, err := os.ReadDir(filepath.Join(dataRoot, dir))
	if err != nil {
		// Whitelisted but absent directories serve an empty list rather
		// than an error: the client treats both the same way.
		return nil, true
	}

	var out []listedFile
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(strings.TrimPrefix(filepath.Ext(e.Name()), "."), ext) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.Size() > int64(^uint32(0)) {
			continue
		}
		out = append(out, listedFile{path: dir + `\` + e.Name(), size: uint32(fi.Size())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, true
}

// resolveServerFile validates a download path of the exact form
// `Dir\File.Ext` against the whitelist and maps it under dataRoot.
// Anything else (extra separators, dotfiles, traversal) is rejected.
func resolveServerFile(dataRoot, filename string) (string, bool) {
	parts := strings.Split(filename, `\`)
	if len(parts) != 2 {
		return "", false
	}
	dir, name := parts[0], parts[1]
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/:`) {
		return "", false
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if !checkFileRequest(dir, ext) {
		return "", false
	}
	return filepath.Join(dataRoot, dir, name), true
}
