package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimue-net/uruserver/internal/codec/filecrypt"
)

func TestClassify(t *testing.T) {
	// Client binaries are classified by their bare filename, shared data
	// files by their backslash-form relative path.
	require.Equal(t, classPatcher, classify("vcredist_x86.exe"))
	require.Equal(t, classPatcher, classify("UruLauncher.exe"))
	require.Equal(t, classFullOnly, classify(`dat\city.prp`))
	require.Equal(t, classFullOnly, classify(`sfx\ambient.ogg`))
	require.Equal(t, classThinAndFull, classify("plClient.exe"))
}

func TestClientPathFor(t *testing.T) {
	require.Equal(t, "plClient.exe", clientPathFor(filepath.Join("client", "windows_ia32", "external", "plClient.exe")))
	require.Equal(t, "vcredist_x86.exe", clientPathFor(filepath.Join("client", "windows_x64", "internal", "vcredist_x86.exe")))
	require.Equal(t, `dat\city.prp`, clientPathFor(filepath.Join("dat", "city.prp")))
	require.Equal(t, `sfx\streamingCache\music.ogg`, clientPathFor(filepath.Join("sfx", "streamingCache", "music.ogg")))
}

func TestCacheRoundTrip(t *testing.T) {
	m := &Manifest{
		Name: "Thin_Windows_ia32_External",
		Files: []FileInfo{
			{ClientPath: `dat\city.age`, DownloadPath: `dat\city.age.gz`, FileMD5: "abcd", DownloadMD5: "ef01", FileSize: 4096, DownloadSize: 2048, Flags: FlagGzipped},
			{ClientPath: `Python\xAgeSDLBoolHook.py`, DownloadPath: `Python\xAgeSDLBoolHook.py`, FileMD5: "1111", DownloadMD5: "1111", FileSize: 128, DownloadSize: 128},
			{ClientPath: "gone.dat", DownloadPath: "gone.dat", FileMD5: "dead", DownloadMD5: "dead", FileSize: 1, DownloadSize: 1, Deleted: true},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCache(&buf, m))

	decoded, err := ReadCache(&buf, m.Name)
	require.NoError(t, err)
	require.Len(t, decoded.Files, 2) // deleted entry dropped from the wire view
	require.Equal(t, `dat\city.age`, decoded.Files[0].ClientPath)
	require.Equal(t, uint32(4096), decoded.Files[0].FileSize)
	require.Equal(t, uint32(2048), decoded.Files[0].DownloadSize)
	require.Equal(t, FlagGzipped, decoded.Files[0].Flags)
	require.Equal(t, `Python\xAgeSDLBoolHook.py`, decoded.Files[1].ClientPath)
}

func TestScanAndUpdate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dat"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "client", "windows_ia32", "external"), 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(root, "dat", "city.prp"), bytes.Repeat([]byte{1}, 2000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "client", "windows_ia32", "external", "plClient.exe"), []byte("aaaaaaaaaa"), 0o644))

	manifests, err := Scan(root)
	require.NoError(t, err)

	full := manifests["Full_Windows_ia32_External"]
	require.NotNil(t, full)
	var sawPrp, sawExe bool
	for _, f := range full.Files {
		if f.ClientPath == `dat\city.prp` {
			sawPrp = true
			require.True(t, f.Flags&FlagGzipped != 0, "highly compressible file should gzip below 90%%")
			require.Equal(t, `dat\city.prp.gz`, f.DownloadPath)
		}
		if f.ClientPath == "plClient.exe" {
			// Client binaries collapse to their bare filename; the download
			// path keeps the full source-relative form.
			sawExe = true
			require.Equal(t, `client\windows_ia32\external\plClient.exe`, f.DownloadPath)
		}
	}
	require.True(t, sawPrp)
	require.True(t, sawExe)

	thin := manifests["Thin_Windows_ia32_External"]
	for _, f := range thin.Files {
		require.NotEqual(t, `dat\city.prp`, f.ClientPath, "prp is full-only")
	}

	// Update after the file changes on disk.
	require.NoError(t, os.WriteFile(filepath.Join(root, "dat", "city.prp"), bytes.Repeat([]byte{2}, 3000), 0o644))
	require.NoError(t, Update(full, root))
	for _, f := range full.Files {
		if f.ClientPath == `dat\city.prp` {
			require.Equal(t, uint32(3000), f.FileSize)
		}
	}

	// Update after the file disappears.
	require.NoError(t, os.Remove(filepath.Join(root, "dat", "city.prp")))
	require.NoError(t, Update(full, root))
	liveNames := map[string]bool{}
	for _, f := range full.Live() {
		liveNames[f.ClientPath] = true
	}
	require.False(t, liveNames[`dat\city.prp`])
}

func TestNTDKeyPersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, NTDKeyFileName)

	k1, err := LoadOrCreateNTDKey(path)
	require.NoError(t, err)

	k2, err := LoadOrCreateNTDKey(path)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestSecureSDLFilesEncryptsPlainOnly(t *testing.T) {
	root := t.TempDir()
	sdlDir := filepath.Join(root, "SDL")
	require.NoError(t, os.MkdirAll(sdlDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sdlDir, "Garden.sdl"), []byte("STATEDESC Garden { VERSION 1 }"), 0o644))

	key := [4]uint32{1, 2, 3, 4}
	require.NoError(t, SecureSDLFiles(root, key))

	data, err := os.ReadFile(filepath.Join(sdlDir, "Garden.sdl"))
	require.NoError(t, err)
	require.Equal(t, filecrypt.XXTEA, filecrypt.DetectMode(data))

	// Running again must not double-encrypt.
	require.NoError(t, SecureSDLFiles(root, key))
	data2, err := os.ReadFile(filepath.Join(sdlDir, "Garden.sdl"))
	require.NoError(t, err)
	require.Equal(t, data, data2)
}
