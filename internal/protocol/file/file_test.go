package file

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimue-net/uruserver/internal/codec/netio"
	"github.com/nimue-net/uruserver/internal/manifest"
	"github.com/nimue-net/uruserver/internal/netresult"
	"github.com/nimue-net/uruserver/internal/protocol"
)

func dialFile(t *testing.T, s *Server) net.Conn {
	t.Helper()
	client, serverSide := net.Pipe()
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.HandleConn(ctx, serverSide, protocol.Header{})

	var header [serviceHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], serviceHeaderSize)
	_, err := client.Write(header[:])
	require.NoError(t, err)

	client.SetDeadline(time.Now().Add(5 * time.Second))
	return client
}

// sendFrame writes a length-prefixed frame built from the given fields.
func sendFrame(t *testing.T, conn net.Conn, fields ...any) {
	t.Helper()
	var body []byte
	for _, f := range fields {
		switch v := f.(type) {
		case uint32:
			body = binary.LittleEndian.AppendUint32(body, v)
		case []uint16:
			for _, u := range v {
				body = binary.LittleEndian.AppendUint16(body, u)
			}
		default:
			t.Fatalf("unsupported frame field %T", f)
		}
	}
	frame := binary.LittleEndian.AppendUint32(nil, uint32(4+len(body)))
	frame = append(frame, body...)
	_, err := conn.Write(frame)
	require.NoError(t, err)
}

func fixed260(s string) []uint16 {
	units := netio.StringToUTF16(s)
	out := make([]uint16, 260)
	copy(out, units)
	return out
}

// readFrame returns the body of one reply frame (without its length
// prefix).
func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var sizeBuf [4]byte
	_, err := io.ReadFull(conn, sizeBuf[:])
	require.NoError(t, err)
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	require.GreaterOrEqual(t, size, uint32(8))
	body := make([]byte, size-4)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	return body
}

func u32At(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }

func TestPingEchoesTime(t *testing.T) {
	s := &Server{DataRoot: t.TempDir(), BuildID: 918}
	conn := dialFile(t, s)

	sendFrame(t, conn, cli2FilePingRequest, uint32(0xFEEDBEEF))
	body := readFrame(t, conn)
	require.Equal(t, file2CliPingReply, u32At(body, 0))
	require.Equal(t, uint32(0xFEEDBEEF), u32At(body, 4))
}

func TestBuildIDReply(t *testing.T) {
	s := &Server{DataRoot: t.TempDir(), BuildID: 918}
	conn := dialFile(t, s)

	sendFrame(t, conn, cli2FileBuildIDRequest, uint32(5))
	body := readFrame(t, conn)
	require.Equal(t, file2CliBuildIDReply, u32At(body, 0))
	require.Equal(t, uint32(5), u32At(body, 4))
	require.Equal(t, int32(netresult.Success), int32(u32At(body, 8)))
	require.Equal(t, uint32(918), u32At(body, 12))
}

func TestManifestBuildIDGate(t *testing.T) {
	s := &Server{DataRoot: t.TempDir(), BuildID: 918}
	conn := dialFile(t, s)

	sendFrame(t, conn, cli2FileManifestRequest, uint32(3), fixed260("Thin_External"), uint32(42))
	body := readFrame(t, conn)
	require.Equal(t, file2CliManifestReply, u32At(body, 0))
	require.Equal(t, uint32(3), u32At(body, 4))
	require.Equal(t, int32(netresult.OldBuildId), int32(u32At(body, 8)))
	require.Equal(t, uint32(0), u32At(body, 12)) // reader id
	require.Equal(t, uint32(0), u32At(body, 16)) // zero files
}

func TestManifestNameCharsetFilter(t *testing.T) {
	s := &Server{DataRoot: t.TempDir(), BuildID: 918}
	conn := dialFile(t, s)

	for _, name := range []string{"../secret", `..\secret`, "a:b", "thin.external", ""} {
		sendFrame(t, conn, cli2FileManifestRequest, uint32(4), fixed260(name), uint32(0))
		body := readFrame(t, conn)
		assert.Equal(t, int32(netresult.FileNotFound), int32(u32At(body, 8)), "name %q", name)
	}
}

func TestManifestServedFromCache(t *testing.T) {
	root := t.TempDir()
	m := &manifest.Manifest{Name: "Thin_External", Files: []manifest.FileInfo{
		{
			ClientPath: `dat\file.prp`, DownloadPath: `dat\file.prp.gz`,
			FileMD5: "00112233445566778899aabbccddeeff", DownloadMD5: "ffeeddccbbaa99887766554433221100",
			FileSize: 1000, DownloadSize: 500, Flags: manifest.FlagGzipped,
		},
		{ClientPath: "gone.prp", Deleted: true},
	}}
	f, err := os.Create(filepath.Join(root, "Thin_External.mfs_cache"))
	require.NoError(t, err)
	require.NoError(t, manifest.WriteCache(f, m))
	require.NoError(t, f.Close())

	s := &Server{DataRoot: root, BuildID: 918}
	conn := dialFile(t, s)

	sendFrame(t, conn, cli2FileManifestRequest, uint32(6), fixed260("Thin_External"), uint32(918))
	body := readFrame(t, conn)
	require.Equal(t, file2CliManifestReply, u32At(body, 0))
	require.Equal(t, uint32(6), u32At(body, 4))
	require.Equal(t, int32(netresult.Success), int32(u32At(body, 8)))
	require.Equal(t, uint32(0), u32At(body, 12), "first flow gets reader id 0")
	require.Equal(t, uint32(1), u32At(body, 16), "deleted entries are omitted")

	// A second manifest flow advances the reader id.
	sendFrame(t, conn, cli2FileManifestRequest, uint32(7), fixed260("Thin_External"), uint32(0))
	body = readFrame(t, conn)
	require.Equal(t, uint32(1), u32At(body, 12))
}

func TestDownloadStreamsChunks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dat"), 0o755))
	content := make([]byte, fileChunkSize+16)
	for i := range content {
		content[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "dat", "file.prp"), content, 0o644))

	s := &Server{DataRoot: root, BuildID: 918}
	conn := dialFile(t, s)

	sendFrame(t, conn, cli2FileDownloadRequest, uint32(9), fixed260(`dat\file.prp`), uint32(0))

	var got []byte
	for len(got) < len(content) {
		body := readFrame(t, conn)
		require.Equal(t, file2CliFileDownloadReply, u32At(body, 0))
		require.Equal(t, uint32(9), u32At(body, 4))
		require.Equal(t, int32(netresult.Success), int32(u32At(body, 8)))
		require.Equal(t, uint32(0), u32At(body, 12)) // reader id
		require.Equal(t, uint32(len(content)), u32At(body, 16))
		n := u32At(body, 20)
		got = append(got, body[24:24+n]...)
	}
	require.Equal(t, content, got)
}

func TestDownloadRejectsTraversal(t *testing.T) {
	s := &Server{DataRoot: t.TempDir(), BuildID: 918}
	conn := dialFile(t, s)

	for _, name := range []string{`..\secret`, `dat\..\..\secret`, `c:\windows`, ""} {
		sendFrame(t, conn, cli2FileDownloadRequest, uint32(8), fixed260(name), uint32(0))
		body := readFrame(t, conn)
		assert.Equal(t, int32(netresult.FileNotFound), int32(u32At(body, 8)), "name %q", name)
	}
}

func TestBuildIDUpdateFrameLayout(t *testing.T) {
	body := buildIDUpdate(919)
	require.Equal(t, file2CliBuildIDUpdate, u32At(body, 0))
	require.Equal(t, uint32(919), u32At(body, 4))
}

func TestResolveDownload(t *testing.T) {
	root := "/srv/data"
	path, ok := resolveDownload(root, `dat\file.prp`)
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "dat", "file.prp"), path)

	path, ok = resolveDownload(root, `dat\file.prp.gz`)
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "dat", "file.prp.gz"), path)

	_, ok = resolveDownload(root, `..\file.prp`)
	require.False(t, ok)
	_, ok = resolveDownload(root, `dat\..\..\x`)
	require.False(t, ok)
	_, ok = resolveDownload(root, `c:\x`)
	require.False(t, ok)
}
