// Package file implements the unencrypted file sub-protocol: build-id
// gating, cached manifest replies, and chunked raw file downloads. Frames
// are length-prefixed, unlike the auth/gate message streams.
package file

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/nimue-net/uruserver/internal/codec/netio"
	"github.com/nimue-net/uruserver/internal/manifest"
	"github.com/nimue-net/uruserver/internal/netresult"
	"github.com/nimue-net/uruserver/internal/protocol"
)

// serviceHeaderSize is the File service header: u32 size=12, u32 build
// id, u32 server type, all discarded.
const serviceHeaderSize = 12

// fileChunkSize is how much of a file each FileDownloadReply carries.
const fileChunkSize = 64 * 1024

// maxFrameSize bounds a single inbound frame; the largest legal request
// (a download with its 260-unit filename) is far below this.
const maxFrameSize = 4096

// Client -> server message ids.
const (
	cli2FilePingRequest      uint32 = 0
	cli2FileBuildIDRequest   uint32 = 10
	cli2FileManifestRequest  uint32 = 20
	cli2FileDownloadRequest  uint32 = 21
	cli2FileManifestEntryAck uint32 = 22
	cli2FileDownloadChunkAck uint32 = 23
)

// Server -> client message ids.
const (
	file2CliPingReply         uint32 = 0
	file2CliBuildIDReply      uint32 = 10
	file2CliBuildIDUpdate     uint32 = 11
	file2CliManifestReply     uint32 = 20
	file2CliFileDownloadReply uint32 = 21
)

var chunkPool = netio.NewBytePool(fileChunkSize)

// Server handles File connections.
type Server struct {
	DataRoot string
	BuildID  uint32
}

// HandleConn runs the file protocol over conn until the client
// disconnects or ctx is cancelled.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn, _ protocol.Header) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := skipServiceHeader(conn); err != nil {
		slog.Debug("file: bad service header", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	// The reader id is monotonic per client, starting at 0: each manifest
	// or download flow gets the next value so acks can name their flow.
	w := &worker{srv: s, conn: conn, remote: conn.RemoteAddr()}
	for {
		if err := w.handleFrame(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				slog.Debug("file: client disconnected", "remote", conn.RemoteAddr())
			} else {
				slog.Warn("file: dropping client", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}
	}
}

func skipServiceHeader(r io.Reader) error {
	var buf [serviceHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("reading service header: %w", err)
	}
	size := binary.LittleEndian.Uint32(buf[:4])
	if size != serviceHeaderSize {
		return fmt.Errorf("service header size %d, want %d", size, serviceHeaderSize)
	}
	return nil
}

type worker struct {
	srv      *Server
	conn     net.Conn
	remote   net.Addr
	readerID uint32
}

// nextReaderID hands out the flow id for a successful manifest/download
// reply and advances the counter.
func (w *worker) nextReaderID() uint32 {
	id := w.readerID
	w.readerID++
	return id
}

// handleFrame reads one length-prefixed frame and dispatches it. The
// leading u32 counts itself.
func (w *worker) handleFrame() error {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(w.conn, sizeBuf[:]); err != nil {
		return err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size < 8 || size > maxFrameSize {
		return fmt.Errorf("invalid frame size %d", size)
	}
	body := make([]byte, size-4)
	if _, err := io.ReadFull(w.conn, body); err != nil {
		return err
	}

	r := bytes.NewReader(body)
	var msgID uint32
	if err := binary.Read(r, binary.LittleEndian, &msgID); err != nil {
		return err
	}

	switch msgID {
	case cli2FilePingRequest:
		var pingTime uint32
		if err := binary.Read(r, binary.LittleEndian, &pingTime); err != nil {
			return err
		}
		return w.writeFrame(pingReply(pingTime))

	case cli2FileBuildIDRequest:
		var transID uint32
		if err := binary.Read(r, binary.LittleEndian, &transID); err != nil {
			return err
		}
		return w.writeFrame(buildIDReply(transID, netresult.Success, w.srv.BuildID))

	case cli2FileManifestRequest:
		return w.handleManifestRequest(r)

	case cli2FileDownloadRequest:
		return w.handleDownloadRequest(r)

	case cli2FileManifestEntryAck, cli2FileDownloadChunkAck:
		// Acks carry trans_id + reader_id; this server streams without
		// waiting on them.
		return nil

	default:
		return fmt.Errorf("unknown message id %d", msgID)
	}
}

func (w *worker) handleManifestRequest(r io.Reader) error {
	var transID uint32
	if err := binary.Read(r, binary.LittleEndian, &transID); err != nil {
		return err
	}
	name, err := netio.ReadFixedUTF16(r, 260)
	if err != nil {
		return err
	}
	var buildID uint32
	if err := binary.Read(r, binary.LittleEndian, &buildID); err != nil {
		return err
	}

	if buildID != 0 && buildID != w.srv.BuildID {
		slog.Warn("file: client has unexpected build id", "remote", w.remote, "build_id", buildID)
		return w.writeFrame(manifestReply(transID, netresult.OldBuildId, 0, nil))
	}

	m, ok := w.fetchManifest(name)
	if !ok {
		slog.Warn("file: unknown or invalid manifest requested", "remote", w.remote, "manifest", name)
		return w.writeFrame(manifestReply(transID, netresult.FileNotFound, 0, nil))
	}

	slog.Debug("file: served manifest", "remote", w.remote, "manifest", name, "files", len(m.Live()))
	return w.writeFrame(manifestReply(transID, netresult.Success, w.nextReaderID(), m))
}

// fetchManifest resolves <data_root>/<name>.mfs_cache, refusing anything
// path-shaped: no separators, drive colons, or dots in a manifest name.
func (w *worker) fetchManifest(name string) (*manifest.Manifest, bool) {
	if name == "" || strings.ContainsAny(name, `/\:.`) {
		return nil, false
	}
	f, err := os.Open(filepath.Join(w.srv.DataRoot, name+".mfs_cache"))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	m, err := manifest.ReadCache(f, name)
	if err != nil {
		slog.Warn("file: corrupt manifest cache", "manifest", name, "error", err)
		return nil, false
	}
	return m, true
}

func (w *worker) handleDownloadRequest(r io.Reader) error {
	var transID uint32
	if err := binary.Read(r, binary.LittleEndian, &transID); err != nil {
		return err
	}
	filename, err := netio.ReadFixedUTF16(r, 260)
	if err != nil {
		return err
	}
	var buildID uint32
	if err := binary.Read(r, binary.LittleEndian, &buildID); err != nil {
		return err
	}

	if buildID != 0 && buildID != w.srv.BuildID {
		slog.Warn("file: client has unexpected build id", "remote", w.remote, "build_id", buildID)
		return w.writeFrame(downloadReply(transID, netresult.OldBuildId, 0, 0, nil))
	}

	path, ok := resolveDownload(w.srv.DataRoot, filename)
	if !ok {
		slog.Warn("file: rejected download path", "remote", w.remote, "filename", filename)
		return w.writeFrame(downloadReply(transID, netresult.FileNotFound, 0, 0, nil))
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Warn("file: requested file missing", "remote", w.remote, "path", path)
		return w.writeFrame(downloadReply(transID, netresult.FileNotFound, 0, 0, nil))
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() || fi.Size() > int64(^uint32(0)) {
		return w.writeFrame(downloadReply(transID, netresult.InternalError, 0, 0, nil))
	}
	totalSize := uint32(fi.Size())
	readerID := w.nextReaderID()
	slog.Debug("file: serving download", "remote", w.remote, "filename", filename, "size", totalSize)

	buf := chunkPool.Get(fileChunkSize)
	defer chunkPool.Put(buf)

	sent := uint32(0)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := w.writeFrame(downloadReply(transID, netresult.Success, readerID, totalSize, buf[:n])); werr != nil {
				return werr
			}
			sent += uint32(n)
		}
		if err == io.EOF {
			if sent == 0 {
				return w.writeFrame(downloadReply(transID, netresult.Success, readerID, 0, nil))
			}
			return nil
		}
		if err != nil {
			slog.Warn("file: read failed during download", "path", path, "error", err)
			return w.writeFrame(downloadReply(transID, netresult.InternalError, readerID, 0, nil))
		}
	}
}

// resolveDownload maps a client download path (backslash-separated,
// relative) under the data root, rejecting traversal and anything
// absolute or drive-qualified.
func resolveDownload(dataRoot, filename string) (string, bool) {
	if filename == "" || strings.ContainsRune(filename, ':') {
		return "", false
	}
	native := filepath.FromSlash(strings.ReplaceAll(filename, `\`, "/"))
	if filepath.IsAbs(native) {
		return "", false
	}
	clean := filepath.Clean(native)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(dataRoot, clean), true
}

// writeFrame prepends the total length (which counts itself) and writes
// the frame in one call.
func (w *worker) writeFrame(body []byte) error {
	frame := make([]byte, 0, 4+len(body))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(4+len(body)))
	frame = append(frame, body...)
	_, err := w.conn.Write(frame)
	return err
}

func pingReply(pingTime uint32) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, file2CliPingReply)
	return binary.LittleEndian.AppendUint32(b, pingTime)
}

func buildIDReply(transID uint32, result netresult.Code, buildID uint32) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, file2CliBuildIDReply)
	b = binary.LittleEndian.AppendUint32(b, transID)
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(result)))
	return binary.LittleEndian.AppendUint32(b, buildID)
}

// buildIDUpdate is pushed to connected clients when a new build goes
// live; nothing triggers it yet but the frame is part of the protocol.
func buildIDUpdate(buildID uint32) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, file2CliBuildIDUpdate)
	return binary.LittleEndian.AppendUint32(b, buildID)
}

func manifestReply(transID uint32, result netresult.Code, readerID uint32, m *manifest.Manifest) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, file2CliManifestReply)
	b = binary.LittleEndian.AppendUint32(b, transID)
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(result)))
	b = binary.LittleEndian.AppendUint32(b, readerID)

	if m == nil {
		m = &manifest.Manifest{}
	}
	var body bytes.Buffer
	if err := manifest.WriteWire(&body, m); err != nil {
		// WriteWire only fails on writer errors, which bytes.Buffer
		// never produces.
		slog.Error("file: failed to encode manifest body", "error", err)
	}
	return append(b, body.Bytes()...)
}

func downloadReply(transID uint32, result netresult.Code, readerID, fileSize uint32, data []byte) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, file2CliFileDownloadReply)
	b = binary.LittleEndian.AppendUint32(b, transID)
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(result)))
	b = binary.LittleEndian.AppendUint32(b, readerID)
	b = binary.LittleEndian.AppendUint32(b, fileSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
