package files

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Server streams backend files over HTTP with integrity headers and an
// optional bandwidth cap.
type Server struct {
	backend       Backend
	bandwidthMbps float64
}

// NewServer wraps a backend for HTTP serving. bandwidthMbps of zero means
// unlimited.
func NewServer(backend Backend, bandwidthMbps float64) *Server {
	return &Server{backend: backend, bandwidthMbps: bandwidthMbps}
}

// List enumerates a directory on the backing store.
func (s *Server) List(path string) ([]FileInfo, error) {
	infos, err := s.backend.List(path)
	if err != nil {
		return nil, err
	}
	if infos == nil {
		infos = []FileInfo{}
	}
	return infos, nil
}

// ServeFile streams path to the client. The sha256 checksum is computed
// first so the response can carry an ETag and X-Checksum-SHA256 header;
// installers use it to verify downloaded artifacts.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string) {
	sum, err := s.checksum(path)
	if err != nil {
		if err == ErrFileNotFound {
			http.NotFound(w, r)
			return
		}
		log.Error().Err(err).Str("path", path).Msg("Failed to checksum file")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	etag := fmt.Sprintf(`"sha256:%s"`, sum)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	reader, info, err := s.backend.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer reader.Close()

	w.Header().Set("ETag", etag)
	w.Header().Set("X-Checksum-SHA256", sum)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))

	var src io.Reader = reader
	if s.bandwidthMbps > 0 {
		src = newThrottledReader(reader, s.bandwidthMbps)
	}
	if _, err := io.Copy(w, src); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("File stream interrupted")
	}
}

func (s *Server) checksum(path string) (string, error) {
	reader, _, err := s.backend.Open(path)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	h := sha256.New()
	if _, err := io.Copy(h, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// throttledReader limits throughput to roughly the configured rate by
// sleeping between chunks.
type throttledReader struct {
	r              io.Reader
	bytesPerSecond float64
	start          time.Time
	read           int64
}

func newThrottledReader(r io.Reader, mbps float64) *throttledReader {
	return &throttledReader{
		r:              r,
		bytesPerSecond: mbps * 1_000_000 / 8,
		start:          time.Now(),
	}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.read += int64(n)

	expected := time.Duration(float64(t.read) / t.bytesPerSecond * float64(time.Second))
	if elapsed := time.Since(t.start); elapsed < expected {
		time.Sleep(expected - elapsed)
	}
	return n, err
}
