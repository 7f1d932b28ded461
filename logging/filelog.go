package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"
)

// FileSink writes log lines to a rotating file on disk and, on
// rotation, compresses the just-closed segment with LZ4 — the one
// sliver of the "LZ4 log compression" out-of-scope collaborator that
// still belongs to this process rather than an external log shipper:
// compressing a file this process just finished writing.
type FileSink struct {
	mu      sync.Mutex
	dir     string
	prefix  string
	maxSize int64

	cur  *os.File
	size int64
}

// NewFileSink opens (or creates) the active segment under dir/prefix,
// rotating to a new segment once the active one exceeds maxSize bytes.
func NewFileSink(dir, prefix string, maxSize int64) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &FileSink{dir: dir, prefix: prefix, maxSize: maxSize}
	if err := s.openActive(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) activePath() string {
	return filepath.Join(s.dir, s.prefix+".log")
}

func (s *FileSink) openActive() error {
	f, err := os.OpenFile(s.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	s.cur = f
	s.size = info.Size()
	return nil
}

// Write implements io.Writer for use as a logrus output, rotating and
// compressing the prior segment once the active one crosses maxSize.
func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSize > 0 && s.size+int64(len(p)) > s.maxSize {
		if err := s.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := s.cur.Write(p)
	s.size += int64(n)
	return n, err
}

// rotateLocked closes the active segment, renames it aside with a
// timestamp suffix, launches its LZ4 compression in the background, and
// opens a fresh active segment. Caller must hold s.mu.
func (s *FileSink) rotateLocked() error {
	if err := s.cur.Close(); err != nil {
		return err
	}

	rotated := filepath.Join(s.dir, s.prefix+"."+time.Now().UTC().Format("20060102T150405")+".log")
	if err := os.Rename(s.activePath(), rotated); err != nil {
		return err
	}
	go compressAndRemove(rotated)

	return s.openActive()
}

// compressAndRemove LZ4-compresses path into path+".lz4" and removes the
// uncompressed copy once the compressed copy is flushed. Errors are not
// fatal to the caller (rotation already succeeded); they're the caller's
// business only insofar as disk fills up, which is a System-kind failure
// surfaced on the next Write, not here.
func compressAndRemove(path string) {
	in, err := os.Open(path)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".lz4")
	if err != nil {
		return
	}

	zw := lz4.NewWriter(out)
	_, copyErr := io.Copy(zw, in)
	closeErr := zw.Close()
	_ = out.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path + ".lz4")
		return
	}
	_ = os.Remove(path)
}

// Close flushes and closes the active segment without rotating.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Close()
}
