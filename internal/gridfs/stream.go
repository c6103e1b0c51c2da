package gridfs

import (
	"context"
	"io"
	"io/fs"

	"github.com/prn-tf/gridfs-storage/internal/domain"
)

// Mode selects what a Stream can do.
type Mode int

const (
	// ModeRead opens an existing file for reading and seeking.
	ModeRead Mode = iota + 1

	// ModeWrite creates a file; Close completes it.
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Stream exposes a stored file as a file handle.
//
// A read stream implements io.Reader, io.Seeker and io.ReaderAt over a Download.
// A write stream implements io.Writer over an Upload and completes it on Close.
// The context given at open time is used for every store call.
type Stream struct {
	ctx      context.Context
	mode     Mode
	download *Download
	upload   *Upload
	pos      int64
	doc      *domain.FileDocument
	closed   bool
}

func newReadStream(ctx context.Context, d *Download) *Stream {
	return &Stream{ctx: ctx, mode: ModeRead, download: d}
}

func newWriteStream(ctx context.Context, u *Upload) *Stream {
	return &Stream{ctx: ctx, mode: ModeWrite, upload: u}
}

// Mode returns the mode the stream was opened in.
func (s *Stream) Mode() Mode {
	return s.mode
}

func (s *Stream) check(mode Mode) error {
	if s.closed {
		return fs.ErrClosed
	}
	if s.mode != mode {
		return domain.NewDomainError(domain.ErrInvalidMode, "stream opened for "+s.mode.String(), "")
	}
	return nil
}

// Read reads up to len(p) bytes at the current position.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.check(ModeRead); err != nil {
		return 0, err
	}

	size, err := s.download.Size(s.ctx)
	if err != nil {
		return 0, err
	}
	if s.pos >= size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	data, err := s.download.Substr(s.ctx, s.pos, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	s.pos += int64(n)
	return n, nil
}

// ReadAt reads len(p) bytes at off without moving the position.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if err := s.check(ModeRead); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, domain.NewDomainError(domain.ErrInvalidRange, "negative offset", "")
	}

	size, err := s.download.Size(s.ctx)
	if err != nil {
		return 0, err
	}
	if off >= size {
		return 0, io.EOF
	}

	data, err := s.download.Substr(s.ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek sets the position for the next Read.
// Seeking past the end is allowed; Read then reports io.EOF.
// Write streams only report their position: Seek(0, io.SeekCurrent).
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, fs.ErrClosed
	}

	if s.mode == ModeWrite {
		if offset == 0 && whence == io.SeekCurrent {
			return s.upload.BytesWritten(), nil
		}
		return 0, domain.NewDomainError(domain.ErrInvalidMode, "write streams cannot seek", "")
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		size, err := s.download.Size(s.ctx)
		if err != nil {
			return 0, err
		}
		abs = size + offset
	default:
		return 0, domain.NewDomainError(domain.ErrInvalidRange, "invalid whence", "")
	}
	if abs < 0 {
		return 0, domain.NewDomainError(domain.ErrInvalidRange, "negative position", "")
	}

	s.pos = abs
	return abs, nil
}

// Tell returns the current position.
func (s *Stream) Tell() int64 {
	if s.mode == ModeWrite {
		return s.upload.BytesWritten()
	}
	return s.pos
}

// Write appends p to the file being written.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.check(ModeWrite); err != nil {
		return 0, err
	}
	if err := s.upload.AddContent(s.ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Document returns the document of a write stream after a successful Close,
// or of the file being read.
func (s *Stream) Document() *domain.FileDocument {
	if s.mode == ModeRead {
		return s.download.doc
	}
	return s.doc
}

// Cancel abandons a write stream and deletes what it wrote.
func (s *Stream) Cancel() error {
	if s.mode != ModeWrite {
		return domain.NewDomainError(domain.ErrInvalidMode, "only write streams can be cancelled", "")
	}
	s.closed = true
	return s.upload.Cancel(s.ctx)
}

// Close completes a write stream or releases the cursor of a read stream.
// Closing twice is a no-op.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.mode == ModeWrite {
		doc, err := s.upload.Complete(s.ctx)
		if err != nil {
			return err
		}
		s.doc = doc
		return nil
	}
	return s.download.Close(s.ctx)
}

var (
	_ io.ReadSeekCloser = (*Stream)(nil)
	_ io.ReaderAt       = (*Stream)(nil)
	_ io.WriteCloser    = (*Stream)(nil)
)
