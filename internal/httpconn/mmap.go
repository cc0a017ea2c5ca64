package httpconn

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mmapFile is a read-only memory-mapped static file body.
type mmapFile struct {
	data []byte
}

func mmapOpen(path string) (*mmapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "httpconn: open static file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "httpconn: stat static file")
	}
	if info.IsDir() {
		return nil, errors.New("httpconn: refusing to mmap a directory")
	}
	if info.Size() == 0 {
		return &mmapFile{data: nil}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "httpconn: mmap")
	}
	return &mmapFile{data: data}, nil
}

// Close unmaps the file body. Safe to call on a nil-data mapping.
func (m *mmapFile) Close() error {
	if m == nil || m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
