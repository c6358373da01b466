package fat

import (
	"io"
	"reflect"

	"github.com/dsoprea/go-logging"
	"github.com/spf13/afero"
)

//go:generate mockgen -source=source.go -destination=mock_source_test.go -package=fat

// Source is a random-access view of a raw volume image.
type Source interface {
	ReadAt(p []byte, off int64) (n int, err error)
	Size() int64
}

// FileSource is a Source backed by a file on an afero filesystem.
type FileSource struct {
	f    afero.File
	size int64
}

// NewFileSource opens the given image on the given filesystem. Use
// `afero.NewOsFs()` for real files.
func NewFileSource(fs afero.Fs, filepath string) (fileSource *FileSource, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	f, err := fs.Open(filepath)
	log.PanicIf(err)

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		log.PanicIf(err)
	}

	fileSource = &FileSource{
		f:    f,
		size: fi.Size(),
	}

	return fileSource, nil
}

// ReadAt reads from the image at the given absolute offset.
func (fs *FileSource) ReadAt(p []byte, off int64) (n int, err error) {
	return fs.f.ReadAt(p, off)
}

// Size returns the size of the image in bytes.
func (fs *FileSource) Size() int64 {
	return fs.size
}

// Close closes the underlying file.
func (fs *FileSource) Close() error {
	return fs.f.Close()
}

// readExact reads exactly `length` bytes at `offset` or panics with
// ErrShortRead. Any other I/O failure is passed through.
func readExact(source Source, offset int64, length int) []byte {
	if offset < 0 || offset+int64(length) > source.Size() {
		log.PanicIf(newOffsetError(ErrShortRead, offset))
	}

	data := make([]byte, length)

	n, err := source.ReadAt(data, offset)
	if n == length {
		// io.ReaderAt may return io.EOF alongside a full read at the very end
		// of the image.
		return data
	}

	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		log.PanicIf(newOffsetError(ErrShortRead, offset))
	}

	log.PanicIf(err)
	return nil
}
