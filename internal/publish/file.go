package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/angeloszaimis/dnslb/internal/zone"
)

// Output formats understood by FilePublisher.
const (
	FormatJSON = "json"
	FormatBind = "bind"
)

// Publisher makes a zone document available to its consumer.
type Publisher interface {
	Publish(ctx context.Context, doc *zone.Document) error
}

// ErrEmptyFile is returned when there is nothing to write.
var ErrEmptyFile = errors.New("refusing to publish an empty file")

// WriteFileAtomic writes data to a temporary file next to path and renames
// it over path. The rename only happens when the temporary file is not
// empty, and the temporary file never outlives the call.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer func() {
		if _, statErr := os.Stat(tmpName); statErr == nil {
			if rmErr := os.Remove(tmpName); rmErr != nil && err == nil {
				err = rmErr
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	info, err := os.Stat(tmpName)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return ErrEmptyFile
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// FilePublisher writes the document to a file in JSON or bind format.
type FilePublisher struct {
	path   string
	format string
	origin string
}

func NewFilePublisher(path, format, origin string) *FilePublisher {
	if format == "" {
		format = FormatJSON
	}
	return &FilePublisher{path: path, format: format, origin: origin}
}

func (f *FilePublisher) Path() string {
	return f.path
}

func (f *FilePublisher) Publish(_ context.Context, doc *zone.Document) error {
	var (
		data []byte
		err  error
	)

	switch f.format {
	case FormatJSON:
		data, err = doc.Marshal()
	case FormatBind:
		var buf bytes.Buffer
		err = doc.WriteZone(&buf, f.origin)
		data = buf.Bytes()
	default:
		err = fmt.Errorf("unknown zone format %q", f.format)
	}
	if err != nil {
		return fmt.Errorf("publish: render %s: %w", f.path, err)
	}

	if err := WriteFileAtomic(f.path, data, 0o644); err != nil {
		return fmt.Errorf("publish: write %s: %w", f.path, err)
	}
	return nil
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, doc *zone.Document) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
