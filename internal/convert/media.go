package convert

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/edgard/polaris-bridge/internal/platform"
)

// mediaStore turns downloaded media into a content locator.
type mediaStore struct {
	dir string
}

// save returns the absolute path of the saved file when a media directory is
// configured and the platform returned bytes. Otherwise it falls back to the
// platform reference, then the URL and then the filename.
func (s mediaStore) save(m platform.Media) (string, error) {
	if s.dir == "" || len(m.Data) == 0 {
		switch {
		case m.Ref != "":
			return m.Ref, nil
		case m.URL != "":
			return m.URL, nil
		}
		return m.Filename, nil
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}
	path := filepath.Join(s.dir, uuid.NewString()+extension(m))
	if err := os.WriteFile(path, m.Data, 0o640); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve media path: %w", err)
	}
	return abs, nil
}

func extension(m platform.Media) string {
	if ext := filepath.Ext(m.Filename); ext != "" {
		return ext
	}
	if m.MIME != "" {
		if mt := mimetype.Lookup(m.MIME); mt != nil {
			return mt.Extension()
		}
	}
	return mimetype.Detect(m.Data).Extension()
}
