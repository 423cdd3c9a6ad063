// Package upload stores user files on local disk under random names.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mahaj/chatrelay/pkg/apperr"
)

// URLPrefix is where the server mounts the upload directory.
const URLPrefix = "/uploads/"

var ErrTooLarge = apperr.New(apperr.Validation, "File too large")

type File struct {
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
}

type Disk struct {
	dir     string
	maxSize int64
}

func NewDisk(dir string, maxSize int64) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{dir: dir, maxSize: maxSize}, nil
}

func (d *Disk) Dir() string { return d.dir }

// Save copies r into a new file and reports what was written. The stored
// name keeps the original extension only.
func (d *Disk) Save(originalName, contentType string, r io.Reader) (*File, error) {
	originalName = filepath.Base(strings.TrimSpace(originalName))
	ext := strings.ToLower(filepath.Ext(originalName))
	if len(ext) > 16 {
		ext = ""
	}
	name := uuid.NewString() + ext
	path := filepath.Join(d.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	n, err := io.Copy(f, io.LimitReader(r, d.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > d.maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("write %s: %w", name, err)
	}

	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			contentType = byExt
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &File{
		URL:          URLPrefix + name,
		Filename:     name,
		OriginalName: originalName,
		Size:         n,
		MimeType:     contentType,
	}, nil
}

// Handler serves stored files. Directory listings are refused.
func (d *Disk) Handler() http.Handler {
	fs := http.StripPrefix(strings.TrimSuffix(URLPrefix, "/"), http.FileServer(http.Dir(d.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
