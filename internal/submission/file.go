package submission

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

const defaultMimeType = "application/octet-stream"

// File is a selected upload whose content is read at submission time.
type File interface {
	Name() string
	MimeType() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// base64Source is implemented by files whose content already is base64 text,
// possibly still carrying a data URI prefix.
type base64Source interface {
	Base64() (string, error)
}

// disposable files own a resource that is released when they leave a draft.
type disposable interface {
	Dispose() error
}

type memoryFile struct {
	name string
	mime string
	data []byte
}

// NewMemoryFile wraps bytes already held in memory.
func NewMemoryFile(name, mimeType string, data []byte) File {
	return &memoryFile{name: name, mime: resolveMimeType(name, mimeType), data: data}
}

func (f *memoryFile) Name() string     { return f.name }
func (f *memoryFile) MimeType() string { return f.mime }
func (f *memoryFile) Size() int64      { return int64(len(f.data)) }

func (f *memoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

type diskFile struct {
	name string
	mime string
	path string
	size int64
}

// NewDiskFile refers to an upload spooled to path.
func NewDiskFile(path, name, mimeType string, size int64) File {
	return &diskFile{name: name, mime: resolveMimeType(name, mimeType), path: path, size: size}
}

func (f *diskFile) Name() string     { return f.name }
func (f *diskFile) MimeType() string { return f.mime }
func (f *diskFile) Size() int64      { return f.size }

func (f *diskFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

func (f *diskFile) Dispose() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type headerFile struct {
	fh   *multipart.FileHeader
	mime string
}

// FromFileHeader reads straight from a multipart upload. The header is only
// valid while its request is being served.
func FromFileHeader(fh *multipart.FileHeader) File {
	return &headerFile{fh: fh, mime: resolveMimeType(fh.Filename, fh.Header.Get("Content-Type"))}
}

func (f *headerFile) Name() string     { return filepath.Base(f.fh.Filename) }
func (f *headerFile) MimeType() string { return f.mime }
func (f *headerFile) Size() int64      { return f.fh.Size }

func (f *headerFile) Open() (io.ReadCloser, error) {
	return f.fh.Open()
}

type dataURIFile struct {
	name    string
	mime    string
	payload string
	size    int64
}

var (
	errMalformedDataURI = errors.New("malformed data uri")
	// ErrInvalidBase64 rejects a data uri whose payload does not decode.
	ErrInvalidBase64 = errors.New("file content is not valid base64")
)

// NewDataURIFile accepts a "data:<mime>;base64,<payload>" string as produced
// by a browser FileReader. A bare base64 payload is accepted as well. The
// payload is decoded once here so the webhook never receives broken content.
func NewDataURIFile(name, uri string) (File, error) {
	mimeType, payload, err := splitDataURI(uri)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrInvalidBase64)
	}
	return &dataURIFile{
		name:    name,
		mime:    resolveMimeType(name, mimeType),
		payload: base64.StdEncoding.EncodeToString(data),
		size:    int64(len(data)),
	}, nil
}

func (f *dataURIFile) Name() string     { return f.name }
func (f *dataURIFile) MimeType() string { return f.mime }
func (f *dataURIFile) Size() int64      { return f.size }

func (f *dataURIFile) Open() (io.ReadCloser, error) {
	return nil, errors.New("data uri files are read as base64")
}

func (f *dataURIFile) Base64() (string, error) {
	return f.payload, nil
}

// splitDataURI separates the declared mime type from the payload.
func splitDataURI(uri string) (mimeType, payload string, err error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "data:") {
		if uri == "" {
			return "", "", errMalformedDataURI
		}
		return "", uri, nil
	}
	header, payload, ok := strings.Cut(uri, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", "", errMalformedDataURI
	}
	mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	return mimeType, payload, nil
}

// StripDataURIPrefix drops a leading "data:<mime>;base64," if present.
func StripDataURIPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, payload, ok := strings.Cut(s, ","); ok {
		return payload
	}
	return s
}

func resolveMimeType(name, declared string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != defaultMimeType {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	if declared != "" {
		return declared
	}
	return defaultMimeType
}
