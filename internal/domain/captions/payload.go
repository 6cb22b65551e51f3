package captions

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Payload is an uploadable video body.
type Payload interface {
	Filename() string
	Size() int64
	ReadAll() ([]byte, error)
}

type streamPayload struct {
	name string
	size int64
	r    io.Reader
}

// NewStreamPayload wraps a caller-supplied stream. It can be read once. A
// negative size means the length is unknown: the stream is read to EOF and
// Size reports what was read.
func NewStreamPayload(name string, size int64, r io.Reader) Payload {
	return &streamPayload{name: name, size: size, r: r}
}

func (p *streamPayload) Filename() string { return p.name }
func (p *streamPayload) Size() int64      { return p.size }

func (p *streamPayload) ReadAll() ([]byte, error) {
	if p.size < 0 {
		b, err := io.ReadAll(p.r)
		if err != nil {
			return nil, err
		}
		p.size = int64(len(b))
		return b, nil
	}
	b, err := io.ReadAll(io.LimitReader(p.r, p.size+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) != p.size {
		return nil, fmt.Errorf("payload %s: read %d bytes, want %d", p.name, len(b), p.size)
	}
	return b, nil
}

type bufferPayload struct {
	name string
	data []byte
}

func NewBufferPayload(name string, data []byte) Payload {
	return &bufferPayload{name: name, data: data}
}

// LoadFile reads path into memory.
func LoadFile(path string) (Payload, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewBufferPayload(filepath.Base(path), b), nil
}

func (p *bufferPayload) Filename() string         { return p.name }
func (p *bufferPayload) Size() int64              { return int64(len(p.data)) }
func (p *bufferPayload) ReadAll() ([]byte, error) { return p.data, nil }

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
}

func ContentType(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "video/mp4"
}
