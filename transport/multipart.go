package transport

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

// File is a file-like part of a multipart request.
type File struct {
	Field       string // form field name, e.g. "file"
	Filename    string
	ContentType string // defaults to application/octet-stream
	Data        []byte
}

type formField struct {
	name, value string
}

// MultipartEncoder assembles a multipart/form-data body. Fields and files
// are written in the order they were added, fields first.
type MultipartEncoder struct {
	fields []formField
	files  []File

	// newBoundary returns a boundary candidate. Tests replace it to force
	// collisions.
	newBoundary func() string
}

// NewMultipartEncoder returns an empty encoder.
func NewMultipartEncoder() *MultipartEncoder {
	return &MultipartEncoder{newBoundary: randomBoundary}
}

func randomBoundary() string {
	return "mwapi" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AddField adds a plain form field.
func (m *MultipartEncoder) AddField(name, value string) {
	m.fields = append(m.fields, formField{name, value})
}

// AddFile adds a file part.
func (m *MultipartEncoder) AddFile(f File) {
	m.files = append(m.files, f)
}

// Boundary picks a boundary that does not occur in any field name, field
// value, filename, content type or file payload.
func (m *MultipartEncoder) Boundary() string {
	for {
		b := m.newBoundary()
		if !m.collides(b) {
			return b
		}
	}
}

func (m *MultipartEncoder) collides(boundary string) bool {
	for _, f := range m.fields {
		if strings.Contains(f.name, boundary) || strings.Contains(f.value, boundary) {
			return true
		}
	}
	for _, f := range m.files {
		if strings.Contains(f.Field, boundary) ||
			strings.Contains(f.Filename, boundary) ||
			strings.Contains(f.ContentType, boundary) ||
			bytes.Contains(f.Data, []byte(boundary)) {
			return true
		}
	}
	return false
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Encode returns the body and the matching Content-Type header value.
func (m *MultipartEncoder) Encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(m.Boundary()); err != nil {
		return nil, "", fmt.Errorf("setting multipart boundary: %w", err)
	}

	for _, f := range m.fields {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(f.name)))
		h.Set("Content-Type", "text/plain; charset=UTF-8")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write([]byte(f.value)); err != nil {
			return nil, "", err
		}
	}

	for _, f := range m.files {
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(f.Field), quoteEscaper.Replace(f.Filename)))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
