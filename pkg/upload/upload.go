// Package upload validates Lua source uploads arriving as multipart forms.
package upload

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	// DefaultMaxBytes caps uploaded and inline source size.
	DefaultMaxBytes int64 = 40000

	// AllowedExtension is the only accepted upload extension, compared case-insensitively.
	AllowedExtension = ".lua"

	// FileField and PresetField are the recognised multipart field names.
	FileField   = "file"
	PresetField = "preset"

	// multipartOverhead bounds everything in the body that is not file content.
	multipartOverhead int64 = 64 << 10
	maxFieldBytes     int64 = 1 << 10
)

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrMalformedForm       = errors.New("malformed multipart form")
	ErrTooManyFiles        = errors.New("more than one file uploaded")
)

// SizeLimitError reports an upload that exceeded the byte limit.
type SizeLimitError struct {
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("file too large: maximum size is %d bytes", e.Limit)
}

func (e *SizeLimitError) Is(target error) bool {
	return target == ErrFileTooLarge
}

// ExtensionError reports an upload whose filename does not end in .lua.
type ExtensionError struct {
	Filename string
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("only %s files are allowed, got %q", AllowedExtension, e.Filename)
}

func (e *ExtensionError) Is(target error) bool {
	return target == ErrExtensionNotAllowed
}

// File is an accepted upload. Data is exactly what the client sent.
type File struct {
	Name string
	Data []byte
}

// Form is the decoded content of an obfuscation upload.
type Form struct {
	File   *File
	Preset string
}

// Validator enforces the extension and size constraints.
type Validator struct {
	MaxBytes int64
}

// NewValidator returns a validator with the given cap; non-positive values
// select DefaultMaxBytes.
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{MaxBytes: maxBytes}
}

// CheckFilename rejects names whose extension is not .lua.
func (v *Validator) CheckFilename(name string) error {
	if !strings.EqualFold(filepath.Ext(name), AllowedExtension) {
		return &ExtensionError{Filename: name}
	}
	return nil
}

// Read checks name and reads at most MaxBytes from r.
func (v *Validator) Read(name string, r io.Reader) (*File, error) {
	if err := v.CheckFilename(name); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, v.MaxBytes+1))
	if err != nil {
		return nil, v.transportError(err)
	}
	if int64(len(data)) > v.MaxBytes {
		return nil, &SizeLimitError{Limit: v.MaxBytes}
	}

	return &File{Name: name, Data: data}, nil
}

// ReadMultipart streams the multipart body of r. The file is held in memory
// only; nothing is written to disk. A request that is not multipart yields an
// empty form so callers report the missing file.
func (v *Validator) ReadMultipart(w http.ResponseWriter, r *http.Request) (*Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, v.MaxBytes+multipartOverhead)

	form := &Form{}
	mr, err := r.MultipartReader()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return form, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedForm, err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return form, nil
		}
		if err != nil {
			return nil, v.transportError(err)
		}

		err = v.readPart(form, part.FormName(), part.FileName(), part)
		part.Close()
		if err != nil {
			return nil, err
		}
	}
}

func (v *Validator) readPart(form *Form, field, filename string, r io.Reader) error {
	switch {
	case field == FileField && filename != "":
		if form.File != nil {
			return ErrTooManyFiles
		}
		f, err := v.Read(filename, r)
		if err != nil {
			return err
		}
		form.File = f

	case field == PresetField:
		value, err := io.ReadAll(io.LimitReader(r, maxFieldBytes+1))
		if err != nil {
			return v.transportError(err)
		}
		if int64(len(value)) > maxFieldBytes {
			return fmt.Errorf("%w: field %q too long", ErrMalformedForm, PresetField)
		}
		form.Preset = string(value)

	default:
		if _, err := io.Copy(io.Discard, r); err != nil {
			return v.transportError(err)
		}
	}
	return nil
}

// transportError maps body read failures, surfacing the body cap as a size error.
func (v *Validator) transportError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &SizeLimitError{Limit: v.MaxBytes}
	}
	return fmt.Errorf("%w: %v", ErrMalformedForm, err)
}
