package upload

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type formPart struct {
	field    string
	filename string
	content  []byte
}

func multipartRequest(t *testing.T, parts ...formPart) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.filename != "" {
			fw, err := mw.CreateFormFile(p.field, p.filename)
			require.NoError(t, err)
			_, err = fw.Write(p.content)
			require.NoError(t, err)
			continue
		}
		require.NoError(t, mw.WriteField(p.field, string(p.content)))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/obfuscate", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestNewValidator_Defaults(t *testing.T) {
	assert.Equal(t, DefaultMaxBytes, NewValidator(0).MaxBytes)
	assert.Equal(t, DefaultMaxBytes, NewValidator(-1).MaxBytes)
	assert.EqualValues(t, 10, NewValidator(10).MaxBytes)
}

func TestCheckFilename(t *testing.T) {
	v := NewValidator(0)

	for _, name := range []string{"script.lua", "SCRIPT.LUA", "a.b.Lua", "dir/x.lua"} {
		assert.NoError(t, v.CheckFilename(name), name)
	}
	for _, name := range []string{"script.txt", "script", "script.lua.txt", "script.luac", ""} {
		err := v.CheckFilename(name)
		assert.ErrorIs(t, err, ErrExtensionNotAllowed, name)
	}
}

func TestRead_SizeBoundary(t *testing.T) {
	v := NewValidator(8)

	f, err := v.Read("a.lua", strings.NewReader("12345678"))
	require.NoError(t, err)
	assert.Equal(t, "a.lua", f.Name)
	assert.Equal(t, []byte("12345678"), f.Data)

	_, err = v.Read("a.lua", strings.NewReader("123456789"))
	require.ErrorIs(t, err, ErrFileTooLarge)

	var sizeErr *SizeLimitError
	require.ErrorAs(t, err, &sizeErr)
	assert.EqualValues(t, 8, sizeErr.Limit)
}

func TestRead_ExtensionCheckedFirst(t *testing.T) {
	v := NewValidator(4)

	_, err := v.Read("script.txt", strings.NewReader("far too long for the cap"))
	assert.ErrorIs(t, err, ErrExtensionNotAllowed)
}

func TestReadMultipart_FileAndPreset(t *testing.T) {
	v := NewValidator(0)
	code := []byte("local x = 1\r\nprint(x)\n")
	req := multipartRequest(t,
		formPart{field: PresetField, content: []byte("Strong")},
		formPart{field: FileField, filename: "script.lua", content: code},
		formPart{field: "extra", content: []byte("ignored")},
	)

	form, err := v.ReadMultipart(httptest.NewRecorder(), req)
	require.NoError(t, err)
	require.NotNil(t, form.File)
	assert.Equal(t, "script.lua", form.File.Name)
	assert.Equal(t, code, form.File.Data)
	assert.Equal(t, "Strong", form.Preset)
}

func TestReadMultipart_NoFile(t *testing.T) {
	v := NewValidator(0)
	req := multipartRequest(t, formPart{field: PresetField, content: []byte("Weak")})

	form, err := v.ReadMultipart(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Nil(t, form.File)
	assert.Equal(t, "Weak", form.Preset)
}

func TestReadMultipart_NotMultipart(t *testing.T) {
	v := NewValidator(0)
	req := httptest.NewRequest(http.MethodPost, "/obfuscate", strings.NewReader(`{"code":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	form, err := v.ReadMultipart(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Nil(t, form.File)
}

func TestReadMultipart_RejectsExtension(t *testing.T) {
	v := NewValidator(0)
	req := multipartRequest(t, formPart{field: FileField, filename: "script.txt", content: []byte("print(1)")})

	_, err := v.ReadMultipart(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrExtensionNotAllowed)
}

func TestReadMultipart_FileTooLarge(t *testing.T) {
	v := NewValidator(0)
	req := multipartRequest(t, formPart{field: FileField, filename: "big.lua", content: bytes.Repeat([]byte("a"), int(DefaultMaxBytes)+1)})

	_, err := v.ReadMultipart(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestReadMultipart_BodyCapReportsSize(t *testing.T) {
	v := NewValidator(16)
	junk := bytes.Repeat([]byte("z"), int(multipartOverhead)+64)
	req := multipartRequest(t,
		formPart{field: "padding", content: junk},
		formPart{field: FileField, filename: "a.lua", content: []byte("print(1)")},
	)

	_, err := v.ReadMultipart(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestReadMultipart_TwoFiles(t *testing.T) {
	v := NewValidator(0)
	req := multipartRequest(t,
		formPart{field: FileField, filename: "a.lua", content: []byte("print(1)")},
		formPart{field: FileField, filename: "b.lua", content: []byte("print(2)")},
	)

	_, err := v.ReadMultipart(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrTooManyFiles)
}

func TestReadMultipart_PresetTooLong(t *testing.T) {
	v := NewValidator(0)
	req := multipartRequest(t, formPart{field: PresetField, content: bytes.Repeat([]byte("p"), int(maxFieldBytes)+1)})

	_, err := v.ReadMultipart(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrMalformedForm)
}
