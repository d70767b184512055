package submission

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vsoportal/internal/models"
)

// gatedFile blocks Open until wait is closed and closes done once read.
type gatedFile struct {
	File
	wait <-chan struct{}
	done chan struct{}
}

func (g *gatedFile) Open() (io.ReadCloser, error) {
	if g.wait != nil {
		<-g.wait
	}
	rc, err := g.File.Open()
	close(g.done)
	return rc, err
}

type failingFile struct {
	File
}

func (failingFile) Open() (io.ReadCloser, error) {
	return nil, errors.New("disk on fire")
}

func TestDisplayNamesCountPerTypeAcrossGroups(t *testing.T) {
	sels := []Selection{
		{Type: models.DocumentVSO, Files: []File{NewMemoryFile("a.pdf", "", nil), NewMemoryFile("b.pdf", "", nil)}},
		{Type: models.DocumentLoonstrook, Files: []File{NewMemoryFile("c.pdf", "", nil)}},
		{Type: models.DocumentVSO, Files: []File{NewMemoryFile("d.pdf", "", nil)}},
	}
	assert.Equal(t, []string{"VSO", "VSO (1)", "Loonstrook", "VSO (2)"}, DisplayNames(sels))
}

func TestEncodeKeepsSelectionOrder(t *testing.T) {
	cDone := make(chan struct{})
	a := &gatedFile{File: NewMemoryFile("A.pdf", "application/pdf", []byte("alpha")), wait: cDone, done: make(chan struct{})}
	b := &gatedFile{File: NewMemoryFile("B.pdf", "application/pdf", []byte("bravo")), wait: cDone, done: make(chan struct{})}
	c := &gatedFile{File: NewMemoryFile("C.png", "image/png", []byte("charlie")), done: cDone}

	docs, err := Encode(context.Background(), []Selection{
		{Type: "type1", Files: []File{a, b}},
		{Type: "type2", Files: []File{c}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "type1", docs[0].Name)
	assert.Equal(t, "A.pdf", docs[0].OriginalName)
	assert.Equal(t, "type1 (1)", docs[1].Name)
	assert.Equal(t, "B.pdf", docs[1].OriginalName)
	assert.Equal(t, "type2", docs[2].Name)
	assert.Equal(t, "C.png", docs[2].OriginalName)
	assert.Equal(t, models.DocumentType("type2"), docs[2].Type)
	assert.Equal(t, "image/png", docs[2].MimeType)

	raw, err := base64.StdEncoding.DecodeString(docs[1].FileContent)
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(raw))
}

func TestEncodeStripsDataURIPrefix(t *testing.T) {
	f, err := NewDataURIFile("scan.pdf", "data:application/pdf;base64,SGVsbG8=")
	require.NoError(t, err)

	docs, err := Encode(context.Background(), []Selection{{Type: models.DocumentOverig, Files: []File{f}}})
	require.NoError(t, err)
	assert.Equal(t, "SGVsbG8=", docs[0].FileContent)
	assert.Equal(t, "application/pdf", docs[0].MimeType)
}

func TestEncodeFailsFastOnReadError(t *testing.T) {
	ok := NewMemoryFile("ok.pdf", "", []byte("fine"))
	bad := failingFile{File: NewMemoryFile("bad.pdf", "", nil)}

	docs, err := Encode(context.Background(), []Selection{
		{Type: models.DocumentVSO, Files: []File{ok, bad, ok}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.pdf")
	assert.Nil(t, docs)
}

func TestEncodeHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Encode(ctx, []Selection{{Type: models.DocumentVSO, Files: []File{NewMemoryFile("a.pdf", "", []byte("x"))}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitDataURI(t *testing.T) {
	cases := []struct {
		in       string
		mime     string
		payload  string
		wantFail bool
	}{
		{in: "data:image/png;base64,AAAA", mime: "image/png", payload: "AAAA"},
		{in: "QUJD", payload: "QUJD"},
		{in: "data:image/png,AAAA", wantFail: true},
		{in: "data:image/png;base64", wantFail: true},
		{in: "  ", wantFail: true},
	}
	for _, tc := range cases {
		mime, payload, err := splitDataURI(tc.in)
		if tc.wantFail {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.mime, mime)
		assert.Equal(t, tc.payload, payload)
	}
}

func TestNewDataURIFileDecodesPayload(t *testing.T) {
	f, err := NewDataURIFile("vso.pdf", "data:application/pdf;base64,SGVs\r\nbG8=")
	require.NoError(t, err)
	assert.EqualValues(t, 5, f.Size())
	docs, err := Encode(context.Background(), []Selection{{Type: models.DocumentVSO, Files: []File{f}}})
	require.NoError(t, err)
	assert.Equal(t, "SGVsbG8=", docs[0].FileContent)

	for _, uri := range []string{
		"data:application/pdf;base64,@@not*base64@@",
		"data:application/pdf;base64,SGVsbG8",
		"QUJ",
	} {
		_, err := NewDataURIFile("vso.pdf", uri)
		assert.ErrorIs(t, err, ErrInvalidBase64, uri)
	}
}

func TestResolveMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", resolveMimeType("x.PDF", ""))
	assert.Equal(t, "image/jpeg", resolveMimeType("x.jpg", "image/jpeg"))
	assert.Equal(t, "application/pdf", resolveMimeType("x.pdf", "application/octet-stream"))
	assert.Equal(t, "application/octet-stream", resolveMimeType("noext", ""))
}
