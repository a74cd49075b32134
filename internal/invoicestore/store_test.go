package invoicestore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("%PDF-1.4\nsome invoice bytes")

	rec := &Record{
		PlayerID:   "alice",
		Base64Data: base64.StdEncoding.EncodeToString(payload),
		Filename:   "invoice_1030.pdf",
		FileSize:   int64(len(payload)),
		S3Metadata: S3Metadata{
			S3Key:          "invoice_1030.pdf",
			S3Size:         int64(len(payload)),
			S3LastModified: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, s.Put("1030", rec))

	// Canonical file on disk, cache in sync
	_, err := os.Stat(filepath.Join(s.Dir(), "invoice_1030.json"))
	require.NoError(t, err)
	assert.True(t, s.Has("1030"))
	assert.Equal(t, 1, s.Count())

	got, err := s.Get("1030")
	require.NoError(t, err)
	assert.Equal(t, "1030", got.InvoiceNumber)
	assert.Equal(t, "alice", got.PlayerID)
	assert.Equal(t, "invoice_1030.pdf", got.Filename)
	assert.Equal(t, int64(len(payload)), got.FileSize)
	assert.Equal(t, "invoice_1030.pdf", got.S3Metadata.S3Key)
	assert.False(t, got.SavedAt.IsZero())
	assert.False(t, got.ProcessedAt.IsZero())

	decoded, err := got.Decode()
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
	assert.Equal(t, got.FileSize, int64(len(decoded)))
}

func TestGetAcceptsLegacyFilename(t *testing.T) {
	dir := t.TempDir()

	legacy := Record{PlayerID: "bob", Base64Data: "aGVsbG8=", Filename: "404.pdf", FileSize: 5}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "404.json"), data, 0o644))

	s, err := NewStore(dir)
	require.NoError(t, err)

	got, err := s.Get("404")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.PlayerID)
	assert.Equal(t, "404", got.InvoiceNumber)
}

func TestSeedAcceptsBothShapes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "invoice_1030.json"), []byte(`{"playerId":"a"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "404.json"), []byte(`{"playerId":"b"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	s, err := NewStore(dir)
	require.NoError(t, err)

	assert.True(t, s.Has("1030"))
	assert.True(t, s.Has("404"))
	assert.Equal(t, 2, s.Count())
}

func TestPutStreamMatchesPutFormat(t *testing.T) {
	s := newTestStore(t)
	payload := bytes.Repeat([]byte("streamed-pdf-bytes "), 512)

	rec := &Record{
		PlayerID: "carol",
		Filename: "invoice_555.pdf",
		FileSize: int64(len(payload)),
		S3Metadata: S3Metadata{
			S3Key:  "invoice_555.pdf",
			S3Size: int64(len(payload)),
		},
	}
	require.NoError(t, s.PutStream("555", rec, bytes.NewReader(payload)))

	// The streamed file is plain JSON indistinguishable from the buffered path.
	raw, err := os.ReadFile(filepath.Join(s.Dir(), "invoice_555.json"))
	require.NoError(t, err)
	var onDisk Record
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, "carol", onDisk.PlayerID)

	got, err := s.Get("555")
	require.NoError(t, err)
	decoded, err := got.Decode()
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
	assert.Equal(t, int64(len(payload)), got.FileSize)
	assert.True(t, s.Has("555"))
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	rec := &Record{PlayerID: "alice", Base64Data: "aGk=", Filename: "invoice_7.pdf", FileSize: 2}
	require.NoError(t, s.Put("7", rec))
	require.True(t, s.Has("7"))

	require.NoError(t, s.Delete("7"))
	assert.False(t, s.Has("7"))
	_, err := s.Get("7")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op
	assert.NoError(t, s.Delete("7"))
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	s := newTestStore(t)
	rec := &Record{PlayerID: "alice", Base64Data: "aGk=", Filename: "invoice_9.pdf", FileSize: 2}
	require.NoError(t, s.Put("9", rec))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "invoice_9.json", entries[0].Name())
}
