package services

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"consenthub/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	tempDir := t.TempDir()

	storage := NewLocalStorage(tempDir, LocalFilesPrefix+"/")
	ctx := context.Background()
	content := `{"hello":"storage"}`
	key := "dsar/DSAR-1/response_1.json"
	size := int64(len(content))

	t.Run("UploadReader creates file", func(t *testing.T) {
		result, err := storage.UploadReader(ctx, strings.NewReader(content), key, "application/json", size)
		assert.NoError(t, err)
		assert.Equal(t, key, result.Key)
		assert.Equal(t, size, result.FileSize)
		assert.Equal(t, "response_1.json", result.FileName)

		_, err = os.Stat(filepath.Join(tempDir, key))
		assert.NoError(t, err)
	})

	t.Run("Get retrieves file content", func(t *testing.T) {
		reader, retrievedType, err := storage.Get(ctx, key)
		require.NoError(t, err)
		defer reader.Close()

		got, _ := io.ReadAll(reader)
		assert.Equal(t, content, string(got))
		assert.Equal(t, "application/json", retrievedType)
	})

	t.Run("Get detects MIME types by extension", func(t *testing.T) {
		assert.Equal(t, "application/pdf", contentTypeForKey("a/b.PDF"))
		assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", contentTypeForKey("x.xlsx"))
		assert.Equal(t, "application/octet-stream", contentTypeForKey("notes.txt"))
	})

	t.Run("Keys cannot escape the base directory", func(t *testing.T) {
		_, err := storage.UploadReader(ctx, strings.NewReader("x"), "../../escape.json", "application/json", 1)
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(tempDir, "escape.json"))
		assert.NoError(t, err, "traversal is folded into the base directory")

		_, err = storage.UploadReader(ctx, strings.NewReader("x"), "/", "application/json", 1)
		assert.Error(t, err)
	})

	t.Run("Signed URL points at the download route", func(t *testing.T) {
		signed, err := storage.GetSignedURL(ctx, key, time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, "/api/v1/files/"+key, signed)
	})

	t.Run("Delete removes file", func(t *testing.T) {
		err := storage.Delete(ctx, key)
		assert.NoError(t, err)

		_, err = os.Stat(filepath.Join(tempDir, key))
		assert.True(t, os.IsNotExist(err))

		assert.NoError(t, storage.Delete(ctx, key), "deleting a missing file is not an error")
	})
}

func TestGenerateResponsePackageKey(t *testing.T) {
	now := time.Unix(1709283600, 0)
	assert.Equal(t, "dsar/DSAR-1/response_1709283600.json", GenerateResponsePackageKey("DSAR-1", "json", now))
	assert.Equal(t, "dsar/DSAR-1/response_1709283600.pdf", GenerateResponsePackageKey("DSAR-1", ".pdf", now))
}

func TestNewStorageFallsBackToLocal(t *testing.T) {
	cfg := &config.Config{UploadDir: t.TempDir()}
	storage := NewStorage(context.Background(), cfg)

	_, ok := storage.(*LocalStorage)
	assert.True(t, ok)
	assert.True(t, storage.IsConfigured())
}

func TestIsConfigured(t *testing.T) {
	ls := NewLocalStorage("/tmp", LocalFilesPrefix)
	assert.True(t, ls.IsConfigured())

	r2 := &R2Storage{bucket: "test-bucket", client: nil}
	assert.False(t, r2.IsConfigured())
}
