package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exporterFunc func(w io.Writer) (int, error)

func (f exporterFunc) ExportCSV(_ context.Context, w io.Writer) (int, error) {
	return f(w)
}

func TestExportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribers.csv")

	n, err := exportFile(context.Background(), exporterFunc(func(w io.Writer) (int, error) {
		_, err := io.WriteString(w, "Email,Subscribed At,Source,IP\na@b.com,2024-03-09 03:00:00,website,\n")
		return 1, err
	}), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a@b.com")
}

func TestExportFileReportsCloseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribers.csv")

	// closing early makes the final close fail
	_, err := exportFile(context.Background(), exporterFunc(func(w io.Writer) (int, error) {
		return 0, w.(*os.File).Close()
	}), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close")
}

func TestExportFileMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "subscribers.csv")
	_, err := exportFile(context.Background(), exporterFunc(func(w io.Writer) (int, error) {
		t.Fatal("exporter must not run")
		return 0, nil
	}), path)
	assert.Error(t, err)
}
