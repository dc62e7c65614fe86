// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpfetch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kranesystems/rfsdb/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestStreamURIReadsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/objects/ab/cdef.commit", r.URL.Path)
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f, err := New(srv.URL, false)
	require.NoError(t, err)

	rc, err := f.StreamURI(t.Context(), "objects/ab/cdef.commit")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.EqualValues(t, len("hello world"), f.BytesTransferred())
}

func TestStreamURINotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := New(srv.URL, false)
	require.NoError(t, err)

	_, err = f.StreamURI(t.Context(), "objects/missing.commit")
	require.ErrorIs(t, err, transport.ErrNotFound)
}

func TestRequestURIWithPartialFromScratch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("the quick brown fox"))
	}))
	defer srv.Close()

	f, err := New(srv.URL, false)
	require.NoError(t, err)

	tmpDir := t.TempDir()
	path, err := f.RequestURIWithPartial(t.Context(), "objects/ab/cd.filez", tmpDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(tmpDir, "objects_ab_cd.filez"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "the quick brown fox", string(data))
}

func TestRequestURIWithPartialResumes(t *testing.T) {
	const full = "the quick brown fox jumps over the lazy dog"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		require.Equal(t, "bytes=10-", rangeHdr)
		w.Header().Set("Content-Range", "bytes 10-42/43")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(full[10:]))
	}))
	defer srv.Close()

	f, err := New(srv.URL, false)
	require.NoError(t, err)

	tmpDir := t.TempDir()
	partial := partialPath(tmpDir, "objects/ab/cd.filez")
	require.NoError(t, os.WriteFile(partial, []byte(full[:10]), 0o644))

	path, err := f.RequestURIWithPartial(t.Context(), "objects/ab/cd.filez", tmpDir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, full, string(data))
}

func TestRequestURIWithPartialNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := New(srv.URL, false)
	require.NoError(t, err)

	_, err = f.RequestURIWithPartial(t.Context(), "objects/missing.commit", t.TempDir())
	require.ErrorIs(t, err, transport.ErrNotFound)
}
