// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/delta/generate"
	"github.com/kranesystems/rfsdb/internal/gpgsign"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/repo"
	"github.com/kranesystems/rfsdb/internal/store"
	"github.com/kranesystems/rfsdb/internal/transport"
	"github.com/kranesystems/rfsdb/internal/traverse"
	"github.com/stretchr/testify/require"
)

// fsFetcher serves a source repository's own directory tree directly:
// the wire paths this package builds (objects/<xx>/…, refs/heads/<name>,
// deltas/<from>/<to>/…) are byte-identical to an archive-z2 repository's
// on-disk layout, so a real repo doubles as a fake remote with no HTTP
// server needed.
type fsFetcher struct {
	root string
	sent uint64
}

func (f *fsFetcher) StreamURI(_ context.Context, uri string) (io.ReadCloser, error) {
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(uri)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, transport.ErrNotFound
		}
		return nil, err
	}
	f.sent += uint64(len(data))
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fsFetcher) RequestURIWithPartial(_ context.Context, uri, tmpDir string) (string, error) {
	src, err := os.Open(filepath.Join(f.root, filepath.FromSlash(uri)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", transport.ErrNotFound
		}
		return "", err
	}
	defer src.Close()
	dst, err := os.CreateTemp(tmpDir, "fetch-*")
	if err != nil {
		return "", err
	}
	defer dst.Close()
	n, err := io.Copy(dst, src)
	if err != nil {
		return "", err
	}
	f.sent += uint64(n)
	return dst.Name(), nil
}

func (f *fsFetcher) BytesTransferred() uint64 { return f.sent }

func writeFile(t *testing.T, s *store.Store, content string) checksum.Checksum {
	t.Helper()
	header := &object.FileHeader{Size: int64(len(content)), Mode: 0644}
	csum, err := s.WriteContent(checksum.Zero, header, strings.NewReader(content))
	require.NoError(t, err)
	return csum
}

func writeDirMeta(t *testing.T, s *store.Store) checksum.Checksum {
	t.Helper()
	csum, err := s.WriteMetadata(object.DirMeta, checksum.Zero, &object.DirMetaRecord{Mode: 0755})
	require.NoError(t, err)
	return csum
}

func writeTree(t *testing.T, s *store.Store, files []object.FileEntry) checksum.Checksum {
	t.Helper()
	tree := &object.DirTreeRecord{Files: files}
	tree.Canonicalize()
	csum, err := s.WriteMetadata(object.DirTree, checksum.Zero, tree)
	require.NoError(t, err)
	return csum
}

// writeTreeWithSubtree wraps an existing DIR_TREE one level deeper,
// used to build a non-cyclic but over-deep chain for
// TestPullRejectsOverDeepDirTree.
func writeTreeWithSubtree(t *testing.T, s *store.Store, subtree, dirMeta checksum.Checksum) checksum.Checksum {
	t.Helper()
	tree := &object.DirTreeRecord{Dirs: []object.DirEntry{{Name: "d", Tree: subtree, DirMeta: dirMeta}}}
	tree.Canonicalize()
	csum, err := s.WriteMetadata(object.DirTree, checksum.Zero, tree)
	require.NoError(t, err)
	return csum
}

func writeCommit(t *testing.T, s *store.Store, parent, tree, dirMeta checksum.Checksum, subject string) checksum.Checksum {
	t.Helper()
	c := &object.CommitRecord{
		Parent:    parent,
		Subject:   subject,
		Timestamp: 1700000000,
		Tree:      tree,
		DirMeta:   dirMeta,
	}
	csum, err := s.WriteMetadata(object.Commit, checksum.Zero, c)
	require.NoError(t, err)
	return csum
}

// newSourceRepo builds a one-commit archive-z2 repository with a single
// tracked file, published at refs/heads/master.
func newSourceRepo(t *testing.T) (*repo.Repository, checksum.Checksum, checksum.Checksum) {
	t.Helper()
	dir := t.TempDir()
	r, err := repo.Create(dir, store.ArchiveZ2)
	require.NoError(t, err)

	s := r.Store()
	rootMeta := writeDirMeta(t, s)
	fileCsum := writeFile(t, s, "hello world\n")
	tree := writeTree(t, s, []object.FileEntry{{Name: "hello.txt", File: fileCsum}})
	commit := writeCommit(t, s, checksum.Zero, tree, rootMeta, "initial commit")

	require.NoError(t, repo.WriteRefDirect(dir, "heads/master", commit))
	return r, commit, fileCsum
}

// newDestRepo builds an empty archive-z2 repository tracking remote
// "origin" at url (a filesystem path served by fsFetcher).
func newDestRepo(t *testing.T, url string) *repo.Repository {
	t.Helper()
	dir := t.TempDir()
	r, err := repo.Create(dir, store.ArchiveZ2)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, repo.AddRemote(dir, &repo.RemoteConfig{Name: "origin", URL: url}))
	r2, err := repo.Open(dir)
	require.NoError(t, err)
	return r2
}

func TestPullFromScratch(t *testing.T) {
	src, commit, fileCsum := newSourceRepo(t)
	defer src.Close()

	dst := newDestRepo(t, src.Root())
	defer dst.Close()
	fetcher := &fsFetcher{root: src.Root()}

	res, err := Pull(context.Background(), dst, fetcher, "origin", []string{"master"}, Options{Quiet: true})
	require.NoError(t, err)
	require.Equal(t, commit, res.UpdatedRefs["master"])
	require.Positive(t, res.FetchedMetadata)
	require.Positive(t, res.FetchedContent)

	got, err := dst.ResolveRef("remotes/origin/master")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, commit, got.Checksum)

	require.True(t, dst.Store().HasObject(object.Commit, commit))
	require.True(t, dst.Store().HasObject(object.File, fileCsum))
}

func TestPullIsIdempotent(t *testing.T) {
	src, commit, _ := newSourceRepo(t)
	defer src.Close()

	dst := newDestRepo(t, src.Root())
	defer dst.Close()
	fetcher := &fsFetcher{root: src.Root()}

	_, err := Pull(context.Background(), dst, fetcher, "origin", []string{"master"}, Options{Quiet: true})
	require.NoError(t, err)

	res2, err := Pull(context.Background(), dst, fetcher, "origin", []string{"master"}, Options{Quiet: true})
	require.NoError(t, err)
	require.Empty(t, res2.UpdatedRefs, "a second pull of the same ref stages no ref update")

	got, err := dst.ResolveRef("remotes/origin/master")
	require.NoError(t, err)
	require.Equal(t, commit, got.Checksum)
}

func TestPullRawHexTargetFetchesObjectsWithoutStagingRef(t *testing.T) {
	src, commit, _ := newSourceRepo(t)
	defer src.Close()

	dst := newDestRepo(t, src.Root())
	defer dst.Close()
	fetcher := &fsFetcher{root: src.Root()}

	res, err := Pull(context.Background(), dst, fetcher, "origin", []string{commit.String()}, Options{Quiet: true})
	require.NoError(t, err)
	require.Empty(t, res.UpdatedRefs)
	require.True(t, dst.Store().HasObject(object.Commit, commit))
}

func TestPullGPGRequiredRejectsUnsignedCommit(t *testing.T) {
	src, _, _ := newSourceRepo(t)
	defer src.Close()

	dstDir := t.TempDir()
	r, err := repo.Create(dstDir, store.ArchiveZ2)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, repo.AddRemote(dstDir, &repo.RemoteConfig{Name: "origin", URL: src.Root(), GPGVerify: true}))
	dst, err := repo.Open(dstDir)
	require.NoError(t, err)
	defer dst.Close()

	fetcher := &fsFetcher{root: src.Root()}
	_, err = Pull(context.Background(), dst, fetcher, "origin", []string{"master"}, Options{Quiet: true})
	require.ErrorIs(t, err, gpgsign.ErrMissingSignatures)
}

func TestPullIncrementalUsesStaticDelta(t *testing.T) {
	src, commit1, fileCsum1 := newSourceRepo(t)
	defer src.Close()

	s := src.Store()
	rootMeta, err := s.LoadMetadata(object.Commit, commit1)
	require.NoError(t, err)

	fileCsum2 := writeFile(t, s, "second file\n")
	tree2 := writeTree(t, s, []object.FileEntry{
		{Name: "hello.txt", File: fileCsum1},
		{Name: "second.txt", File: fileCsum2},
	})
	commit2 := writeCommit(t, s, commit1, tree2, rootMeta.Commit.DirMeta, "second commit")
	require.NoError(t, repo.WriteRefDirect(src.Root(), "heads/master", commit2))

	_, err = generate.Generate(src, commit1, commit2, generate.Options{})
	require.NoError(t, err)

	dst := newDestRepo(t, src.Root())
	defer dst.Close()
	fetcher := &fsFetcher{root: src.Root()}

	// Bring the destination to commit1 first, as a prior pull would
	// have, so the second pull sees a non-zero from_revision and takes
	// the static-delta fast path instead of a from-scratch object scan.
	_, err = Pull(context.Background(), dst, fetcher, "origin", []string{commit1.String()}, Options{Quiet: true})
	require.NoError(t, err)
	require.NoError(t, repo.WriteRefDirect(dst.Root(), "remotes/origin/master", commit1))

	sentBefore := fetcher.sent
	res, err := Pull(context.Background(), dst, fetcher, "origin", []string{"master"}, Options{Quiet: true})
	require.NoError(t, err)
	require.Equal(t, commit2, res.UpdatedRefs["master"])
	require.Greater(t, fetcher.sent, sentBefore)

	require.True(t, dst.Store().HasObject(object.Commit, commit2))
	require.True(t, dst.Store().HasObject(object.File, fileCsum2))

	got, err := dst.ResolveRef("remotes/origin/master")
	require.NoError(t, err)
	require.Equal(t, commit2, got.Checksum)
}

// TestPullRejectsOverDeepDirTree covers P7: a non-cyclic but over-deep
// DIR_TREE chain, fetched from an untrusted remote, must fail
// scanMetadataObject with RecursionExceeded instead of recursing
// forever.
func TestPullRejectsOverDeepDirTree(t *testing.T) {
	srcDir := t.TempDir()
	src, err := repo.Create(srcDir, store.ArchiveZ2)
	require.NoError(t, err)
	defer src.Close()

	s := src.Store()
	rootMeta := writeDirMeta(t, s)

	tree := writeTree(t, s, nil)
	for i := 0; i < object.MaxTreeDepth+1; i++ {
		tree = writeTreeWithSubtree(t, s, tree, rootMeta)
	}
	commit := writeCommit(t, s, checksum.Zero, tree, rootMeta, "over-deep tree")
	require.NoError(t, repo.WriteRefDirect(srcDir, "heads/master", commit))

	dst := newDestRepo(t, srcDir)
	defer dst.Close()
	fetcher := &fsFetcher{root: srcDir}

	_, err = Pull(context.Background(), dst, fetcher, "origin", []string{"master"}, Options{Quiet: true})
	require.Error(t, err)
	require.True(t, traverse.IsRecursionExceeded(err), "expected RecursionExceeded, got %v", err)
}
