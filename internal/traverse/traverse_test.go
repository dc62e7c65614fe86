package traverse

import (
	"bytes"
	"testing"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/store"
	"github.com/stretchr/testify/require"
)

// seedRepo builds a one-file, one-directory commit: commit -> (tree,
// dirmeta); tree -> (file "hello", subdir "sub" -> (empty tree, dirmeta)).
// The root and sub dirmeta records are identical, so they share one object.
func seedRepo(t *testing.T) (*store.Store, checksum.Checksum) {
	t.Helper()
	s, err := store.New(t.TempDir(), store.Bare)
	require.NoError(t, err)

	fileCsum, err := s.WriteContent(checksum.Zero, nil, bytes.NewReader([]byte("hi\n")))
	require.NoError(t, err)

	dirMeta := &object.DirMetaRecord{Mode: 0755}
	dirMetaCsum, err := s.WriteMetadata(object.DirMeta, checksum.Zero, dirMeta)
	require.NoError(t, err)

	rootMeta := &object.DirMetaRecord{Mode: 0755}
	rootMetaCsum, err := s.WriteMetadata(object.DirMeta, checksum.Zero, rootMeta)
	require.NoError(t, err)

	tree := &object.DirTreeRecord{
		Files: []object.FileEntry{{Name: "hello", File: fileCsum}},
		Dirs:  []object.DirEntry{{Name: "sub", Tree: checksum.Zero, DirMeta: dirMetaCsum}},
	}
	// sub tree references an empty subtree: reuse an empty DirTreeRecord.
	emptySub := &object.DirTreeRecord{}
	emptySubCsum, err := s.WriteMetadata(object.DirTree, checksum.Zero, emptySub)
	require.NoError(t, err)
	tree.Dirs[0].Tree = emptySubCsum
	treeCsum, err := s.WriteMetadata(object.DirTree, checksum.Zero, tree)
	require.NoError(t, err)

	commit := &object.CommitRecord{
		Subject: "seed",
		Tree:    treeCsum,
		DirMeta: rootMetaCsum,
	}
	commitCsum, err := s.WriteMetadata(object.Commit, checksum.Zero, commit)
	require.NoError(t, err)

	return s, commitCsum
}

func TestCommitReachesAllObjects(t *testing.T) {
	s, commitCsum := seedRepo(t)

	set, err := Commit(s, commitCsum)
	require.NoError(t, err)

	// commit, root tree, dirmeta (shared by root and sub), file, sub tree (empty)
	require.Len(t, set, 5)
	require.Contains(t, set, Key{Checksum: commitCsum, Kind: object.Commit})
}

func TestNewReachableExcludesKnown(t *testing.T) {
	s, commitCsum := seedRepo(t)

	full, err := Commit(s, commitCsum)
	require.NoError(t, err)

	// Pretend everything except the commit itself is already known.
	base := Set{}
	for k := range full {
		if k.Kind != object.Commit {
			base[k] = struct{}{}
		}
	}

	delta, err := NewReachable(s, base, commitCsum)
	require.NoError(t, err)
	require.Len(t, delta, 1)
	require.Contains(t, delta, Key{Checksum: commitCsum, Kind: object.Commit})
}

func TestMissingFileObjectFails(t *testing.T) {
	s, err := store.New(t.TempDir(), store.Bare)
	require.NoError(t, err)

	dirMeta := &object.DirMetaRecord{}
	dirMetaCsum, err := s.WriteMetadata(object.DirMeta, checksum.Zero, dirMeta)
	require.NoError(t, err)

	missingFile := checksum.OfBytes([]byte("never written"))
	tree := &object.DirTreeRecord{Files: []object.FileEntry{{Name: "gone", File: missingFile}}}
	treeCsum, err := s.WriteMetadata(object.DirTree, checksum.Zero, tree)
	require.NoError(t, err)

	commit := &object.CommitRecord{Tree: treeCsum, DirMeta: dirMetaCsum}
	commitCsum, err := s.WriteMetadata(object.Commit, checksum.Zero, commit)
	require.NoError(t, err)

	_, err = Commit(s, commitCsum)
	require.True(t, store.IsNotFound(err))
}
