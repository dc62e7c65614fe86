package object

import (
	"bytes"
	"io"
	"testing"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/stretchr/testify/require"
)

// TestCommitRoundTrip exercises P1: deserialize(serialize(V)) == V and the
// hash of the serialization is stable across repeated encodes.
func TestCommitRoundTrip(t *testing.T) {
	c := &CommitRecord{
		Metadata:  Metadata{"rfsdb.origin": StringVariant("seed")},
		Parent:    checksum.Zero,
		Related:   nil,
		Subject:   "e",
		Body:      "",
		Timestamp: 0,
		Tree:      checksum.OfBytes([]byte("tree")),
		DirMeta:   checksum.OfBytes([]byte("dirmeta")),
	}
	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	h1, err := Hash(c)
	require.NoError(t, err)

	var buf2 bytes.Buffer
	require.NoError(t, c.Encode(&buf2))
	h2, err := Hash(c)
	require.NoError(t, err)
	require.Equal(t, h1, h2, "hash must be stable across repeated encodes")
	require.True(t, bytes.Equal(buf.Bytes(), buf2.Bytes()))

	got, err := DecodeCommit(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, c.Subject, got.Subject)
	require.Equal(t, c.Tree, got.Tree)
	require.Equal(t, c.DirMeta, got.DirMeta)
	require.True(t, got.Parent.IsZero())
}

func TestCommitWithParentAndRelated(t *testing.T) {
	parent := checksum.OfBytes([]byte("parent"))
	related := checksum.OfBytes([]byte("related"))
	c := &CommitRecord{
		Parent:    parent,
		Related:   []checksum.Checksum{related},
		Subject:   "second",
		Body:      "body\ntext\n",
		Timestamp: 1700000000,
		Tree:      checksum.OfBytes([]byte("tree2")),
		DirMeta:   checksum.OfBytes([]byte("dirmeta2")),
	}
	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	got, err := DecodeCommit(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, parent, got.Parent)
	require.Equal(t, []checksum.Checksum{related}, got.Related)
	require.Equal(t, c.Body, got.Body)
}

func TestDirTreeRoundTripAndCanonicalOrder(t *testing.T) {
	tr := &DirTreeRecord{
		Files: []FileEntry{
			{Name: "zeta.txt", File: checksum.OfBytes([]byte("z"))},
			{Name: "alpha.txt", File: checksum.OfBytes([]byte("a"))},
		},
		Dirs: []DirEntry{
			{Name: "sub-z", Tree: checksum.OfBytes([]byte("tz")), DirMeta: checksum.OfBytes([]byte("mz"))},
			{Name: "sub-a", Tree: checksum.OfBytes([]byte("ta")), DirMeta: checksum.OfBytes([]byte("ma"))},
		},
	}
	tr.Canonicalize()
	require.Equal(t, "alpha.txt", tr.Files[0].Name)
	require.Equal(t, "zeta.txt", tr.Files[1].Name)
	require.Equal(t, "sub-a", tr.Dirs[0].Name)

	var buf bytes.Buffer
	require.NoError(t, tr.Encode(&buf))
	got, err := DecodeDirTree(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, tr.Files, got.Files)
	require.Equal(t, tr.Dirs, got.Dirs)
}

func TestDirTreeRejectsBadFilenames(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b", "a\x00b"} {
		tr := &DirTreeRecord{Files: []FileEntry{{Name: name}}}
		var buf bytes.Buffer
		require.Error(t, tr.Encode(&buf))
	}
}

func TestDirMetaRoundTrip(t *testing.T) {
	m := &DirMetaRecord{
		UID:    1000,
		GID:    1000,
		Mode:   0755,
		XAttrs: XAttrs{"user.foo": []byte("bar")},
	}
	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))
	got, err := DecodeDirMeta(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, m.UID, got.UID)
	require.Equal(t, m.Mode, got.Mode)
	require.Equal(t, []byte("bar"), got.XAttrs["user.foo"])
}

func TestArchiveFileRoundTrip(t *testing.T) {
	h := &FileHeader{
		Size:          3,
		UID:           0,
		GID:           0,
		Mode:          0644,
		SymlinkTarget: "",
		XAttrs:        nil,
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeArchiveFile(&buf, h, bytes.NewReader([]byte("hi\n"))))

	gotH, rc, err := DecodeArchiveFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer rc.Close()
	require.Equal(t, h.Mode, gotH.Mode)
	content := make([]byte, 3)
	_, err = io.ReadFull(rc, content)
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(content))
}

func TestTrailingBytesRejected(t *testing.T) {
	m := &DirMetaRecord{Mode: 0644}
	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))
	buf.WriteByte(0xFF)
	_, err := DecodeDirMeta(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, ErrTrailingBytes)
}
