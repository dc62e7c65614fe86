package apply

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/delta"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/store"
	"github.com/stretchr/testify/require"
)

// buildPart writes a two-object part (a DirMeta and a File) plus its
// superblock into dir, returning the two object checksums and the
// embedded to-commit's checksum.
func buildPart(t *testing.T, dir string, compression delta.Compression) (a, b, to checksum.Checksum) {
	t.Helper()

	aData := []byte("dirmeta-bytes-one")
	bData := []byte("file-bytes-two-longer")
	a = checksum.OfBytes(aData)
	b = checksum.OfBytes(bData)

	payload := &delta.PartPayload{
		Bytes: append(append([]byte{}, aData...), bData...),
		Ops: []delta.Op{
			{Offset: 0, Size: uint64(len(aData))},
			{Close: true},
			{Offset: uint64(len(aData)), Size: uint64(len(bData))},
			{Close: true},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, delta.WritePartFile(&buf, compression, payload))
	partBytes := buf.Bytes()
	partChecksum := checksum.OfBytes(partBytes)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "0"), partBytes, 0644))

	toCommit := &object.CommitRecord{Subject: "t", Tree: checksum.Zero, DirMeta: checksum.Zero}
	toCommitBytes, err := object.EncodeCommitBytes(toCommit)
	require.NoError(t, err)
	toChecksum := checksum.OfBytes(toCommitBytes)

	sb := &delta.Superblock{
		Metadata:  object.Metadata{},
		Timestamp: 1700000000,
		From:      checksum.Zero,
		To:        toChecksum,
		ToCommit:  toCommit,
		Parts: []delta.PartHeader{
			{
				Checksum:         partChecksum,
				CompressedSize:   uint64(len(partBytes)),
				UncompressedSize: uint64(len(payload.Bytes)),
				Objects: []delta.PartObject{
					{Kind: object.DirMeta, Checksum: a},
					{Kind: object.File, Checksum: b},
				},
			},
		},
	}

	metaFile, err := os.Create(filepath.Join(dir, "meta"))
	require.NoError(t, err)
	require.NoError(t, delta.WriteSuperblock(metaFile, sb))
	require.NoError(t, metaFile.Close())

	return a, b, toChecksum
}

func TestApplyWritesAllObjects(t *testing.T) {
	dir := t.TempDir()
	a, b, to := buildPart(t, dir, delta.CompressionNone)

	s, err := store.New(t.TempDir(), store.Bare)
	require.NoError(t, err)

	res, err := Apply(s, dir, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.PartsApplied)
	require.Equal(t, 0, res.PartsSkipped)
	require.Equal(t, 3, res.ObjectsWritten) // dirmeta + file + embedded to-commit

	require.True(t, s.HasObject(object.DirMeta, a))
	require.True(t, s.HasObject(object.File, b))
	require.True(t, s.HasObject(object.Commit, to))
}

func TestApplySkipsPartWhenAllObjectsPresent(t *testing.T) {
	dir := t.TempDir()
	aData := []byte("dirmeta-bytes-one")
	a := checksum.OfBytes(aData)

	s, err := store.New(t.TempDir(), store.Bare)
	require.NoError(t, err)
	_, err = s.WriteRawObject(object.DirMeta, a, aData)
	require.NoError(t, err)

	bData := []byte("file-bytes-two-longer")
	b := checksum.OfBytes(bData)
	_, err = s.WriteRawObject(object.File, b, bData)
	require.NoError(t, err)

	_, _, to := buildPart(t, dir, delta.CompressionNone)
	toCommit := &object.CommitRecord{Subject: "t", Tree: checksum.Zero, DirMeta: checksum.Zero}
	_, err = s.WriteMetadata(object.Commit, to, toCommit)
	require.NoError(t, err)

	res, err := Apply(s, dir, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, res.PartsApplied)
	require.Equal(t, 1, res.PartsSkipped)
	require.Equal(t, 0, res.ObjectsWritten)
}

func TestApplyRejectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	buildPart(t, dir, delta.CompressionNone)

	// Corrupt the part file in place.
	partPath := filepath.Join(dir, "0")
	data, err := os.ReadFile(partPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(partPath, data, 0644))

	s, err := store.New(t.TempDir(), store.Bare)
	require.NoError(t, err)

	_, err = Apply(s, dir, Options{})
	require.Error(t, err)
}

func TestApplySkipValidationIgnoresMismatch(t *testing.T) {
	dir := t.TempDir()
	buildPart(t, dir, delta.CompressionNone)

	partPath := filepath.Join(dir, "0")
	data, err := os.ReadFile(partPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(partPath, data, 0644))

	s, err := store.New(t.TempDir(), store.Bare)
	require.NoError(t, err)

	// The checksum mismatch itself is not reported; the flipped byte
	// (the stream's final CLOSE tag) then fails operation-stream decoding.
	_, err = Apply(s, dir, Options{SkipValidation: true})
	require.Error(t, err)
	require.ErrorIs(t, err, delta.ErrInvalidFormat)
}

func TestApplyRejectsObjectCountMismatch(t *testing.T) {
	dir := t.TempDir()
	buildPart(t, dir, delta.CompressionNone)

	metaFile, err := os.Open(filepath.Join(dir, "meta"))
	require.NoError(t, err)
	sb, err := delta.ReadSuperblock(metaFile)
	require.NoError(t, err)
	require.NoError(t, metaFile.Close())

	sb.Parts[0].Objects = append(sb.Parts[0].Objects, delta.PartObject{Kind: object.File, Checksum: checksum.OfBytes([]byte("extra"))})
	// Recompute over the unchanged part bytes, so the header/stream mismatch
	// (three objects declared, two CLOSE ops in the stream) is what fails.
	out, err := os.Create(filepath.Join(dir, "meta"))
	require.NoError(t, err)
	require.NoError(t, delta.WriteSuperblock(out, sb))
	require.NoError(t, out.Close())

	s, err := store.New(t.TempDir(), store.Bare)
	require.NoError(t, err)

	_, err = Apply(s, dir, Options{})
	require.Error(t, err)
}
