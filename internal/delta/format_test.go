package delta

import (
	"bytes"
	"testing"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/stretchr/testify/require"
)

func TestSuperblockRoundTrip(t *testing.T) {
	sb := &Superblock{
		Metadata:  object.Metadata{"rfsdb.generator": object.StringVariant("test")},
		Timestamp: 1700000000,
		From:      checksum.Zero,
		To:        checksum.OfBytes([]byte("to-commit")),
		ToCommit: &object.CommitRecord{
			Subject: "hello",
			Tree:    checksum.OfBytes([]byte("tree")),
			DirMeta: checksum.OfBytes([]byte("dirmeta")),
		},
		Parts: []PartHeader{
			{
				Checksum:         checksum.OfBytes([]byte("part0")),
				CompressedSize:   10,
				UncompressedSize: 20,
				Objects: []PartObject{
					{Kind: object.File, Checksum: checksum.OfBytes([]byte("f1"))},
				},
			},
		},
		Fallback: []FallbackEntry{
			{Kind: object.File, Checksum: checksum.OfBytes([]byte("big")), CompressedSize: 100, UncompressedSize: 200},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSuperblock(&buf, sb))

	got, err := ReadSuperblock(&buf)
	require.NoError(t, err)
	require.Equal(t, sb.Timestamp, got.Timestamp)
	require.Equal(t, sb.To, got.To)
	require.Equal(t, sb.ToCommit.Subject, got.ToCommit.Subject)
	require.Len(t, got.Parts, 1)
	require.Equal(t, sb.Parts[0].Objects, got.Parts[0].Objects)
	require.Len(t, got.Fallback, 1)
}

func TestOperationStreamRoundTrip(t *testing.T) {
	ops := []Op{
		{Offset: 0, Size: 3},
		{Close: true},
		{Offset: 3, Size: 9000},
		{Close: true},
	}
	encoded := EncodeOperationStream(ops)
	decoded, err := DecodeOperationStream(encoded)
	require.NoError(t, err)
	require.Equal(t, ops, decoded)
}

func TestPartFileRoundTripNoCompression(t *testing.T) {
	payload := &PartPayload{
		Bytes: []byte("hello worldfoo"),
		Ops: []Op{
			{Offset: 0, Size: 11},
			{Close: true},
			{Offset: 11, Size: 3},
			{Close: true},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WritePartFile(&buf, CompressionNone, payload))

	got, err := ReadPartFile(&buf)
	require.NoError(t, err)
	require.Equal(t, payload.Bytes, got.Bytes)
	require.Equal(t, payload.Ops, got.Ops)
}

func TestPartFileRoundTripLZMA(t *testing.T) {
	payload := &PartPayload{
		Bytes: bytes.Repeat([]byte("ABCDEFGH"), 64),
		Ops:   []Op{{Offset: 0, Size: 512}, {Close: true}},
	}
	var buf bytes.Buffer
	require.NoError(t, WritePartFile(&buf, CompressionLZMA, payload))

	got, err := ReadPartFile(&buf)
	require.NoError(t, err)
	require.Equal(t, payload.Bytes, got.Bytes)
}

func TestPartHaveAllObjects(t *testing.T) {
	present := map[checksum.Checksum]bool{checksum.OfBytes([]byte("a")): true}
	p := &PartHeader{Objects: []PartObject{{Kind: object.File, Checksum: checksum.OfBytes([]byte("a"))}}}
	require.True(t, p.PartHaveAllObjects(func(_ object.Kind, c checksum.Checksum) bool { return present[c] }))

	p2 := &PartHeader{Objects: []PartObject{{Kind: object.File, Checksum: checksum.OfBytes([]byte("b"))}}}
	require.False(t, p2.PartHaveAllObjects(func(_ object.Kind, c checksum.Checksum) bool { return present[c] }))
}
