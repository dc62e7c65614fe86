// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package delta implements the static-delta binary format (§4.G): the
// superblock persisted at deltas/<from>/<to>/meta and the numbered
// part files that carry the actual object bytes.
//
// Grounded on antgroup-hugescm's modules/zeta/backend/pack/packfile.go
// for the header-then-entries binary-format shape (a fixed preamble
// followed by a table of per-entry headers), adapted from git-style
// pack framing onto this spec's superblock/part split, which has no
// git-pack equivalent of fallback entries or an embedded commit.
//
// All multi-byte integers in this format are little-endian, except the
// superblock timestamp, which is big-endian per §4.G item 2.
package delta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/object"
)

// Compression identifies a part's payload compression (§4.G).
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZMA Compression = 'x'
	CompressionGzip Compression = 'g'
)

// PartObject is one (kind, checksum) entry in a part header's object
// list or in the fallback array.
type PartObject struct {
	Kind     object.Kind
	Checksum checksum.Checksum
}

// PartHeader describes one part file (§4.G item 7).
type PartHeader struct {
	Checksum         checksum.Checksum
	CompressedSize   uint64
	UncompressedSize uint64
	Objects          []PartObject
}

// FallbackEntry describes an object too large to pack into a part,
// fetched instead as an ordinary loose object (§4.G item 8).
type FallbackEntry struct {
	Kind             object.Kind
	Checksum         checksum.Checksum
	CompressedSize   uint64
	UncompressedSize uint64
}

// Superblock is the decoded contents of a deltas/<from>/<to>/meta file.
type Superblock struct {
	Metadata  object.Metadata
	Timestamp int64 // seconds since epoch
	From      checksum.Checksum // zero for from-scratch
	To        checksum.Checksum
	ToCommit  *object.CommitRecord
	Reserved  []byte
	Parts     []PartHeader
	Fallback  []FallbackEntry
}

// --- little-endian primitive codec -----------------------------------

func writeU8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func readU8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeU64LE(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU64LE(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeU64BE(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU64BE(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeU32LE(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU32LE(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeBytesLE(w io.Writer, b []byte) error {
	if err := writeU32LE(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytesLE(r io.Reader) ([]byte, error) {
	n, err := readU32LE(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeChecksum(w io.Writer, c checksum.Checksum) error {
	_, err := w.Write(c.Bytes())
	return err
}

func readChecksum(r io.Reader) (checksum.Checksum, error) {
	var b [32]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return checksum.Zero, err
	}
	return checksum.FromBytes(b[:])
}

func writePartObjectList(w io.Writer, objs []PartObject) error {
	var buf []byte
	for _, o := range objs {
		buf = append(buf, byte(o.Kind))
		buf = append(buf, o.Checksum.Bytes()...)
	}
	return writeBytesLE(w, buf)
}

func readPartObjectList(r io.Reader) ([]PartObject, error) {
	buf, err := readBytesLE(r)
	if err != nil {
		return nil, err
	}
	const entrySize = 1 + 32
	if len(buf)%entrySize != 0 {
		return nil, fmt.Errorf("%w: part object list length %d not a multiple of %d", ErrInvalidFormat, len(buf), entrySize)
	}
	out := make([]PartObject, 0, len(buf)/entrySize)
	for i := 0; i < len(buf); i += entrySize {
		kind := object.Kind(buf[i])
		csum, err := checksum.FromBytes(buf[i+1 : i+entrySize])
		if err != nil {
			return nil, err
		}
		out = append(out, PartObject{Kind: kind, Checksum: csum})
	}
	return out, nil
}

// ErrInvalidFormat covers malformed superblocks, parts, and operation
// streams.
var ErrInvalidFormat = fmt.Errorf("rfsdb: invalid static-delta format")

// WriteSuperblock encodes a Superblock to w (§4.G items 1-8).
func WriteSuperblock(w io.Writer, sb *Superblock) error {
	if err := object.WriteMetadataMap(w, sb.Metadata); err != nil {
		return err
	}
	if err := writeU64BE(w, uint64(sb.Timestamp)); err != nil {
		return err
	}
	if err := writeChecksum(w, sb.From); err != nil {
		return err
	}
	if err := writeChecksum(w, sb.To); err != nil {
		return err
	}
	commitBytes, err := object.EncodeCommitBytes(sb.ToCommit)
	if err != nil {
		return err
	}
	if err := writeBytesLE(w, commitBytes); err != nil {
		return err
	}
	if err := writeBytesLE(w, sb.Reserved); err != nil {
		return err
	}
	if err := writeU32LE(w, uint32(len(sb.Parts))); err != nil {
		return err
	}
	for _, p := range sb.Parts {
		if err := writeChecksum(w, p.Checksum); err != nil {
			return err
		}
		if err := writeU64LE(w, p.CompressedSize); err != nil {
			return err
		}
		if err := writeU64LE(w, p.UncompressedSize); err != nil {
			return err
		}
		if err := writePartObjectList(w, p.Objects); err != nil {
			return err
		}
	}
	if err := writeU32LE(w, uint32(len(sb.Fallback))); err != nil {
		return err
	}
	for _, f := range sb.Fallback {
		if err := writeU8(w, byte(f.Kind)); err != nil {
			return err
		}
		if err := writeChecksum(w, f.Checksum); err != nil {
			return err
		}
		if err := writeU64LE(w, f.CompressedSize); err != nil {
			return err
		}
		if err := writeU64LE(w, f.UncompressedSize); err != nil {
			return err
		}
	}
	return nil
}

// ReadSuperblock decodes a Superblock from r.
func ReadSuperblock(r io.Reader) (*Superblock, error) {
	sb := &Superblock{}
	var err error
	if sb.Metadata, err = object.ReadMetadataMap(r); err != nil {
		return nil, err
	}
	ts, err := readU64BE(r)
	if err != nil {
		return nil, err
	}
	sb.Timestamp = int64(ts)
	if sb.From, err = readChecksum(r); err != nil {
		return nil, err
	}
	if sb.To, err = readChecksum(r); err != nil {
		return nil, err
	}
	commitBytes, err := readBytesLE(r)
	if err != nil {
		return nil, err
	}
	if sb.ToCommit, err = object.DecodeCommit(bytes.NewReader(commitBytes)); err != nil {
		return nil, err
	}
	if sb.Reserved, err = readBytesLE(r); err != nil {
		return nil, err
	}
	nParts, err := readU32LE(r)
	if err != nil {
		return nil, err
	}
	sb.Parts = make([]PartHeader, 0, nParts)
	for i := uint32(0); i < nParts; i++ {
		var p PartHeader
		if p.Checksum, err = readChecksum(r); err != nil {
			return nil, err
		}
		if p.CompressedSize, err = readU64LE(r); err != nil {
			return nil, err
		}
		if p.UncompressedSize, err = readU64LE(r); err != nil {
			return nil, err
		}
		if p.Objects, err = readPartObjectList(r); err != nil {
			return nil, err
		}
		sb.Parts = append(sb.Parts, p)
	}
	nFallback, err := readU32LE(r)
	if err != nil {
		return nil, err
	}
	sb.Fallback = make([]FallbackEntry, 0, nFallback)
	for i := uint32(0); i < nFallback; i++ {
		var f FallbackEntry
		kind, err := readU8(r)
		if err != nil {
			return nil, err
		}
		f.Kind = object.Kind(kind)
		if f.Checksum, err = readChecksum(r); err != nil {
			return nil, err
		}
		if f.CompressedSize, err = readU64LE(r); err != nil {
			return nil, err
		}
		if f.UncompressedSize, err = readU64LE(r); err != nil {
			return nil, err
		}
		sb.Fallback = append(sb.Fallback, f)
	}
	return sb, nil
}

// PartHaveAllObjects reports whether every object listed in a part
// header is already present in s (§4.I step 2, "part_have_all_objects").
func (p *PartHeader) PartHaveAllObjects(has func(object.Kind, checksum.Checksum) bool) bool {
	for _, o := range p.Objects {
		if !has(o.Kind, o.Checksum) {
			return false
		}
	}
	return true
}
