// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bytes"
	"io"

	"github.com/kranesystems/rfsdb/internal/checksum"
)

// CommitRecord is the immutable root-of-tree record (§3 COMMIT).
//
// Grounded on modules/zeta/object/commit.go's Commit struct shape (Encode/
// Decode pair, Hash field populated by the caller after hashing), but the
// wire format itself follows §3's binary tuple layout rather than
// hugescm's git-style text header block, since this spec's COMMIT is a
// GVariant tuple, not a text object.
type CommitRecord struct {
	Metadata  Metadata
	Parent    checksum.Checksum // may be zero: "no parent"
	Related   []checksum.Checksum
	Subject   string
	Body      string
	Timestamp int64 // seconds since epoch
	Tree      checksum.Checksum
	DirMeta   checksum.Checksum
}

func (c *CommitRecord) Encode(w io.Writer) error {
	if _, err := w.Write(commitMagic[:]); err != nil {
		return err
	}
	if err := writeMetadata(w, c.Metadata); err != nil {
		return err
	}
	if err := writeChecksumVariable(w, c.Parent); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(c.Related))); err != nil {
		return err
	}
	for _, r := range c.Related {
		if err := writeChecksumFixed(w, r); err != nil {
			return err
		}
	}
	if err := writeString(w, c.Subject); err != nil {
		return err
	}
	if err := writeString(w, c.Body); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(c.Timestamp)); err != nil {
		return err
	}
	if err := writeChecksumFixed(w, c.Tree); err != nil {
		return err
	}
	return writeChecksumFixed(w, c.DirMeta)
}

// decodeBody reads everything after the magic prefix (already consumed by
// DecodeMetadata) and rejects trailing bytes (§9).
func (c *CommitRecord) decodeBody(r io.Reader) error {
	br, err := drainToBuffer(r)
	if err != nil {
		return err
	}
	if c.Metadata, err = readMetadata(br); err != nil {
		return err
	}
	if c.Parent, err = readChecksumVariable(br); err != nil {
		return err
	}
	n, err := readUint32(br)
	if err != nil {
		return err
	}
	c.Related = make([]checksum.Checksum, 0, n)
	for i := uint32(0); i < n; i++ {
		rc, err := readChecksumFixed(br)
		if err != nil {
			return err
		}
		c.Related = append(c.Related, rc)
	}
	if c.Subject, err = readString(br); err != nil {
		return err
	}
	if c.Body, err = readString(br); err != nil {
		return err
	}
	ts, err := readUint64(br)
	if err != nil {
		return err
	}
	c.Timestamp = int64(ts)
	if c.Tree, err = readChecksumFixed(br); err != nil {
		return err
	}
	if c.DirMeta, err = readChecksumFixed(br); err != nil {
		return err
	}
	return requireEOF(br)
}

// DecodeCommit decodes a full loose-object byte stream (magic included)
// into a CommitRecord.
func DecodeCommit(r io.Reader) (*CommitRecord, error) {
	v, kind, err := DecodeMetadata(r)
	if err != nil {
		return nil, err
	}
	if kind != Commit {
		return nil, ErrUnsupportedObject
	}
	return v.(*CommitRecord), nil
}

// EncodeCommitBytes is a convenience used by tests and by the static-delta
// superblock writer (internal/delta), which needs the raw encoded bytes to
// embed the `to` commit in a superblock (§4.G item 5).
func EncodeCommitBytes(c *CommitRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
