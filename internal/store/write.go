// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"compress/zlib"
	"io"
	"os"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/object"
)

// WriteMetadata serializes a metadata object canonically, hashes it, and
// writes it into the store via tmp/ + fsync + rename (§4.C write_metadata,
// §3 Lifecycles). If expected is non-zero and differs from the computed
// checksum, the write is discarded and ErrChecksumMismatch is returned.
func (s *Store) WriteMetadata(kind object.Kind, expected checksum.Checksum, enc object.Encoder) (checksum.Checksum, error) {
	tmp, err := os.CreateTemp(s.incoming, "metadata-*")
	if err != nil {
		return checksum.Zero, err
	}
	tmpPath := tmp.Name()
	h := checksum.NewHasher()
	if err := enc.Encode(io.MultiWriter(h, tmp)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return checksum.Zero, err
	}
	actual := h.Sum()
	if !expected.IsZero() && expected != actual {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return checksum.Zero, &ErrChecksumMismatch{Expected: expected, Actual: actual}
	}
	if err := s.fsyncFile(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return checksum.Zero, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return checksum.Zero, err
	}
	if err := s.finalize(tmpPath, s.Path(kind, actual)); err != nil {
		return checksum.Zero, err
	}
	return actual, nil
}

// WriteContent streams a FILE object's raw content through a hasher and,
// in archive mode, a zlib compressor, writing the archive header first
// (§4.C write_content). In archive mode header.Size is the uncompressed
// size recorded in the header. In bare mode header is not used (nil is
// accepted): only the raw content is written and hashed.
func (s *Store) WriteContent(expected checksum.Checksum, header *object.FileHeader, content io.Reader) (checksum.Checksum, error) {
	tmp, err := os.CreateTemp(s.incoming, "content-*")
	if err != nil {
		return checksum.Zero, err
	}
	tmpPath := tmp.Name()
	h := checksum.NewHasher()
	w := io.MultiWriter(h, tmp)

	if s.mode == Bare {
		if _, err := io.Copy(w, content); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return checksum.Zero, err
		}
	} else {
		if err := object.EncodeArchiveFile(w, header, content); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return checksum.Zero, err
		}
	}
	actual := h.Sum()
	if !expected.IsZero() && expected != actual {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return checksum.Zero, &ErrChecksumMismatch{Expected: expected, Actual: actual}
	}
	if err := s.fsyncFile(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return checksum.Zero, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return checksum.Zero, err
	}
	if err := s.finalize(tmpPath, s.Path(object.File, actual)); err != nil {
		return checksum.Zero, err
	}
	return actual, nil
}

// WriteRawObject writes data verbatim as the loose object for
// (kind, csum): no encoding or compression is applied, since data is
// already in its final on-disk form. Used by the static-delta applier
// (internal/delta/apply), whose part payloads carry exactly the bytes
// each object has on disk (§4.I).
func (s *Store) WriteRawObject(kind object.Kind, expected checksum.Checksum, data []byte) (checksum.Checksum, error) {
	actual := checksum.OfBytes(data)
	if !expected.IsZero() && expected != actual {
		return checksum.Zero, &ErrChecksumMismatch{Expected: expected, Actual: actual}
	}
	tmp, err := os.CreateTemp(s.incoming, "raw-*")
	if err != nil {
		return checksum.Zero, err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return checksum.Zero, err
	}
	if err := s.fsyncFile(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return checksum.Zero, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return checksum.Zero, err
	}
	if err := s.finalize(tmpPath, s.Path(kind, actual)); err != nil {
		return checksum.Zero, err
	}
	return actual, nil
}

// zlibLevel is the stdlib default zlib level. No code in this package
// refers to it; archive content compression happens in
// object.EncodeArchiveFile.
const zlibLevel = zlib.DefaultCompression
