// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package store implements the loose-object store (§4.C): on-disk
// addressing, has/read/write/delete for both bare and archive storage
// modes, and the uid/gid/mode-preserving vs. zlib-blob distinction
// between them.
//
// Grounded on modules/zeta/backend/file_storer.go (path layout, the
// incoming-tmp-then-rename write pattern, LooseObjects enumeration) and
// modules/zeta/backend/odb.go (Option-functions, metaLRU cache,
// sharing-root), both from antgroup/hugescm.
package store

import (
	"fmt"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/object"
)

// ErrNotFound is returned when a requested object is absent from this
// store and (if present) its parent chain.
type ErrNotFound struct {
	Checksum checksum.Checksum
	Kind     object.Kind
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("rfsdb: no such object %s (%s)", e.Checksum, e.Kind)
}

func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

// ErrChecksumMismatch is returned by write_metadata/write_content when an
// expected checksum is supplied and the computed checksum differs (§4.C,
// §7 ChecksumMismatch).
type ErrChecksumMismatch struct {
	Expected checksum.Checksum
	Actual   checksum.Checksum
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("rfsdb: checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func IsChecksumMismatch(err error) bool {
	_, ok := err.(*ErrChecksumMismatch)
	return ok
}
