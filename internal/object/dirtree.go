// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kranesystems/rfsdb/internal/checksum"
)

// MaxTreeDepth is the hard recursion bound enforced by internal/traverse
// (I4). Grounded on modules/zeta/object/tree.go's maxTreeDepth constant.
const MaxTreeDepth = 1024

// ErrInvalidFilename is returned for filenames violating §3's DIR_TREE
// constraints: NUL-free, slash-free, non-empty, not "." or "..".
var ErrInvalidFilename = errors.New("rfsdb: invalid filename")

// ValidateFilename enforces §3's DIR_TREE filename invariant.
func ValidateFilename(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidFilename)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}

// FileEntry is a (filename, file-checksum) pair in a DIR_TREE.
type FileEntry struct {
	Name string
	File checksum.Checksum
}

// DirEntry is a (dirname, subtree-checksum, submeta-checksum) triple in a
// DIR_TREE.
type DirEntry struct {
	Name    string
	Tree    checksum.Checksum
	DirMeta checksum.Checksum
}

// DirTreeRecord is the canonical directory listing (§3 DIR_TREE): an
// ordered sequence of file entries followed by an ordered sequence of
// subdirectory entries, both sorted by name.
//
// Grounded on modules/zeta/object/tree.go's Tree/TreeEntry split between
// file and subtree children, generalized from hugescm's single
// name-sorted list (which also carries a file mode per entry, since git
// trees store mode+oid together) into this spec's two-sequence layout,
// because §3 keeps file checksums and (subtree,submeta) pairs in separate
// arrays rather than one polymorphic entry list.
type DirTreeRecord struct {
	Files []FileEntry
	Dirs  []DirEntry
}

// Canonicalize sorts both sequences by name, as §3 requires for stable
// hashing (P1). Encode does not sort, so callers that build a
// DirTreeRecord by hand must call this before encoding.
func (t *DirTreeRecord) Canonicalize() {
	insertionSortFileEntries(t.Files)
	insertionSortDirEntries(t.Dirs)
}

func insertionSortFileEntries(s []FileEntry) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].Name > s[j].Name; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func insertionSortDirEntries(s []DirEntry) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].Name > s[j].Name; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (t *DirTreeRecord) Encode(w io.Writer) error {
	if _, err := w.Write(dirTreeMagic[:]); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(t.Files))); err != nil {
		return err
	}
	for _, f := range t.Files {
		if err := ValidateFilename(f.Name); err != nil {
			return err
		}
		if err := writeString(w, f.Name); err != nil {
			return err
		}
		if err := writeChecksumFixed(w, f.File); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(t.Dirs))); err != nil {
		return err
	}
	for _, d := range t.Dirs {
		if err := ValidateFilename(d.Name); err != nil {
			return err
		}
		if err := writeString(w, d.Name); err != nil {
			return err
		}
		if err := writeChecksumFixed(w, d.Tree); err != nil {
			return err
		}
		if err := writeChecksumFixed(w, d.DirMeta); err != nil {
			return err
		}
	}
	return nil
}

func (t *DirTreeRecord) decodeBody(r io.Reader) error {
	br, err := drainToBuffer(r)
	if err != nil {
		return err
	}
	nf, err := readUint32(br)
	if err != nil {
		return err
	}
	t.Files = make([]FileEntry, 0, nf)
	for i := uint32(0); i < nf; i++ {
		name, err := readString(br)
		if err != nil {
			return err
		}
		if err := ValidateFilename(name); err != nil {
			return err
		}
		fc, err := readChecksumFixed(br)
		if err != nil {
			return err
		}
		t.Files = append(t.Files, FileEntry{Name: name, File: fc})
	}
	nd, err := readUint32(br)
	if err != nil {
		return err
	}
	t.Dirs = make([]DirEntry, 0, nd)
	for i := uint32(0); i < nd; i++ {
		name, err := readString(br)
		if err != nil {
			return err
		}
		if err := ValidateFilename(name); err != nil {
			return err
		}
		tc, err := readChecksumFixed(br)
		if err != nil {
			return err
		}
		mc, err := readChecksumFixed(br)
		if err != nil {
			return err
		}
		t.Dirs = append(t.Dirs, DirEntry{Name: name, Tree: tc, DirMeta: mc})
	}
	return requireEOF(br)
}

// DecodeDirTree decodes a full loose-object byte stream into a
// DirTreeRecord.
func DecodeDirTree(r io.Reader) (*DirTreeRecord, error) {
	v, kind, err := DecodeMetadata(r)
	if err != nil {
		return nil, err
	}
	if kind != DirTree {
		return nil, ErrUnsupportedObject
	}
	return v.(*DirTreeRecord), nil
}
