// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import "io"

// XAttrs is the name->value extended-attribute map carried by DIR_META
// (§3) and, per-file, by the archive-mode FILE header (§3, §4.G).
type XAttrs map[string][]byte

func writeXAttrs(w io.Writer, x XAttrs) error {
	keys := make([]string, 0, len(x))
	for k := range x {
		keys = append(keys, k)
	}
	insertionSortStrings(keys)
	if err := writeUint32(w, uint32(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := writeString(w, k); err != nil {
			return err
		}
		if err := writeBytes(w, x[k]); err != nil {
			return err
		}
	}
	return nil
}

func readXAttrs(r io.Reader) (XAttrs, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	x := make(XAttrs, n)
	for i := uint32(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		x[k] = v
	}
	return x, nil
}

// DirMetaRecord is a directory's own ownership/permission/xattr record
// (§3 DIR_META).
//
// Grounded on the uid/gid/mode triple hugescm's FILE header carries
// (modules/zeta/object/file.go), generalized into its own object kind
// because this spec (unlike hugescm's git-derived model) gives
// directories their own addressable metadata object, separate from the
// listing.
type DirMetaRecord struct {
	UID    uint32
	GID    uint32
	Mode   uint32
	XAttrs XAttrs
}

func (m *DirMetaRecord) Encode(w io.Writer) error {
	if _, err := w.Write(dirMetaMagic[:]); err != nil {
		return err
	}
	if err := writeUint32(w, m.UID); err != nil {
		return err
	}
	if err := writeUint32(w, m.GID); err != nil {
		return err
	}
	if err := writeUint32(w, m.Mode); err != nil {
		return err
	}
	return writeXAttrs(w, m.XAttrs)
}

func (m *DirMetaRecord) decodeBody(r io.Reader) error {
	br, err := drainToBuffer(r)
	if err != nil {
		return err
	}
	if m.UID, err = readUint32(br); err != nil {
		return err
	}
	if m.GID, err = readUint32(br); err != nil {
		return err
	}
	if m.Mode, err = readUint32(br); err != nil {
		return err
	}
	if m.XAttrs, err = readXAttrs(br); err != nil {
		return err
	}
	return requireEOF(br)
}

// DecodeDirMeta decodes a full loose-object byte stream into a
// DirMetaRecord.
func DecodeDirMeta(r io.Reader) (*DirMetaRecord, error) {
	v, kind, err := DecodeMetadata(r)
	if err != nil {
		return nil, err
	}
	if kind != DirMeta {
		return nil, ErrUnsupportedObject
	}
	return v.(*DirMetaRecord), nil
}
