// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"

	"github.com/kranesystems/rfsdb/internal/object"
)

// Mode is the repo-wide storage mode (§3, I3 mode homogeneity). The
// deprecated literal "archive" (without the -z2 suffix) is rejected by
// internal/repo with a dedicated error, per §4.D.
type Mode uint8

const (
	InvalidMode Mode = iota
	Bare
	ArchiveZ2
)

func (m Mode) String() string {
	switch m {
	case Bare:
		return "bare"
	case ArchiveZ2:
		return "archive-z2"
	default:
		return "invalid"
	}
}

// ParseMode accepts exactly the two supported on-disk mode strings.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "bare":
		return Bare, nil
	case "archive-z2":
		return ArchiveZ2, nil
	case "archive":
		return InvalidMode, fmt.Errorf("rfsdb: %w: the legacy 'archive' mode is no longer supported, use 'archive-z2'", ErrDeprecatedMode)
	default:
		return InvalidMode, fmt.Errorf("rfsdb: %w: %q", ErrUnknownMode, s)
	}
}

var (
	ErrDeprecatedMode = fmt.Errorf("deprecated storage mode")
	ErrUnknownMode    = fmt.Errorf("unknown storage mode")
)

// fileExt returns the loose-object extension for kind under this mode,
// mirroring §4.C's address computation: "ext is commit|dirtree|dirmeta
// for metadata, file in bare mode, filez in archive mode."
func (m Mode) fileExt(k object.Kind) string {
	switch k {
	case object.Commit, object.DirTree, object.DirMeta:
		return k.Ext()
	case object.File:
		if m == Bare {
			return "file"
		}
		return "filez"
	default:
		return "invalid"
	}
}
