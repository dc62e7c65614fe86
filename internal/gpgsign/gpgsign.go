// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package gpgsign implements the detached-signature chain (§4.J):
// signing a commit or static-delta superblock's canonical bytes,
// appending the signature to a detached-metadata blob, and verifying
// that blob against a keyring.
//
// Grounded on antgroup-hugescm's pkg/zeta/tree.go (buildCommitSignature,
// SignKey *openpgp.Entity field) and pkg/zeta/options.go for the same
// sign-with-an-already-unlocked-entity convention, extended here with
// the verify half the teacher never needed (commits there are only ever
// signed locally, never verified against a remote keyring).
package gpgsign

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/kranesystems/rfsdb/internal/object"
)

// ErrMissingSignatures is returned when GPG verification is required but
// the detached-metadata blob carries no "ostree.gpgsigs" entry (§4.J,
// §7).
var ErrMissingSignatures = errors.New("rfsdb: object has no detached signatures")

// ErrUntrustedSignature is returned when every candidate signature fails
// to verify against the configured keyring (§4.J, §7).
var ErrUntrustedSignature = errors.New("rfsdb: no signature verifies against the configured keyring")

// Sign produces a detached signature over data using signer, whose
// private key must already be decrypted (the same contract as the
// teacher's CommitTreeOptions.SignKey).
func Sign(data []byte, signer *openpgp.Entity) ([]byte, error) {
	var buf bytes.Buffer
	if err := openpgp.DetachSign(&buf, signer, bytes.NewReader(data), nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SignAndAppend signs data and returns a copy of m with the new
// signature appended to "ostree.gpgsigs" (§4.J's `append` operation).
func SignAndAppend(m object.Metadata, data []byte, signer *openpgp.Entity) (object.Metadata, error) {
	sig, err := Sign(data, signer)
	if err != nil {
		return nil, err
	}
	return m.WithSignature(sig), nil
}

// Verify reports whether any of sigs is a valid detached signature over
// data under keyring — "if any signature verifies, the object is
// accepted" (§4.J).
func Verify(data []byte, sigs [][]byte, keyring openpgp.EntityList) (bool, error) {
	for _, sig := range sigs {
		if _, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sig), nil); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// VerifyMetadata checks a detached-metadata blob's signatures over data,
// translating absence/failure into the two §7 error kinds this
// component owns.
func VerifyMetadata(data []byte, m object.Metadata, keyring openpgp.EntityList) error {
	sigs, ok := m.Signatures()
	if !ok || len(sigs) == 0 {
		return ErrMissingSignatures
	}
	verified, err := Verify(data, sigs, keyring)
	if err != nil {
		return err
	}
	if !verified {
		return ErrUntrustedSignature
	}
	return nil
}

// WriteDetachedMetadata and ReadDetachedMetadata (de)serialize a
// ".commitmeta" / ".commitmeta" delta blob, which is exactly a metadata
// variant with no surrounding framing (§4.J).
func WriteDetachedMetadata(w io.Writer, m object.Metadata) error {
	return object.WriteMetadataMap(w, m)
}

func ReadDetachedMetadata(r io.Reader) (object.Metadata, error) {
	return object.ReadMetadataMap(r)
}

// LoadKeyring reads every ".gpg" (binary) and ".asc"/".pem" (armored)
// keyring file directly under homedir and returns their combined
// entities. This is a deliberately narrow stand-in for a full GPG
// homedir/agent integration, which §1 places out of scope ("GPG engine
// integration ... provides verify(bytes, sigs, keyrings) -> bool");
// this function only satisfies the "keyrings" input side of that
// contract.
func LoadKeyring(homedir string) (openpgp.EntityList, error) {
	entries, err := os.ReadDir(homedir)
	if err != nil {
		return nil, err
	}
	var keyring openpgp.EntityList
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(homedir, e.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		var el openpgp.EntityList
		switch {
		case strings.HasSuffix(e.Name(), ".asc"), strings.HasSuffix(e.Name(), ".pem"):
			el, err = openpgp.ReadArmoredKeyRing(f)
		case strings.HasSuffix(e.Name(), ".gpg"):
			el, err = openpgp.ReadKeyRing(f)
		default:
			_ = f.Close()
			continue
		}
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		keyring = append(keyring, el...)
	}
	return keyring, nil
}

// LoadSigningKey reads a single armored private key file and returns
// its first entity, decrypting the private key with passphrase if it is
// encrypted. keyID, if non-empty, must equal the entity's 16-digit hex
// key ID or a suffix of it, such as the 8-digit short ID
// (case-insensitive); a full fingerprint does not match.
func LoadSigningKey(path, keyID string, passphrase []byte) (*openpgp.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	el, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, err
	}
	for _, entity := range el {
		if keyID != "" && !matchesKeyID(entity, keyID) {
			continue
		}
		if entity.PrivateKey == nil {
			continue
		}
		if entity.PrivateKey.Encrypted {
			if len(passphrase) == 0 {
				continue
			}
			if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
				continue
			}
		}
		return entity, nil
	}
	return nil, errors.New("rfsdb: no matching decryptable private key found")
}

func matchesKeyID(entity *openpgp.Entity, keyID string) bool {
	want := strings.ToUpper(keyID)
	if entity.PrimaryKey == nil {
		return false
	}
	fp := strings.ToUpper(entity.PrimaryKey.KeyIdString())
	return fp == want || strings.HasSuffix(fp, want)
}
