package gpgsign

import (
	"bytes"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/stretchr/testify/require"
)

func newTestEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity("test signer", "", "signer@example.com", nil)
	require.NoError(t, err)
	return entity
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer := newTestEntity(t)
	data := []byte("commit bytes to be signed")

	m, err := SignAndAppend(object.Metadata{}, data, signer)
	require.NoError(t, err)

	keyring := openpgp.EntityList{signer}
	require.NoError(t, VerifyMetadata(data, m, keyring))
}

func TestVerifyMetadataMissingSignatures(t *testing.T) {
	signer := newTestEntity(t)
	err := VerifyMetadata([]byte("data"), object.Metadata{}, openpgp.EntityList{signer})
	require.ErrorIs(t, err, ErrMissingSignatures)
}

func TestVerifyMetadataUntrustedSignature(t *testing.T) {
	signer := newTestEntity(t)
	other := newTestEntity(t)
	data := []byte("commit bytes to be signed")

	m, err := SignAndAppend(object.Metadata{}, data, signer)
	require.NoError(t, err)

	err = VerifyMetadata(data, m, openpgp.EntityList{other})
	require.ErrorIs(t, err, ErrUntrustedSignature)
}

func TestVerifyMetadataTamperedData(t *testing.T) {
	signer := newTestEntity(t)
	data := []byte("commit bytes to be signed")

	m, err := SignAndAppend(object.Metadata{}, data, signer)
	require.NoError(t, err)

	err = VerifyMetadata([]byte("different bytes"), m, openpgp.EntityList{signer})
	require.ErrorIs(t, err, ErrUntrustedSignature)
}

func TestDetachedMetadataRoundTrip(t *testing.T) {
	signer := newTestEntity(t)
	data := []byte("superblock bytes")

	m, err := SignAndAppend(object.Metadata{}, data, signer)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteDetachedMetadata(&buf, m))

	got, err := ReadDetachedMetadata(&buf)
	require.NoError(t, err)

	require.NoError(t, VerifyMetadata(data, got, openpgp.EntityList{signer}))
}
