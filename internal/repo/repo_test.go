package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/store"
	"github.com/stretchr/testify/require"
)

func TestCreateAndOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, store.ArchiveZ2)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r2, err := Open(dir)
	require.NoError(t, err)
	defer r2.Close()
	require.Equal(t, store.ArchiveZ2, r2.Config().Mode)
	require.Equal(t, 1, r2.Config().RepoVersion)
}

func TestOpenRejectsDeprecatedArchiveMode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), []byte("[core]\nrepo_version = 1\nmode = archive\n"), 0644))
	_, err := Open(dir)
	require.ErrorIs(t, err, store.ErrDeprecatedMode)
}

func TestOpenRejectsWrongRepoVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), []byte("[core]\nrepo_version = 2\nmode = bare\n"), 0644))
	_, err := Open(dir)
	require.ErrorIs(t, err, ErrUnsupportedRepoVersion)
}

func TestAddRemoteAndReload(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, store.Bare)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	require.NoError(t, AddRemote(dir, &RemoteConfig{
		Name:      "origin",
		URL:       "http://example.invalid/repo",
		GPGVerify: true,
		Branches:  []string{"master", "release"},
	}))

	r2, err := Open(dir)
	require.NoError(t, err)
	defer r2.Close()
	remote := r2.Config().Remotes["origin"]
	require.NotNil(t, remote)
	require.Equal(t, "http://example.invalid/repo", remote.URL)
	require.True(t, remote.GPGVerify)
	require.Equal(t, []string{"master", "release"}, remote.Branches)
}

func TestParentRepoChain(t *testing.T) {
	parentDir := t.TempDir()
	parent, err := Create(parentDir, store.Bare)
	require.NoError(t, err)
	require.NoError(t, parent.Close())

	childDir := t.TempDir()
	child, err := Create(childDir, store.Bare)
	require.NoError(t, err)
	require.NoError(t, child.Close())

	cfgPath := filepath.Join(childDir, "config")
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	data = append(data, []byte("parent = "+parentDir+"\n")...)
	require.NoError(t, os.WriteFile(cfgPath, data, 0644))

	reopened, err := Open(childDir)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, parentDir, reopened.Config().Parent)
}

func TestRefReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(dir, store.Bare)
	require.NoError(t, err)

	csum := checksum.OfBytes([]byte("commit-body"))
	require.NoError(t, WriteRefDirect(dir, "heads/master", csum))

	got, err := ReadRef(dir, "heads/master")
	require.NoError(t, err)
	require.Equal(t, csum, got)
}

func TestRefRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "refs", "heads"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refs", "heads", "bad"), []byte("not-hex\n"), 0644))

	_, err := ReadRef(dir, "heads/bad")
	require.ErrorIs(t, err, ErrInvalidRef)
}

func TestTransactionCommitStagesRefsAtomically(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, store.Bare)
	require.NoError(t, err)
	defer r.Close()

	txn, err := r.PrepareTransaction()
	require.NoError(t, err)
	require.False(t, txn.Resuming())

	csum := checksum.OfBytes([]byte("obj"))
	require.NoError(t, txn.StageRef("remotes/origin/master", csum))
	require.NoError(t, txn.Commit())

	got, err := ReadRef(dir, "remotes/origin/master")
	require.NoError(t, err)
	require.Equal(t, csum, got)

	_, err = os.Stat(filepath.Join(r.TmpDir(), lockFileName))
	require.True(t, os.IsNotExist(err))
}

func TestTransactionAbortDiscardsStagedRefs(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, store.Bare)
	require.NoError(t, err)
	defer r.Close()

	txn, err := r.PrepareTransaction()
	require.NoError(t, err)
	require.NoError(t, txn.StageRef("remotes/origin/master", checksum.OfBytes([]byte("obj"))))
	require.NoError(t, txn.Abort())

	_, err = ReadRef(dir, "remotes/origin/master")
	require.True(t, os.IsNotExist(err))
}

func TestSecondPrepareTransactionIsLocked(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, store.Bare)
	require.NoError(t, err)
	defer r.Close()

	txn, err := r.PrepareTransaction()
	require.NoError(t, err)

	_, err = r.PrepareTransaction()
	require.ErrorIs(t, err, ErrResourceLocked)

	require.NoError(t, txn.Abort())
}
