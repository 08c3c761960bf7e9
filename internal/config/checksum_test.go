package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockAndVerify(t *testing.T) {
	path := writeConfig(t, "service:\n  name: gate\n")

	manifest, err := Lock(path)
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Version)
	assert.Len(t, manifest.Hashes["config.yaml"], 64)

	info, err := os.Stat(ChecksumPath(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, VerifyChecksum(path))
	_, err = Load(path)
	require.NoError(t, err)
}

func TestVerify_DetectsTampering(t *testing.T) {
	path := writeConfig(t, "service:\n  name: gate\n")
	_, err := Lock(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: evil\n"), 0o644))

	err = VerifyChecksum(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")

	_, err = Load(path)
	assert.Error(t, err)
}

func TestVerify_NoManifest(t *testing.T) {
	path := writeConfig(t, "")
	assert.NoError(t, VerifyChecksum(path))
}

func TestVerify_ManifestWithoutEntry(t *testing.T) {
	path := writeConfig(t, "")
	require.NoError(t, os.WriteFile(ChecksumPath(path), []byte("version: 1\nhashes:\n  other.yaml: abc\n"), 0o600))

	err := VerifyChecksum(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hash")
}

func TestLoadChecksums_BadVersion(t *testing.T) {
	path := writeConfig(t, "")
	require.NoError(t, os.WriteFile(ChecksumPath(path), []byte("version: 9\n"), 0o600))

	_, err := LoadChecksums(path)
	assert.Error(t, err)
}

func TestComputeBlake3Hash_Stable(t *testing.T) {
	path := writeConfig(t, "a: b\n")
	first, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	second, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
