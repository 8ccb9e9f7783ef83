package tlsproxy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCAManager_GenerateAndMintLeaf(t *testing.T) {
	dir := t.TempDir()
	m := NewCAManager(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	require.NoError(t, m.EnsureCA())

	pemBytes, err := m.CACertPEM()
	require.NoError(t, err)
	require.Contains(t, string(pemBytes), "BEGIN CERTIFICATE")

	leaf, err := m.MintLeaf("example.com")
	require.NoError(t, err)
	require.Equal(t, "example.com", leaf.Cert.Subject.CommonName)
	require.Contains(t, leaf.Cert.DNSNames, "example.com")

	again, err := m.MintLeaf("example.com")
	require.NoError(t, err)
	require.Same(t, leaf, again, "second mint for the same host should hit the LRU cache")
}

func TestCAManager_EnsureCALoadsExisting(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key")

	first := NewCAManager(certPath, keyPath)
	require.NoError(t, first.EnsureCA())
	firstPEM, err := first.CACertPEM()
	require.NoError(t, err)

	second := NewCAManager(certPath, keyPath)
	require.NoError(t, second.EnsureCA())
	secondPEM, err := second.CACertPEM()
	require.NoError(t, err)

	require.Equal(t, firstPEM, secondPEM, "EnsureCA should load the persisted CA rather than regenerate")
}

func TestCAManager_MintLeafWithoutCA(t *testing.T) {
	m := NewCAManager("", "")
	_, err := m.MintLeaf("example.com")
	require.ErrorIs(t, err, ErrNoCA)
}

func TestLeafCache_Eviction(t *testing.T) {
	c := newLeafCache(2)
	c.set("a", &CertPair{})
	c.set("b", &CertPair{})
	c.set("c", &CertPair{}) // evicts "a"

	_, ok := c.get("a")
	require.False(t, ok)
	_, ok = c.get("b")
	require.True(t, ok)
	_, ok = c.get("c")
	require.True(t, ok)
	require.Equal(t, 2, c.len())
}
