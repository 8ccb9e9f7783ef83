// Package tlsproxy implements CA certificate generation and per-host leaf
// minting for the TLS interception (MITM) pipeline of spec.md §4.6. It is
// grounded on the teacher's pkg/proxy/ca.go — the same LRU cache and
// crypto/x509 minting idiom, trimmed to what a single-CA MITM proxy needs.
package tlsproxy

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultOrganization names the generated CA's subject, matching the
	// teacher's DefaultCAOrganization idiom.
	DefaultOrganization = "httpmockd Local CA"
	// DefaultValidityDays is the CA certificate's lifetime.
	DefaultValidityDays = 3650
	// DefaultLeafValidityDays is a minted leaf certificate's lifetime.
	DefaultLeafValidityDays = 365
	// DefaultKeyBits is the RSA key size used for both the CA and leaves.
	DefaultKeyBits = 2048
	// DefaultCacheSize bounds the per-host leaf certificate LRU cache,
	// per spec.md §4.6 "cached by authority with a bounded LRU".
	DefaultCacheSize = 1000
)

// ErrNoCA is returned by operations that require a loaded/generated CA when
// none is available.
var ErrNoCA = errors.New("tlsproxy: no CA certificate loaded")

// CertPair is a certificate and its private key, either the CA's own pair
// or a minted leaf.
type CertPair struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// CAManager owns the CA keypair and mints per-authority leaf certificates
// on demand, caching them by host (spec.md §4.6).
type CAManager struct {
	mu sync.RWMutex

	certPath string
	keyPath  string

	ca    *CertPair
	cache *leafCache
}

// NewCAManager builds a manager backed by a PEM cert/key pair on disk at
// certPath/keyPath. Call EnsureCA before minting.
func NewCAManager(certPath, keyPath string) *CAManager {
	return &CAManager{
		certPath: certPath,
		keyPath:  keyPath,
		cache:    newLeafCache(DefaultCacheSize),
	}
}

// EnsureCA loads an existing CA from disk, or generates and persists a new
// self-signed one if none exists yet.
func (m *CAManager) EnsureCA() error {
	if m.certPath != "" && m.keyPath != "" {
		if _, err := os.Stat(m.certPath); err == nil {
			if _, err := os.Stat(m.keyPath); err == nil {
				return m.Load()
			}
		}
	}
	return m.Generate()
}

// Generate creates a new self-signed CA keypair, persisting it to disk when
// paths are configured.
func (m *CAManager) Generate() error {
	key, err := rsa.GenerateKey(rand.Reader, DefaultKeyBits)
	if err != nil {
		return fmt.Errorf("tlsproxy: generate CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("tlsproxy: generate CA serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{DefaultOrganization},
			CommonName:   DefaultOrganization,
		},
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, DefaultValidityDays),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("tlsproxy: create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("tlsproxy: parse CA certificate: %w", err)
	}

	if m.certPath != "" && m.keyPath != "" {
		if err := m.persist(der, key); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.ca = &CertPair{Cert: cert, Key: key}
	m.mu.Unlock()
	return nil
}

func (m *CAManager) persist(certDER []byte, key *rsa.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(m.certPath), 0o700); err != nil {
		return fmt.Errorf("tlsproxy: create CA directory: %w", err)
	}
	certOut, err := os.Create(m.certPath)
	if err != nil {
		return fmt.Errorf("tlsproxy: write CA certificate: %w", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		return fmt.Errorf("tlsproxy: encode CA certificate: %w", err)
	}

	keyOut, err := os.OpenFile(m.keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("tlsproxy: write CA key: %w", err)
	}
	defer keyOut.Close()
	return pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// Load reads a previously persisted CA keypair from disk.
func (m *CAManager) Load() error {
	certPEM, err := os.ReadFile(m.certPath)
	if err != nil {
		return fmt.Errorf("tlsproxy: read CA certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("tlsproxy: %s is not a PEM certificate", m.certPath)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("tlsproxy: parse CA certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(m.keyPath)
	if err != nil {
		return fmt.Errorf("tlsproxy: read CA key: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("tlsproxy: %s is not a PEM key", m.keyPath)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("tlsproxy: parse CA key: %w", err)
	}

	m.mu.Lock()
	m.ca = &CertPair{Cert: cert, Key: key}
	m.mu.Unlock()
	return nil
}

// CACertPEM returns the CA certificate in PEM form, for clients that need
// to trust it (e.g. an `import` CLI command, out of scope here but a
// plausible consumer of this method).
func (m *CAManager) CACertPEM() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ca == nil {
		return nil, ErrNoCA
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: m.ca.Cert.Raw}), nil
}

// MintLeaf returns a certificate for host signed by the CA, minting and
// caching one if not already cached (spec.md §4.6: "leaf certificate ...
// cached by authority with a bounded LRU").
func (m *CAManager) MintLeaf(host string) (*CertPair, error) {
	host = strings.TrimSuffix(host, ".")
	if pair, ok := m.cache.get(host); ok {
		return pair, nil
	}

	m.mu.RLock()
	ca := m.ca
	m.mu.RUnlock()
	if ca == nil {
		return nil, ErrNoCA
	}

	key, err := rsa.GenerateKey(rand.Reader, DefaultKeyBits)
	if err != nil {
		return nil, fmt.Errorf("tlsproxy: generate leaf key for %s: %w", host, err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("tlsproxy: generate leaf serial for %s: %w", host, err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now,
		NotAfter:     now.AddDate(0, 0, DefaultLeafValidityDays),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{host},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		return nil, fmt.Errorf("tlsproxy: mint leaf for %s: %w", host, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("tlsproxy: parse minted leaf for %s: %w", host, err)
	}

	pair := &CertPair{Cert: cert, Key: key}
	m.cache.set(host, pair)
	return pair, nil
}
