package token

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/spf13/afero"
)

// certSubjectCN is the subject of the self-signed placeholder certificate
// stored alongside each private key.
const certSubjectCN = "KeyHolder"

// Codec creates, persists, and queries individual encrypted key containers.
// A container holds exactly one private-key entry with a one-element
// certificate chain, addressed by alias and protected by a password.
type Codec struct {
	fs afero.Fs
}

func NewCodec(fs afero.Fs) *Codec {
	return &Codec{fs: fs}
}

// CreateContainer builds a new in-memory container holding the given key
// under alias, protected by password. It issues a self-signed certificate
// over the key pair for the entry's chain. Nothing is written to disk;
// persistence is the caller's responsibility.
func (c *Codec) CreateContainer(key crypto.Signer, alias string, password []byte) (keystore.KeyStore, error) {
	certDER, err := selfSignedCertificate(key)
	if err != nil {
		return keystore.KeyStore{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return keystore.KeyStore{}, fmt.Errorf("failed to marshal private key: %w", err)
	}

	ks := keystore.New()
	entry := keystore.PrivateKeyEntry{
		CreationTime: time.Now(),
		PrivateKey:   keyDER,
		CertificateChain: []keystore.Certificate{
			{Type: "X.509", Content: certDER},
		},
	}
	if err := ks.SetPrivateKeyEntry(alias, entry, password); err != nil {
		return keystore.KeyStore{}, fmt.Errorf("failed to initialize container: %w", err)
	}

	return ks, nil
}

// WriteContainer serializes a container and writes it to path with owner-only
// permissions.
func (c *Codec) WriteContainer(container keystore.KeyStore, path string, password []byte) error {
	var buf bytes.Buffer
	if err := container.Store(&buf, password); err != nil {
		return fmt.Errorf("failed to serialize container: %w", err)
	}
	if err := afero.WriteFile(c.fs, path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write container %q: %w", path, err)
	}
	return nil
}

// LoadPrivateKey opens the container at path and returns the private key
// stored under alias. When the alias yields no key, all aliases are scanned
// in sorted order and the first that yields one wins. A total miss fails with
// ErrKeyNotFound; a decrypt failure surfaces as ErrIntegrity before any scan.
func (c *Codec) LoadPrivateKey(path, alias string, password []byte) (crypto.Signer, error) {
	container, err := c.openContainer(path, password)
	if err != nil {
		return nil, err
	}
	if key, ok := privateKeyAt(container, alias, password); ok {
		return key, nil
	}
	aliases := container.Aliases()
	sort.Strings(aliases)
	for _, a := range aliases {
		if key, ok := privateKeyAt(container, a, password); ok {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w in container %q, wrong password?", ErrKeyNotFound, path)
}

// LoadCertificate is the certificate counterpart of LoadPrivateKey, with one
// deliberate difference: a total miss after scanning every alias returns
// (nil, nil) instead of failing.
func (c *Codec) LoadCertificate(path, alias string, password []byte) (*x509.Certificate, error) {
	container, err := c.openContainer(path, password)
	if err != nil {
		return nil, err
	}
	if cert, ok := certificateAt(container, alias, password); ok {
		return cert, nil
	}
	aliases := container.Aliases()
	sort.Strings(aliases)
	for _, a := range aliases {
		if cert, ok := certificateAt(container, a, password); ok {
			return cert, nil
		}
	}
	return nil, nil
}

// GenerateKeyPair generates an RSA key pair of the given bit size using a
// cryptographically secure random source. No minimum size is enforced here;
// acceptable sizes are a policy concern of the caller.
func GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key pair: %w", err)
	}
	return key, nil
}

func (c *Codec) openContainer(path string, password []byte) (keystore.KeyStore, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return keystore.KeyStore{}, fmt.Errorf("failed to open container %q: %w", path, err)
	}
	defer f.Close()

	container := keystore.New()
	if err := container.Load(f, password); err != nil {
		return keystore.KeyStore{}, fmt.Errorf("%w: container %q: %v", ErrIntegrity, path, err)
	}
	return container, nil
}

func privateKeyAt(container keystore.KeyStore, alias string, password []byte) (crypto.Signer, bool) {
	if !container.IsPrivateKeyEntry(alias) {
		return nil, false
	}
	entry, err := container.GetPrivateKeyEntry(alias, password)
	if err != nil {
		return nil, false
	}
	key, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
	if err != nil {
		return nil, false
	}
	signer, ok := key.(crypto.Signer)
	return signer, ok
}

func certificateAt(container keystore.KeyStore, alias string, password []byte) (*x509.Certificate, bool) {
	if container.IsPrivateKeyEntry(alias) {
		entry, err := container.GetPrivateKeyEntry(alias, password)
		if err == nil && len(entry.CertificateChain) > 0 {
			if cert, err := x509.ParseCertificate(entry.CertificateChain[0].Content); err == nil {
				return cert, true
			}
		}
	}
	if container.IsTrustedCertificateEntry(alias) {
		entry, err := container.GetTrustedCertificateEntry(alias)
		if err == nil {
			if cert, err := x509.ParseCertificate(entry.Certificate.Content); err == nil {
				return cert, true
			}
		}
	}
	return nil, false
}

func selfSignedCertificate(key crypto.Signer) ([]byte, error) {
	// Random 128-bit serial number
	sn, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: sn,
		Subject: pkix.Name{
			CommonName: certSubjectCN,
		},
		NotBefore:          time.Now(),
		NotAfter:           time.Now().AddDate(20, 0, 0),
		KeyUsage:           x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		SignatureAlgorithm: x509.SHA512WithRSA,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to create self-signed certificate: %w", err)
	}
	return certDER, nil
}
