package token_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signerkit/softtoken/internal/token"
)

var testKeyOnce = sync.OnceValues(func() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
})

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := testKeyOnce()
	require.NoError(t, err)
	return key
}

func TestContainerRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	codec := token.NewCodec(fs)
	key := testKey(t)
	password := []byte("secret1234")

	container, err := codec.CreateContainer(key, token.PinAlias, password)
	require.NoError(t, err)
	require.NoError(t, codec.WriteContainer(container, "/keys/a.jks", password))

	loaded, err := codec.LoadPrivateKey("/keys/a.jks", token.PinAlias, password)
	require.NoError(t, err)
	loadedRSA, ok := loaded.(*rsa.PrivateKey)
	require.True(t, ok)
	assert.True(t, key.Equal(loadedRSA))

	cert, err := codec.LoadCertificate("/keys/a.jks", token.PinAlias, password)
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, "KeyHolder", cert.Subject.CommonName)
	assert.True(t, key.PublicKey.Equal(cert.PublicKey))
	assert.Equal(t, x509.SHA512WithRSA, cert.SignatureAlgorithm)
	assert.NoError(t, cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature))
}

func TestLoadWrongPassword(t *testing.T) {
	fs := afero.NewMemMapFs()
	codec := token.NewCodec(fs)
	password := []byte("secret1234")

	container, err := codec.CreateContainer(testKey(t), token.PinAlias, password)
	require.NoError(t, err)
	require.NoError(t, codec.WriteContainer(container, "/keys/a.jks", password))

	// Decryption fails before any alias lookup happens.
	_, err = codec.LoadPrivateKey("/keys/a.jks", token.PinAlias, []byte("wrong"))
	assert.ErrorIs(t, err, token.ErrIntegrity)

	_, err = codec.LoadCertificate("/keys/a.jks", token.PinAlias, []byte("wrong"))
	assert.ErrorIs(t, err, token.ErrIntegrity)
}

func TestAliasFallback(t *testing.T) {
	fs := afero.NewMemMapFs()
	codec := token.NewCodec(fs)
	key := testKey(t)
	password := []byte("secret1234")

	container, err := codec.CreateContainer(key, "other", password)
	require.NoError(t, err)
	require.NoError(t, codec.WriteContainer(container, "/keys/a.jks", password))

	loaded, err := codec.LoadPrivateKey("/keys/a.jks", token.PinAlias, password)
	require.NoError(t, err)
	loadedRSA, ok := loaded.(*rsa.PrivateKey)
	require.True(t, ok)
	assert.True(t, key.Equal(loadedRSA))

	cert, err := codec.LoadCertificate("/keys/a.jks", token.PinAlias, password)
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.True(t, key.PublicKey.Equal(cert.PublicKey))
}

func TestTotalMissAsymmetry(t *testing.T) {
	fs := afero.NewMemMapFs()
	codec := token.NewCodec(fs)
	password := []byte("secret1234")

	t.Run("trusted certificate only", func(t *testing.T) {
		ks := keystore.New()
		require.NoError(t, ks.SetTrustedCertificateEntry("trusted", keystore.TrustedCertificateEntry{
			CreationTime: time.Now(),
			Certificate:  keystore.Certificate{Type: "X.509", Content: testCertDER(t)},
		}))
		writeKeystore(t, fs, "/keys/certonly.jks", ks, password)

		// The private key path fails hard on a total miss.
		_, err := codec.LoadPrivateKey("/keys/certonly.jks", token.PinAlias, password)
		assert.ErrorIs(t, err, token.ErrKeyNotFound)

		// The certificate path still finds the trusted entry via fallback.
		cert, err := codec.LoadCertificate("/keys/certonly.jks", token.PinAlias, password)
		require.NoError(t, err)
		assert.NotNil(t, cert)
	})

	t.Run("empty container", func(t *testing.T) {
		writeKeystore(t, fs, "/keys/empty.jks", keystore.New(), password)

		_, err := codec.LoadPrivateKey("/keys/empty.jks", token.PinAlias, password)
		assert.ErrorIs(t, err, token.ErrKeyNotFound)

		// The certificate path reports an absent certificate without failing.
		cert, err := codec.LoadCertificate("/keys/empty.jks", token.PinAlias, password)
		require.NoError(t, err)
		assert.Nil(t, cert)
	})
}

func TestGenerateKeyPair(t *testing.T) {
	key, err := token.GenerateKeyPair(1024)
	require.NoError(t, err)
	assert.Equal(t, 1024, key.N.BitLen())
}

func writeKeystore(t *testing.T, fs afero.Fs, path string, ks keystore.KeyStore, password []byte) {
	t.Helper()
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, ks.Store(f, password))
}

func testCertDER(t *testing.T) []byte {
	t.Helper()
	key := testKey(t)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().AddDate(1, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	return der
}
