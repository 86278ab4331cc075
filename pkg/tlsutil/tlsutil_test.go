package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skystream/errors"
)

// writeTestCert creates a self-signed certificate and key under t.TempDir.
func writeTestCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))
	return certFile, keyFile
}

func TestLoadClientConfig_Disabled(t *testing.T) {
	cfg, err := LoadClientConfig(ClientConfig{CAFiles: []string{"/does/not/exist"}})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadClientConfig_CAAndClientCert(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	cfg, err := LoadClientConfig(ClientConfig{
		Enabled:    true,
		CAFiles:    []string{certFile},
		CertFile:   certFile,
		KeyFile:    keyFile,
		ServerName: "rabbit.internal",
		MinVersion: "1.3",
	})
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Equal(t, "rabbit.internal", cfg.ServerName)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestLoadClientConfig_DefaultsToTLS12(t *testing.T) {
	cfg, err := LoadClientConfig(ClientConfig{Enabled: true, InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Empty(t, cfg.Certificates)
}

func TestLoadClientConfig_Errors(t *testing.T) {
	certFile, _ := writeTestCert(t)
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o644))

	tests := []struct {
		name    string
		cfg     ClientConfig
		invalid bool
	}{
		{"missing CA file", ClientConfig{Enabled: true, CAFiles: []string{"/does/not/exist.pem"}}, false},
		{"bad PEM", ClientConfig{Enabled: true, CAFiles: []string{garbage}}, false},
		{"cert without key", ClientConfig{Enabled: true, CertFile: certFile}, true},
		{"bad min version", ClientConfig{Enabled: true, MinVersion: "1.0"}, true},
		{"unreadable key pair", ClientConfig{Enabled: true, CertFile: certFile, KeyFile: garbage}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadClientConfig(tt.cfg)
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.IsInvalid(err))
		})
	}
}
