package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func generateSelfSignedCert(certFile, keyFile string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return err
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return err
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return err
	}

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	keyOut, err := os.Create(keyFile)
	if err != nil {
		return err
	}
	defer keyOut.Close()
	return pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
}

func TestListenerConfigDisabled(t *testing.T) {
	tlsConfig, err := NewListenerTLSConfig(ListenerConfig{Enabled: false})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if tlsConfig != nil {
		t.Error("expected nil TLS config when disabled")
	}
}

func TestUpstreamConfigDisabled(t *testing.T) {
	tlsConfig, err := NewUpstreamTLSConfig(UpstreamConfig{Enabled: false})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if tlsConfig != nil {
		t.Error("expected nil TLS config when disabled")
	}
}

func TestListenerConfigMissingCert(t *testing.T) {
	cfg := ListenerConfig{
		Enabled:  true,
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	}

	if _, err := NewListenerTLSConfig(cfg); err == nil {
		t.Error("expected error for missing certificate files")
	}
}

func TestUpstreamConfigMissingCA(t *testing.T) {
	cfg := UpstreamConfig{
		Enabled: true,
		CAFile:  "/nonexistent/ca.pem",
	}

	if _, err := NewUpstreamTLSConfig(cfg); err == nil {
		t.Error("expected error for missing CA file")
	}
}

func TestListenerConfigValidCert(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "server.crt")
	keyFile := filepath.Join(tmpDir, "server.key")

	if err := generateSelfSignedCert(certFile, keyFile); err != nil {
		t.Fatalf("failed to generate cert: %v", err)
	}

	cfg := ListenerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}

	tlsConfig, err := NewListenerTLSConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tlsConfig == nil {
		t.Fatal("expected non-nil TLS config")
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("expected 1 certificate, got %d", len(tlsConfig.Certificates))
	}
	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("expected min version TLS 1.2, got %d", tlsConfig.MinVersion)
	}
}

func TestListenerConfigClientAuth(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "server.crt")
	keyFile := filepath.Join(tmpDir, "server.key")

	if err := generateSelfSignedCert(certFile, keyFile); err != nil {
		t.Fatalf("failed to generate cert: %v", err)
	}

	cfg := ListenerConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     certFile,
		ClientAuth: true,
	}

	tlsConfig, err := NewListenerTLSConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tlsConfig.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("expected RequireAndVerifyClientCert, got %v", tlsConfig.ClientAuth)
	}
	if tlsConfig.ClientCAs == nil {
		t.Error("expected client CA pool to be set")
	}
}

func TestUpstreamConfigServerNameAndSkipVerify(t *testing.T) {
	cfg := UpstreamConfig{
		Enabled:            true,
		ServerName:         "shard-0.internal",
		InsecureSkipVerify: true,
	}

	tlsConfig, err := NewUpstreamTLSConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tlsConfig.ServerName != "shard-0.internal" {
		t.Errorf("expected ServerName 'shard-0.internal', got '%s'", tlsConfig.ServerName)
	}
	if !tlsConfig.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify to be true")
	}
}
