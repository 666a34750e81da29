package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// generateTestCertificate creates a self-signed certificate and key for testing
func generateTestCertificate() (certPEM, keyPEM []byte, err error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "track.example.com",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"track.example.com"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return certPEM, keyPEM, nil
}

func writeTestCertificate(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	certPEM, keyPEM, err := generateTestCertificate()
	if err != nil {
		t.Fatalf("failed to generate test certificate: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestLoadCertificate(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t)

	t.Run("valid certificate", func(t *testing.T) {
		p, err := LoadCertificate(certFile, keyFile)
		if err != nil {
			t.Fatalf("unexpected error loading valid certificate: %v", err)
		}
		if len(p.TLSConfig().Certificates) != 1 {
			t.Error("expected one certificate")
		}
		if p.ACME() {
			t.Error("manual provider reports ACME")
		}
		if p.ChallengeHandler() != nil {
			t.Error("manual provider should have no challenge handler")
		}
	})

	t.Run("non-existent cert file", func(t *testing.T) {
		if _, err := LoadCertificate("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
			t.Error("expected error for non-existent files")
		}
	})

	t.Run("invalid cert", func(t *testing.T) {
		invalidCert := filepath.Join(t.TempDir(), "invalid.pem")
		if err := os.WriteFile(invalidCert, []byte("invalid"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadCertificate(invalidCert, keyFile); err == nil {
			t.Error("expected error for invalid certificate")
		}
	})
}

func TestGetCertificateInfo(t *testing.T) {
	certFile, _ := writeTestCertificate(t)

	info, err := GetCertificateInfo(certFile)
	if err != nil {
		t.Fatalf("GetCertificateInfo() error = %v", err)
	}
	if info.Subject != "track.example.com" {
		t.Errorf("Subject = %q, want track.example.com", info.Subject)
	}
	if len(info.DNSNames) != 1 || info.DNSNames[0] != "track.example.com" {
		t.Errorf("DNSNames = %v", info.DNSNames)
	}
	if info.DaysLeft != 0 {
		t.Errorf("DaysLeft = %d, want 0 for a one-day certificate", info.DaysLeft)
	}

	if _, err := GetCertificateInfo("/nonexistent/cert.pem"); err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestNewACME(t *testing.T) {
	p := NewACME("ops@example.com", []string{"track.example.com"}, t.TempDir())

	if !p.ACME() {
		t.Error("ACME() = false")
	}
	if p.TLSConfig().GetCertificate == nil {
		t.Error("ACME provider should resolve certificates dynamically")
	}

	h := p.ChallengeHandler()
	if h == nil {
		t.Fatal("ChallengeHandler() = nil")
	}
	req := httptest.NewRequest(http.MethodGet, "http://track.example.com/campaigns", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Errorf("non-challenge request status = %d, want redirect", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://track.example.com/campaigns" {
		t.Errorf("Location = %q", loc)
	}
}
