// Package tls provides certificates for the public API and tracking listener.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// Provider supplies the listener TLS configuration from either manual
// certificate files or Let's Encrypt.
type Provider struct {
	config  *tls.Config
	manager *autocert.Manager
}

// LoadCertificate creates a provider from PEM files
func LoadCertificate(certFile, keyFile string) (*Provider, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &Provider{
		config: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}, nil
}

// NewACME creates a provider that obtains certificates for domains on demand
func NewACME(email string, domains []string, cacheDir string) *Provider {
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Email:      email,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	return &Provider{
		config: &tls.Config{
			GetCertificate: m.GetCertificate,
			MinVersion:     tls.VersionTLS12,
			NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
		},
		manager: m,
	}
}

// TLSConfig returns the server TLS configuration
func (p *Provider) TLSConfig() *tls.Config {
	return p.config
}

// ACME reports whether certificates come from Let's Encrypt
func (p *Provider) ACME() bool {
	return p.manager != nil
}

// ChallengeHandler answers HTTP-01 challenges and redirects everything else
// to HTTPS. It returns nil for manual certificates.
func (p *Provider) ChallengeHandler() http.Handler {
	if p.manager == nil {
		return nil
	}
	return p.manager.HTTPHandler(nil)
}

// CertificateInfo contains information about a certificate
type CertificateInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DaysLeft  int
	DNSNames  []string
}

// GetCertificateInfo reads certificate info from a PEM file
func GetCertificateInfo(certFile string) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertificateInfo{
		Subject:   cert.Subject.CommonName,
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DaysLeft:  int(time.Until(cert.NotAfter).Hours() / 24),
		DNSNames:  cert.DNSNames,
	}, nil
}
