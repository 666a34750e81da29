// Package dkim signs outgoing campaign messages.
package dkim

import (
	"bytes"
	"crypto"
	"fmt"
	"strings"

	"github.com/emersion/go-msgauth/dkim"
)

// signedHeaders are the header fields covered by the signature when present
var signedHeaders = []string{
	"From",
	"Reply-To",
	"To",
	"Subject",
	"Date",
	"Message-ID",
	"MIME-Version",
	"Content-Type",
}

// Signer adds DKIM-Signature headers for one domain and selector
type Signer struct {
	key      crypto.Signer
	domain   string
	selector string
}

// NewSigner creates a signer for an RSA or Ed25519 key
func NewSigner(key crypto.Signer, domain, selector string) *Signer {
	return &Signer{
		key:      key,
		domain:   domain,
		selector: selector,
	}
}

// NewSignerFromFile creates a signer from a PEM key file
func NewSignerFromFile(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, domain, selector), nil
}

// Sign returns message with a DKIM-Signature header prepended
func (s *Signer) Sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		HeaderKeys:             presentHeaders(message),
	}

	var signed bytes.Buffer
	signed.Grow(len(message) + 512)
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return signed.Bytes(), nil
}

// Domain returns the signing domain
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the DNS selector
func (s *Signer) Selector() string {
	return s.selector
}

// presentHeaders filters signedHeaders to the fields the message carries.
// From is always included since the signature is invalid without it.
func presentHeaders(message []byte) []string {
	end := bytes.Index(message, []byte("\r\n\r\n"))
	if end < 0 {
		end = bytes.Index(message, []byte("\n\n"))
	}
	if end < 0 {
		end = len(message)
	}
	header := bytes.ToLower(message[:end])

	keys := []string{"From"}
	for _, h := range signedHeaders[1:] {
		name := append([]byte(strings.ToLower(h)), ':')
		if bytes.HasPrefix(header, name) || bytes.Contains(header, append([]byte("\n"), name...)) {
			keys = append(keys, h)
		}
	}
	return keys
}
