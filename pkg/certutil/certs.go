// Package certutil decodes the certificates the edge proxy keeps in its ACME
// store.
package certutil

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrNoCertificate = errors.New("no pem certificate found")

// ParseCertificate returns the first certificate in PEM encoded data.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoCertificate
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}

// DecodeStored decodes a certificate field of the ACME store: a base64
// encoded PEM bundle with the leaf first.
func DecodeStored(s string) (*x509.Certificate, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Wrap(err, "certificate is not base64")
	}
	return ParseCertificate(raw)
}

// EncodeStored encodes DER certificates the way the ACME store holds them.
func EncodeStored(der ...[]byte) string {
	var buf bytes.Buffer
	for _, d := range der {
		pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: d})
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// IsStaging reports whether cert came from a staging certificate authority.
// Browsers will not trust it.
func IsStaging(cert *x509.Certificate) bool {
	issuer := strings.ToUpper(cert.Issuer.CommonName + " " + strings.Join(cert.Issuer.Organization, " "))
	return strings.Contains(issuer, "STAGING") || strings.Contains(issuer, "FAKE LE")
}

// Check verifies that cert covers host and is valid at now.
func Check(cert *x509.Certificate, host string, now time.Time) error {
	if err := cert.VerifyHostname(host); err != nil {
		return err
	}
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate for %s is not valid until %s", host, cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate for %s expired at %s", host, cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}
