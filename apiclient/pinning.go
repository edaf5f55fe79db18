package apiclient

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

type pinSet map[[sha256.Size]byte]struct{}

func parsePins(pins []string) (pinSet, error) {
	if len(pins) == 0 {
		return nil, nil
	}
	set := make(pinSet, len(pins))
	for _, p := range pins {
		raw, err := base64.StdEncoding.DecodeString(p)
		if err != nil || len(raw) != sha256.Size {
			return nil, fmt.Errorf("apiclient: invalid pin %q: want base64 sha256", p)
		}
		set[[sha256.Size]byte(raw)] = struct{}{}
	}
	return set, nil
}

// verify runs after standard chain verification.
func (s pinSet) verify(cs tls.ConnectionState) error {
	for _, cert := range cs.PeerCertificates {
		if _, ok := s[sha256.Sum256(cert.RawSubjectPublicKeyInfo)]; ok {
			return nil
		}
	}
	return ErrPinMismatch
}

// PinFor returns the pin string for cert.
func PinFor(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}
