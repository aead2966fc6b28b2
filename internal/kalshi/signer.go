package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Signer produces the authentication headers the exchange requires on REST
// calls and the WebSocket upgrade. The signed message is the millisecond
// timestamp concatenated with the HTTP method and request path, signed with
// RSA-PSS (SHA-256, MGF1-SHA256, salt length equal to the digest length).
type Signer struct {
	accessKey string
	key       *rsa.PrivateKey
}

// NewSignerFromFile loads a PEM private key from disk.
func NewSignerFromFile(accessKey, keyPath string) (*Signer, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return NewSigner(accessKey, data)
}

// NewSigner parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func NewSigner(accessKey string, pemData []byte) (*Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}

	var key *rsa.PrivateKey
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = k
	} else if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		key = rsaKey
	} else {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Signer{accessKey: accessKey, key: key}, nil
}

// Sign returns the base64 signature over "<ms><method><path>".
func (s *Signer) Sign(timestampMs int64, method, path string) (string, error) {
	msg := strconv.FormatInt(timestampMs, 10) + method + path
	digest := sha256.Sum256([]byte(msg))

	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Headers builds the three auth headers for one request.
func (s *Signer) Headers(method, path string) (http.Header, error) {
	ts := time.Now().UnixMilli()
	sig, err := s.Sign(ts, method, path)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", s.accessKey)
	h.Set("KALSHI-ACCESS-SIGNATURE", sig)
	h.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(ts, 10))
	return h, nil
}
