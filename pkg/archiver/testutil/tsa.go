package testutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/tsp"
	"github.com/digitorus/timestamp"
	"github.com/stretchr/testify/require"
)

// TSA signs timestamp replies in-process with a throwaway certificate.
type TSA struct {
	cert *x509.Certificate
	key  crypto.Signer

	// Imprint, when set, is stamped instead of the requested digest.
	Imprint []byte
	Calls   int
}

func NewTSA(t *testing.T) *TSA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test tsa"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &TSA{cert: cert, key: key}
}

// Timestamp satisfies the signer used by the archive job service.
func (a *TSA) Timestamp(_ context.Context, digest []byte) (*tsp.Result, error) {
	a.Calls++
	imprint := digest
	if a.Imprint != nil {
		imprint = a.Imprint
	}
	ts := timestamp.Timestamp{
		HashAlgorithm:     crypto.SHA256,
		HashedMessage:     imprint,
		Time:              time.Now().UTC().Truncate(time.Second),
		Policy:            asn1.ObjectIdentifier{1, 2, 3, 4, 1},
		SerialNumber:      big.NewInt(int64(a.Calls)),
		AddTSACertificate: true,
	}
	reply, err := ts.CreateResponse(a.cert, a.key)
	if err != nil {
		return nil, err
	}
	return &tsp.Result{ServerIdentity: "https://tsa.example", Query: digest, Reply: reply, Time: ts.Time}, nil
}

// OtherImprint returns a SHA-256 digest unrelated to any test artifact.
func OtherImprint() []byte {
	sum := sha256.Sum256([]byte("not the artifact"))
	return sum[:]
}
