package tsp_test

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
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/tsp"
	"github.com/digitorus/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTSA struct {
	cert *x509.Certificate
	key  crypto.Signer
}

func newFakeTSA(t *testing.T) *fakeTSA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
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
	return &fakeTSA{cert: cert, key: key}
}

func (f *fakeTSA) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tsp.ContentTypeQuery, r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		req, err := timestamp.ParseRequest(body)
		require.NoError(t, err)

		ts := timestamp.Timestamp{
			HashAlgorithm:     req.HashAlgorithm,
			HashedMessage:     req.HashedMessage,
			Time:              time.Now().UTC().Truncate(time.Second),
			Nonce:             req.Nonce,
			Policy:            asn1.ObjectIdentifier{1, 2, 3, 4, 1},
			SerialNumber:      big.NewInt(7),
			AddTSACertificate: req.Certificates,
		}
		reply, err := ts.CreateResponse(f.cert, f.key)
		require.NoError(t, err)
		w.Header().Set("Content-Type", tsp.ContentTypeReply)
		_, _ = w.Write(reply)
	}
}

func TestTimestamp_Success(t *testing.T) {
	tsa := newFakeTSA(t)
	srv := httptest.NewServer(tsa.handler(t))
	defer srv.Close()

	digest := sha256.Sum256([]byte("archive bytes"))
	res, err := tsp.New(srv.URL, time.Second).Timestamp(context.Background(), digest[:])
	require.NoError(t, err)
	assert.Equal(t, srv.URL, res.ServerIdentity)
	assert.NotEmpty(t, res.Query)
	assert.NotEmpty(t, res.Reply)

	stamped, err := tsp.Verify(res.Reply, digest[:])
	require.NoError(t, err)
	assert.Equal(t, res.Time, stamped)

	other := sha256.Sum256([]byte("tampered"))
	_, err = tsp.Verify(res.Reply, other[:])
	assert.ErrorIs(t, err, tsp.ErrInvalidReply)
}

func TestTimestamp_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", tsp.ContentTypeReply)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("x"))
	_, err := tsp.New(srv.URL, time.Second).Timestamp(context.Background(), digest[:])
	assert.ErrorIs(t, err, tsp.ErrUnexpectedStatus)
}

func TestTimestamp_UnexpectedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("x"))
	_, err := tsp.New(srv.URL, time.Second).Timestamp(context.Background(), digest[:])
	assert.ErrorIs(t, err, tsp.ErrUnexpectedContentType)
}

func TestTimestamp_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	digest := sha256.Sum256([]byte("x"))
	_, err := tsp.New(url, time.Second).Timestamp(context.Background(), digest[:])
	assert.ErrorIs(t, err, tsp.ErrConnection)
}

func TestTimestamp_GarbageReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", tsp.ContentTypeReply)
		_, _ = w.Write([]byte("not asn1"))
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("x"))
	_, err := tsp.New(srv.URL, time.Second).Timestamp(context.Background(), digest[:])
	assert.ErrorIs(t, err, tsp.ErrInvalidReply)
}

func TestTimestamp_RejectsShortDigest(t *testing.T) {
	_, err := tsp.New("http://127.0.0.1:1", time.Second).Timestamp(context.Background(), []byte{1, 2, 3})
	assert.Error(t, err)
}
