package tsp

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/digitorus/timestamp"
)

const (
	ContentTypeQuery = "application/timestamp-query"
	ContentTypeReply = "application/timestamp-reply"

	maxReplySize = 1 << 20
)

var (
	ErrConnection            = errors.New("tsp: connection to timestamp authority failed")
	ErrUnexpectedContentType = errors.New("tsp: unexpected content type")
	ErrUnexpectedStatus      = errors.New("tsp: unexpected response status")
	ErrInvalidReply          = errors.New("tsp: invalid timestamp reply")
)

// Result holds everything needed to persist a trusted timestamp.
type Result struct {
	ServerIdentity string
	Query          []byte
	Reply          []byte
	Time           time.Time
}

// Client talks to a single RFC 3161 timestamp authority.
type Client struct {
	ServerURL  string
	HTTPClient *http.Client
}

// New returns a client for serverURL. A non-positive timeout falls back to 30s.
func New(serverURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		ServerURL:  strings.TrimSpace(serverURL),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Timestamp requests a timestamp token for a SHA-256 digest.
func (c *Client) Timestamp(ctx context.Context, digest []byte) (*Result, error) {
	if len(digest) != crypto.SHA256.Size() {
		return nil, fmt.Errorf("tsp: digest must be %d bytes, got %d", crypto.SHA256.Size(), len(digest))
	}

	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("tsp: nonce: %w", err)
	}
	tsq := &timestamp.Request{
		HashAlgorithm: crypto.SHA256,
		HashedMessage: digest,
		Certificates:  true,
		Nonce:         nonce,
	}
	query, err := tsq.Marshal()
	if err != nil {
		return nil, fmt.Errorf("tsp: build query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServerURL, bytes.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	req.Header.Set("Content-Type", ContentTypeQuery)
	req.Header.Set("Accept", ContentTypeReply)

	cli := c.HTTPClient
	if cli == nil {
		cli = http.DefaultClient
	}
	log.Printf("[tsp] requesting timestamp from %s", c.ServerURL)
	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mt != ContentTypeReply {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedContentType, resp.Header.Get("Content-Type"))
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read reply: %v", ErrConnection, err)
	}

	ts, err := parseReply(reply, digest)
	if err != nil {
		return nil, err
	}
	if ts.Nonce != nil && ts.Nonce.Cmp(nonce) != 0 {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidReply)
	}

	return &Result{
		ServerIdentity: c.ServerURL,
		Query:          query,
		Reply:          reply,
		Time:           ts.Time,
	}, nil
}

// Verify checks that a stored reply covers digest and returns the stamped time.
func Verify(reply, digest []byte) (time.Time, error) {
	ts, err := parseReply(reply, digest)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Time, nil
}

func parseReply(reply, digest []byte) (*timestamp.Timestamp, error) {
	ts, err := timestamp.ParseResponse(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}
	if ts.HashAlgorithm != crypto.SHA256 || !bytes.Equal(ts.HashedMessage, digest) {
		return nil, fmt.Errorf("%w: message imprint does not match", ErrInvalidReply)
	}
	return ts, nil
}
