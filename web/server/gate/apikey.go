package gate

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyHeader is the request header that carries the API key. Keys are
	// also accepted as bearer tokens in the Authorization header.
	APIKeyHeader = "X-Api-Key"

	apiKeySize      = 32
	verifiedKeysMax = 1024
)

// APIKey allows requests carrying an API key that matches one of a set of
// bcrypt hashes. Verified keys are remembered by their SHA-256 digest, so that
// the bcrypt comparison only runs on the first use of a key.
type APIKey struct {
	hashes   [][]byte
	verified *lru.Cache[[sha256.Size]byte, struct{}]
}

var _ Gate = &APIKey{}

// NewAPIKey returns a new APIKey gate accepting keys that match any of the
// given bcrypt hashes.
func NewAPIKey(hashes ...string) (*APIKey, error) {
	if len(hashes) == 0 {
		return nil, errors.New("at least one API key hash is required")
	}

	gate := &APIKey{hashes: make([][]byte, 0, len(hashes))}
	for i, h := range hashes {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("invalid API key hash at index %d: %w", i, err)
		}
		gate.hashes = append(gate.hashes, []byte(h))
	}

	var err error
	gate.verified, err = lru.New[[sha256.Size]byte, struct{}](verifiedKeysMax)
	if err != nil {
		return nil, fmt.Errorf("failed creating API key cache: %w", err)
	}

	return gate, nil
}

// Check implements the Gate interface.
func (g *APIKey) Check(r *http.Request) Decision {
	key := requestAPIKey(r)
	if key == "" {
		return Deny("missing API key")
	}

	digest := sha256.Sum256([]byte(key))
	if g.verified.Contains(digest) {
		return Allow()
	}

	for _, h := range g.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			g.verified.Add(digest, struct{}{})
			return Allow()
		}
	}

	return Deny("invalid API key")
}

func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}

	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}

	return ""
}

// GenerateAPIKey returns a new random API key encoded in base58, and its
// bcrypt hash.
func GenerateAPIKey() (key, hash string, err error) {
	b := make([]byte, apiKeySize)
	if _, err = rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed generating random data: %w", err)
	}
	key = base58.Encode(b)

	hash, err = HashAPIKey(key)
	if err != nil {
		return "", "", err
	}

	return key, hash, nil
}

// HashAPIKey returns the bcrypt hash of an API key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed hashing API key: %w", err)
	}
	return string(h), nil
}
