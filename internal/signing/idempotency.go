package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewIdempotencyKey derives the key for one submission attempt from the
// document, the signer and a unique monotonic component. The key is created
// once per attempt and reused by every retry of that attempt.
func NewIdempotencyKey(documentID, signerEmail string) string {
	doc := documentID
	if doc == "" {
		doc = "new"
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(signerEmail))))
	return doc + ":" + hex.EncodeToString(sum[:8]) + ":" + ulid.Make().String()
}
