package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewJobID generates a job identifier: "job_" followed by 16 random bytes hex-encoded.
func NewJobID() string {
	return "job_" + randomHex(16)
}

// NewToken generates an opaque per-job authentication token: 32 random bytes hex-encoded.
// The token is returned to the submitter once and never stored in plaintext;
// callers must store only HashHex(token).
func NewToken(lengthBytes int) string {
	if lengthBytes <= 0 {
		lengthBytes = 32
	}
	return randomHex(lengthBytes)
}

// HashHex returns the SHA-256 hex digest of s, used for token_hash and ip_hash.
func HashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// panicking surfaces that immediately instead of handing out a weak id.
		panic(fmt.Sprintf("common: failed to read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}

// NewDocumentID generates a unique document identity id.
// Format: doc_<uuid>
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// NewArtifactID generates a unique artifact id. Format: artifact_<uuid>
func NewArtifactID() string {
	return "artifact_" + uuid.New().String()
}
