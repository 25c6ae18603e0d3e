package matcher

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// normEpsilon is added to each norm so zero vectors score 0 instead of NaN.
const normEpsilon = 1e-6

// CosineSimilarity returns dot(a, b) / ((|a|+eps) * (|b|+eps)) clamped to
// [-1, 1]. Vectors of different or zero length score 0. The result is
// symmetric, and CosineSimilarity(a, a) approaches 1 as |a| grows.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := (math.Sqrt(normA) + normEpsilon) * (math.Sqrt(normB) + normEpsilon)

	return max(-1, min(1, dot/denom))
}

// validEmbedding rejects empty vectors and vectors holding NaN or Inf.
func validEmbedding(embedding []float64) bool {
	if len(embedding) == 0 {
		return false
	}
	for _, v := range embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// NewIdentityID derives a "PERSON_" id from the registration time and a
// random UUID: the first 12 upper-case hex digits of their SHA-256.
func NewIdentityID(now time.Time) string {
	sum := sha256.Sum256([]byte(now.Format(time.RFC3339Nano) + "_" + uuid.NewString()))
	return "PERSON_" + strings.ToUpper(hex.EncodeToString(sum[:])[:12])
}
