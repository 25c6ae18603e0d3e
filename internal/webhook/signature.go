package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	SignatureHeader = "X-Facewatch-Signature"
	TimestampHeader = "X-Facewatch-Timestamp"
	EventHeader     = "X-Facewatch-Event"
	signaturePrefix = "sha256="
)

// Sign returns the SignatureHeader value for a delivery sent at ts: the
// hex HMAC-SHA256 of "<unix seconds>.<payload>" keyed by secret. Binding
// the timestamp lets receivers reject replays.
func Sign(secret string, ts time.Time, payload []byte) string {
	return signaturePrefix + hex.EncodeToString(digest(secret, strconv.FormatInt(ts.Unix(), 10), payload))
}

// Verify checks the SignatureHeader and TimestampHeader values of a
// delivery in constant time.
func Verify(secret, timestamp string, payload []byte, signature string) bool {
	if len(signature) <= len(signaturePrefix) || signature[:len(signaturePrefix)] != signaturePrefix {
		return false
	}
	got, err := hex.DecodeString(signature[len(signaturePrefix):])
	if err != nil {
		return false
	}
	return hmac.Equal(got, digest(secret, timestamp, payload))
}

func digest(secret, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return mac.Sum(nil)
}
