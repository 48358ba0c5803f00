package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Outbound header names. External receivers depend on these verbatim.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-ID"
)

// SignaturePrefix versions the signature scheme.
const SignaturePrefix = "v1="

// Sign computes the signature for a webhook delivery.
// The signed payload is "{unix_timestamp_seconds}.{raw_json_body}" and the
// result is "v1=" followed by the hex-encoded HMAC-SHA256 digest. Receivers
// must reproduce this string byte for byte, so nothing here may change
// without a version bump.
func Sign(body []byte, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// TimestampHeader formats a unix timestamp for the timestamp header
func TimestampHeader(timestamp int64) string {
	return strconv.FormatInt(timestamp, 10)
}

// Verify recomputes the expected signature and compares in constant time.
// Malformed input of any kind returns false rather than an error.
func Verify(body []byte, timestamp string, sig string, secret string) bool {
	if secret == "" || sig == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	expected := Sign(body, ts, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}
