package fiserv

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"
)

// Algorithm is the value sent in the hash_algorithm field.
type Algorithm string

const (
	HMACSHA256 Algorithm = "HMACSHA256"
	HMACSHA384 Algorithm = "HMACSHA384"
	HMACSHA512 Algorithm = "HMACSHA512"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// Field names that carry a signature and never take part in the signed string.
var signatureFields = []string{FieldHashExtended, FieldHash}

func (a Algorithm) newHash() (func() hash.Hash, error) {
	switch a {
	case HMACSHA256:
		return sha256.New, nil
	case HMACSHA384:
		return sha512.New384, nil
	case HMACSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

// Sign computes the extended hash for a Connect request: every field except
// hashExtended/hash, sorted by name, values joined with "|", HMAC'd with the
// shared secret and Base64 encoded.
func Sign(fields map[string]string, secret string, alg Algorithm) (string, error) {
	newHash, err := alg.newHash()
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if isSignatureField(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = fields[k]
	}

	return computeHMAC(newHash, secret, strings.Join(values, "|")), nil
}

// VerifyResponseSignature checks the response_hash sent on the browser
// redirect. Signed string: approval_code|chargetotal|currency|txndatetime|storename.
func VerifyResponseSignature(approvalCode, chargeTotal, currency, timestamp, storeName, provided, secret string) bool {
	payload := strings.Join([]string{approvalCode, chargeTotal, currency, timestamp, storeName}, "|")
	return verify(payload, provided, secret)
}

// VerifyNotificationSignature checks the notification_hash of the
// server-to-server notification. Signed string:
// chargetotal|currency|txndatetime|storename|approval_code.
//
// The order differs from VerifyResponseSignature; both follow the gateway.
func VerifyNotificationSignature(chargeTotal, currency, timestamp, storeName, approvalCode, provided, secret string) bool {
	payload := strings.Join([]string{chargeTotal, currency, timestamp, storeName, approvalCode}, "|")
	return verify(payload, provided, secret)
}

func verify(payload, provided, secret string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(provided))
	if err != nil || len(got) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	want := mac.Sum(nil)

	if len(got) != len(want) {
		return false
	}
	return hmac.Equal(got, want)
}

func computeHMAC(newHash func() hash.Hash, secret, payload string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func isSignatureField(name string) bool {
	for _, f := range signatureFields {
		if name == f {
			return true
		}
	}
	return false
}
