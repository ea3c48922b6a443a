package guard

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// TimestampTolerance is the replay window for timestamped signatures. It is a
// protocol constant shared with every peer, not a per-channel setting.
const TimestampTolerance = 300 * time.Second

const (
	HeaderHubSignature  = "X-Hub-Signature-256" // sha256=<hex>
	HeaderSignature     = "X-Signature"         // t=<unix>,v1=<hex>
	HeaderBareSignature = "X-Webhook-Signature" // bare hex
)

const (
	SchemeHub         = "hub"
	SchemeTimestamped = "timestamped"
	SchemeBare        = "bare"
)

const (
	deriveIterations = 4096
	deriveKeyLen     = 32
	saltLen          = 16
)

// DeriveKey stretches a channel secret into the HMAC key. The derived key is
// what gets stored; the plaintext secret is never persisted. Both sides of
// the protocol derive the same key from the secret and the shared salt.
func DeriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, deriveIterations, deriveKeyLen, sha256.New)
}

// HashSecret generates a fresh salt and derives the storable key for a new
// channel secret.
func HashSecret(secret string) (keyHex, saltHex string, err error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}
	key := DeriveKey(secret, salt)
	return hex.EncodeToString(key), hex.EncodeToString(salt), nil
}

// GenerateSecret returns a random channel secret. It is shown to the caller
// exactly once at provisioning time.
func GenerateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(raw), nil
}

func computeHMAC(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Signature is one parsed inbound signature header.
type Signature struct {
	Scheme    string
	Timestamp int64 // only for SchemeTimestamped
	Hex       string
}

// ParseSignature extracts the first recognized signature header. Returns nil
// when no signature header is present.
func ParseSignature(hdr http.Header) *Signature {
	if v := hdr.Get(HeaderHubSignature); v != "" {
		return &Signature{Scheme: SchemeHub, Hex: strings.TrimPrefix(v, "sha256=")}
	}

	if v := hdr.Get(HeaderSignature); v != "" {
		sig := &Signature{Scheme: SchemeTimestamped}
		for _, part := range strings.Split(v, ",") {
			kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "t":
				if ts, err := strconv.ParseInt(kv[1], 10, 64); err == nil {
					sig.Timestamp = ts
				}
			case "v1":
				sig.Hex = kv[1]
			}
		}
		return sig
	}

	if v := hdr.Get(HeaderBareSignature); v != "" {
		return &Signature{Scheme: SchemeBare, Hex: v}
	}

	return nil
}

// Verify checks a parsed signature against the body. The comparison is
// constant time regardless of where a mismatch occurs.
func Verify(key []byte, sig *Signature, body []byte, now time.Time) (bool, string) {
	if sig == nil || sig.Hex == "" {
		return false, ReasonMissingSignature
	}

	signed := body
	if sig.Scheme == SchemeTimestamped {
		if sig.Timestamp == 0 {
			return false, ReasonInvalidSignature
		}
		age := now.Unix() - sig.Timestamp
		if age < 0 {
			age = -age
		}
		if age > int64(TimestampTolerance.Seconds()) {
			return false, ReasonTimestampOutOfTolerance
		}
		signed = []byte(fmt.Sprintf("%d.%s", sig.Timestamp, body))
	}

	expected := computeHMAC(key, signed)
	if !hmac.Equal([]byte(expected), []byte(sig.Hex)) {
		return false, ReasonInvalidSignature
	}
	return true, ""
}

// Signer signs this system's own outbound payloads. The protocol is
// symmetric: peers verify our requests the same way we verify theirs.
type Signer struct {
	key []byte
	now func() time.Time
}

func NewSigner(key []byte) *Signer {
	return &Signer{key: key, now: time.Now}
}

// NewSignerFromSecret derives the signing key from a plaintext secret and a
// hex-encoded salt, as exchanged at provisioning time.
func NewSignerFromSecret(secret, saltHex string) (*Signer, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, err
	}
	return NewSigner(DeriveKey(secret, salt)), nil
}

// SignRequest sets both supported signature headers for an outbound body:
// the plain digest form and the timestamped replay-protected form.
func (s *Signer) SignRequest(hdr http.Header, body []byte) {
	ts := s.now().Unix()
	hdr.Set(HeaderHubSignature, "sha256="+computeHMAC(s.key, body))
	hdr.Set(HeaderSignature, fmt.Sprintf("t=%d,v1=%s", ts, computeHMAC(s.key, []byte(fmt.Sprintf("%d.%s", ts, body)))))
}
