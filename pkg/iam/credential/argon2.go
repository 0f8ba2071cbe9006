// Package credential hashes and verifies secrets with argon2id.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"golang.org/x/crypto/argon2"
)

// Verifier is the contract consumed by the auth services.
type Verifier interface {
	Hash(secret string) (string, error)
	Verify(digest, secret string) bool
	// VerifyAgainstNothing spends the same work as Verify for callers that
	// have no digest to check, e.g. an unknown user.
	VerifyAgainstNothing(secret string)
}

// Params are the argon2id cost parameters. Memory is in KiB.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams matches the PHC string $argon2id$v=19$m=65536,t=2,p=1.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher implements Verifier.
type Argon2Hasher struct {
	params Params
	dummy  string
}

// NewArgon2Hasher fills zero params with the defaults.
func NewArgon2Hasher(p Params) *Argon2Hasher {
	d := DefaultParams()
	if p.Memory == 0 {
		p.Memory = d.Memory
	}
	if p.Iterations == 0 {
		p.Iterations = d.Iterations
	}
	if p.Parallelism == 0 {
		p.Parallelism = d.Parallelism
	}
	if p.SaltLength == 0 {
		p.SaltLength = d.SaltLength
	}
	if p.KeyLength == 0 {
		p.KeyLength = d.KeyLength
	}
	h := &Argon2Hasher{params: p}
	h.dummy, _ = h.Hash("tenantcore-timing-equalizer")
	return h
}

// Hash returns a PHC formatted argon2id digest.
func (h *Argon2Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errx.Validation("secret is empty")
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", errx.Wrap(err, "failed to generate salt", errx.TypeInternal)
	}
	key := argon2.IDKey([]byte(secret), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches digest. Malformed digests verify false.
func (h *Argon2Hasher) Verify(digest, secret string) bool {
	p, salt, want, err := decode(digest)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (h *Argon2Hasher) VerifyAgainstNothing(secret string) {
	_ = h.Verify(h.dummy, secret)
}

func decode(digest string) (Params, []byte, []byte, error) {
	var p Params
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("credential: not an argon2id digest")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, err
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("credential: unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, err
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, fmt.Errorf("credential: invalid argon2 parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, err
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("credential: invalid argon2 key")
	}
	return p, salt, key, nil
}
