// Package cryptox implements the credential-hashing algorithms used for
// account passwords and reauthentication tokens. Every stored hash carries
// the tag of the algorithm that produced it, so hashes generated under a
// retired default remain verifiable after the default changes.
package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"

	"github.com/dmitrijs2005/studykeeper/internal/common"
)

// Algorithm tags persisted alongside each hash.
const (
	// LegacyHMACSHA256 is kept only so hashes imported from the previous
	// system remain verifiable. Never used for new hashes.
	LegacyHMACSHA256 = "hmac-sha256"
	BCrypt           = "bcrypt"
	PBKDF2HMACSHA256 = "pbkdf2-hmac-sha256"
)

// DefaultAlgorithmName tags every newly generated hash. Checking always
// dispatches on the tag stored with the hash being checked, never on this
// default.
const DefaultAlgorithmName = PBKDF2HMACSHA256

// ErrMalformedHash is returned when a stored hash blob cannot be decoded
// (wrong field count, undecodable salt, bad iteration count). Verification
// fails closed in that case.
var ErrMalformedHash = errors.New("malformed credential hash")

// PasswordAlgorithm hashes plaintext credentials and checks stored hashes.
type PasswordAlgorithm interface {
	// Name returns the tag stored with hashes this algorithm generates.
	Name() string
	// GenerateHash returns a self-describing hash blob for plaintext.
	GenerateHash(plaintext string) (string, error)
	// CheckHash reports whether plaintext matches the hash blob. A malformed
	// blob yields ErrMalformedHash and never a match.
	CheckHash(hash, plaintext string) (bool, error)
}

var algorithms = map[string]PasswordAlgorithm{
	LegacyHMACSHA256: legacyHMACAlgorithm{},
	BCrypt:           bcryptAlgorithm{},
	PBKDF2HMACSHA256: pbkdf2Algorithm{},
}

// ByName returns the algorithm registered under tag.
func ByName(tag string) (PasswordAlgorithm, error) {
	alg, ok := algorithms[tag]
	if !ok {
		return nil, fmt.Errorf("unknown password algorithm %q", tag)
	}
	return alg, nil
}

// Default returns the algorithm used for all newly generated hashes.
func Default() PasswordAlgorithm {
	return algorithms[DefaultAlgorithmName]
}

const saltLength = 32

// legacyHMACAlgorithm verifies hashes in the form
// "$hmac1$<base64 salt>$<base64 hash>", where the salt doubles as the HMAC
// key. Does not meet current standards; retained for pre-existing hashes.
type legacyHMACAlgorithm struct{}

func (legacyHMACAlgorithm) Name() string { return LegacyHMACSHA256 }

func (legacyHMACAlgorithm) GenerateHash(plaintext string) (string, error) {
	salt := common.GenerateRandByteArray(saltLength)
	digest := hmacSHA256(plaintext, salt)
	return "$hmac1$" + base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(digest), nil
}

func (legacyHMACAlgorithm) CheckHash(hash, plaintext string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 4 || parts[0] != "" || parts[1] != "hmac1" {
		return false, ErrMalformedHash
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	got := hmacSHA256(plaintext, salt)
	match := subtle.ConstantTimeCompare(got, want) == 1
	common.WipeByteArray(got)
	return match, nil
}

func hmacSHA256(plaintext string, salt []byte) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(plaintext))
	return mac.Sum(nil)
}

// bcryptAlgorithm produces self-describing blobs; salt and cost are encoded
// in the hash itself.
type bcryptAlgorithm struct{}

const bcryptCost = 12

func (bcryptAlgorithm) Name() string { return BCrypt }

func (bcryptAlgorithm) GenerateHash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (bcryptAlgorithm) CheckHash(hash, plaintext string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// pbkdf2Algorithm encodes iteration count and salt explicitly, in the form
// "<iterations>$<base64 salt>$<base64 hash>".
type pbkdf2Algorithm struct{}

const (
	pbkdf2Iterations = 250000
	pbkdf2KeyLength  = 32
)

func (pbkdf2Algorithm) Name() string { return PBKDF2HMACSHA256 }

func (pbkdf2Algorithm) GenerateHash(plaintext string) (string, error) {
	salt := common.GenerateRandByteArray(saltLength)
	digest := pbkdf2.Key([]byte(plaintext), salt, pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
	return strconv.Itoa(pbkdf2Iterations) + "$" +
		base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(digest), nil
}

func (pbkdf2Algorithm) CheckHash(hash, plaintext string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 3 {
		return false, ErrMalformedHash
	}
	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return false, fmt.Errorf("%w: bad iteration count %q", ErrMalformedHash, parts[0])
	}
	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	want, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	got := pbkdf2.Key([]byte(plaintext), salt, iterations, len(want), sha256.New)
	match := subtle.ConstantTimeCompare(got, want) == 1
	common.WipeByteArray(got)
	return match, nil
}
