package crypto

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the shortest temporary password we issue.
	MinPasswordLength = 12
	bcryptCost        = 10

	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{}?"
)

var passwordClasses = []string{lowerChars, upperChars, digitChars, symbolChars}

// maxPasswordDraws bounds the redraws in GeneratePassword. At the minimum
// length about one draw in four misses a class.
const maxPasswordDraws = 64

// GeneratePassword returns a random password of the given length containing
// at least one lower case letter, upper case letter, digit and symbol. Every
// character is drawn uniformly from the full set and draws missing a class are
// discarded, so all passwords meeting the class rule are equally likely.
func GeneratePassword(length int) (string, error) {
	if length < MinPasswordLength {
		length = MinPasswordLength
	}

	all := lowerChars + upperChars + digitChars + symbolChars
	out := make([]byte, length)
	for range maxPasswordDraws {
		for i := range out {
			c, err := randomChar(all)
			if err != nil {
				return "", err
			}
			out[i] = c
		}
		if hasAllClasses(out) {
			return string(out), nil
		}
	}
	return "", fmt.Errorf("no password with every character class after %d draws", maxPasswordDraws)
}

func hasAllClasses(pw []byte) bool {
	for _, class := range passwordClasses {
		if !bytes.ContainsAny(pw, class) {
			return false
		}
	}
	return true
}

// HashPassword hashes a temporary password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func randomChar(set string) (byte, error) {
	i, err := randomInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random: %w", err)
	}
	return int(v.Int64()), nil
}
