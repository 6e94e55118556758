// Package qrtoken validates and generates the user-facing token printed in
// a QR code.
package qrtoken

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
)

const (
	MinLen = 4
	MaxLen = 32

	// GeneratedLen is the length of tokens produced by Generate. At five
	// bits per character this is 50 bits of entropy.
	GeneratedLen = 10
)

var format = regexp.MustCompile(`^[A-Za-z0-9_-]{4,32}$`)

// alphabet has 32 symbols so a random byte masked to 5 bits maps onto it
// without bias. 0/O and 1/I are omitted to keep printed codes readable.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Valid reports whether code satisfies the token format.
func Valid(code string) bool {
	return format.MatchString(code)
}

// Generator produces random tokens from an entropy source.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a Generator reading from crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorFrom returns a Generator reading from r. Tests use it to force
// collisions.
func NewGeneratorFrom(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns a new token that always satisfies Valid.
func (g *Generator) Generate() (string, error) {
	var buf [GeneratedLen]byte
	if _, err := io.ReadFull(g.rand, buf[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = alphabet[b&31]
	}
	return string(buf[:]), nil
}
