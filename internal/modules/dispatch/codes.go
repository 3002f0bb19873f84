// README: Pickup/dropoff code generation.
package dispatch

import "crypto/rand"

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// newCode returns a short human-readable verification code. Ambiguous glyphs
// (0/O, 1/I) are excluded from the alphabet.
func newCode() string {
	var b [codeLength]byte
	_, _ = rand.Read(b[:])
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b[:])
}
