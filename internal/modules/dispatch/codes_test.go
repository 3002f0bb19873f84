// README: Verification code generator tests.
package dispatch

import (
	"strings"
	"testing"
)

func TestNewCodeShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := newCode()
		if len(code) != codeLength {
			t.Fatalf("expected %d-char code, got %q", codeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		seen[code] = true
	}
	// 200 draws from a 32^6 space colliding down to a handful would mean
	// the generator is broken, not unlucky.
	if len(seen) < 190 {
		t.Fatalf("expected near-unique codes, got %d distinct of 200", len(seen))
	}
}

func TestCodeAlphabetExcludesAmbiguousGlyphs(t *testing.T) {
	for _, r := range "01OI" {
		if strings.ContainsRune(codeAlphabet, r) {
			t.Errorf("alphabet must not contain %q", r)
		}
	}
}
