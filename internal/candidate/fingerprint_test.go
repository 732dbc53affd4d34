package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFingerprint_IgnoresFormattingNoise tests normalization before hashing.
func TestFingerprint_IgnoresFormattingNoise(t *testing.T) {
	a := "int f(void) {\n  return 0;\n}\n"
	b := "\r\nint f(void) {   \r\n  return 0;\r\n}"

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.Len(t, Fingerprint(a), 64)
}

// TestFingerprint_DistinguishesContent tests that real edits change the hash.
func TestFingerprint_DistinguishesContent(t *testing.T) {
	assert.NotEqual(t, Fingerprint("return 0;"), Fingerprint("return 1;"))
}

// TestFingerprint_UnicodeNormalized tests NFC composition.
func TestFingerprint_UnicodeNormalized(t *testing.T) {
	composed := "// caf\u00e9"
	decomposed := "// cafe\u0301"
	assert.Equal(t, Fingerprint(composed), Fingerprint(decomposed))
}

// TestFixedGenerator tests predetermined then sequential ids.
func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Equal(t, "lineage-3", g.Generate())

	seq := NewSequenceGenerator("lin")
	assert.Equal(t, "lin-1", seq.Generate())
	assert.Equal(t, "lin-2", seq.Generate())
}
