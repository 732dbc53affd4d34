package candidate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DomainSource prefixes harness source fingerprints.
// Version suffix allows the normalization to change later.
const DomainSource = "harnessforge/source/v1"

// hashWithDomain computes SHA-256 over domain + 0x00 + data.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeSource canonicalizes harness text before hashing.
//
// Line endings become \n, trailing whitespace on each line is dropped, the
// text is NFC-normalized, and leading/trailing blank lines are trimmed. Two
// sources that differ only in those respects fingerprint identically.
func NormalizeSource(source string) string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return norm.NFC.String(strings.Trim(strings.Join(lines, "\n"), "\n"))
}

// Fingerprint returns the content hash of a harness source.
func Fingerprint(source string) string {
	return hashWithDomain(DomainSource, []byte(NormalizeSource(source)))
}
