// Package canon implements the canonicalization and ID minting contract
// from spec §4.1: a fixed, observable normalization order followed by a
// prefixed BASE32(SHA-256[:15]) identifier.
package canon

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ocx/flashfreeze/internal/errs"
)

// Prefixes for minted IDs, per spec §4.1.
const (
	PrefixEntity     = "e_"
	PrefixClaim      = "c_"
	PrefixSpan       = "s_"
	PrefixProvenance = "p_"
)

// crockfordAlphabet is the Crockford base32 alphabet (uppercase, excludes
// I, L, O, U to avoid visual ambiguity with 1, 0). No library in the
// retrieval pack exposes a general-purpose Crockford encoder for
// arbitrary-length input (see DESIGN.md), so this stays a stdlib
// encoding/base32 instance seeded with the Crockford alphabet.
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockford = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

var caseFold = cases.Fold()

// Canonicalize applies the fixed normalization order from spec §4.1:
//  1. Unicode NFKC
//  2. Unicode full case-folding
//  3. collapse whitespace runs to a single U+0020, trim ends
//  4. strip C0/C1 control characters (the line-delimiting LF is already
//     stripped at line boundaries upstream, by the event scanner)
func Canonicalize(text string) ([]byte, error) {
	if !utf8.ValidString(text) {
		return nil, errs.New(errs.InvalidInput, "canonicalize: input is not valid UTF-8")
	}

	normalized := norm.NFKC.String(text)
	folded := caseFold.String(normalized)
	collapsed := collapseWhitespace(folded)
	stripped := stripControls(collapsed)

	return []byte(stripped), nil
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inRun {
				b.WriteRune(' ')
				inRun = true
			}
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func stripControls(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r <= 0x1F || (r >= 0x80 && r <= 0x9F) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Mint computes the canonical ID for payload: SHA-256, leading 15 bytes,
// Crockford base32 (no padding), appended to prefix. The Prefix*
// constants already end in "_", so an entity ID reads "e_<enc>".
func Mint(prefix string, payload []byte) string {
	sum := sha256.Sum256(payload)
	enc := crockford.EncodeToString(sum[:15])
	return fmt.Sprintf("%s%s", prefix, enc)
}

// MintEntity mints an entity ID from its canonical payload.
func MintEntity(payload []byte) string { return Mint(PrefixEntity, payload) }

// MintClaim mints a claim ID from its canonical payload.
func MintClaim(payload []byte) string { return Mint(PrefixClaim, payload) }

// MintSpan mints a span ID from its canonical payload.
func MintSpan(payload []byte) string { return Mint(PrefixSpan, payload) }

// MintProvenance mints a provenance ID from its canonical payload.
func MintProvenance(payload []byte) string { return Mint(PrefixProvenance, payload) }
