package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_CollapsesWhitespaceAndTrims(t *testing.T) {
	out, err := Canonicalize("  hello\t\tworld  \n")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestCanonicalize_CaseFoldsAndNormalizes(t *testing.T) {
	out, err := Canonicalize("HELLO")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	// Fullwidth "ＨＥＬＬＯ": NFKC maps it to ASCII before case folding.
	out, err = Canonicalize("ＨＥＬＬＯ")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestCanonicalize_StripsControlCharacters(t *testing.T) {
	out, err := Canonicalize("abc\x01\x02def")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(out))
}

func TestCanonicalize_RejectsInvalidUTF8(t *testing.T) {
	_, err := Canonicalize(string([]byte{0xff, 0xfe, 0xfd}))
	require.Error(t, err)
}

func TestMint_IsDeterministic(t *testing.T) {
	payload := []byte("source|0|10")
	id1 := Mint(PrefixSpan, payload)
	id2 := Mint(PrefixSpan, payload)
	assert.Equal(t, id1, id2, "minting must be deterministic for identical payloads")
}

func TestMint_UsesExpectedPrefix(t *testing.T) {
	id := MintEntity([]byte("frame|42"))
	assert.True(t, len(id) > len(PrefixEntity))
	assert.Equal(t, PrefixEntity, id[:len(PrefixEntity)])
}

func TestMint_DiffersForDifferentPayloads(t *testing.T) {
	a := Mint(PrefixClaim, []byte("a"))
	b := Mint(PrefixClaim, []byte("b"))
	assert.NotEqual(t, a, b)
}

func TestMint_OnlyUsesCrockfordAlphabet(t *testing.T) {
	id := Mint(PrefixSpan, []byte("arbitrary payload"))
	enc := id[len(PrefixSpan):]
	for _, r := range enc {
		assert.Contains(t, crockfordAlphabet, string(r))
	}
}
