package evm

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployrecon/internal/chains"
)

func TestCompareBytecode(t *testing.T) {
	tests := []struct {
		name     string
		deployed string
		artifact string
		want     chains.Verdict
	}{
		{
			name:     "identical metadata-free code",
			deployed: baseCode,
			artifact: baseCode,
			want:     chains.ExactMatch,
		},
		{
			name:     "identical including metadata",
			deployed: baseCode + ipfsTrailer,
			artifact: baseCode + ipfsTrailer,
			want:     chains.ExactMatch,
		},
		{
			name:     "chain carries a metadata suffix",
			deployed: baseCode + shortTrailer,
			artifact: baseCode,
			want:     chains.MatchModuloMetadata,
		},
		{
			name:     "metadata hashes differ",
			deployed: baseCode + shortTrailer,
			artifact: baseCode + otherTrailer,
			want:     chains.MatchModuloMetadata,
		},
		{
			name:     "empty chain code",
			deployed: "",
			artifact: baseCode,
			want:     chains.NoCodeAtAddress,
		},
		{
			name:     "different constructor memory layout",
			deployed: "60c0" + baseCode[4:],
			artifact: baseCode,
			want:     chains.Mismatch,
		},
		{
			name:     "logic differs",
			deployed: baseCode + "01" + shortTrailer,
			artifact: baseCode + shortTrailer,
			want:     chains.Mismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CompareBytecode(mustHex(t, tt.deployed), mustHex(t, tt.artifact), CompareOptions{})
			assert.Equal(t, tt.want, result.Verdict, result.Message)
		})
	}
}

func TestCompareBytecode_Properties(t *testing.T) {
	samples := []string{baseCode, baseCode + shortTrailer, baseCode + otherTrailer, baseCode + ipfsTrailer, "60c0" + baseCode[4:]}

	t.Run("no code always wins", func(t *testing.T) {
		for _, artifact := range append(samples, "") {
			result := CompareBytecode(nil, mustHex(t, artifact), CompareOptions{})
			assert.Equal(t, chains.NoCodeAtAddress, result.Verdict)
		}
	})

	for _, a := range samples {
		for _, b := range samples {
			ab := CompareBytecode(mustHex(t, a), mustHex(t, b), CompareOptions{})
			ba := CompareBytecode(mustHex(t, b), mustHex(t, a), CompareOptions{})
			assert.Equal(t, ab.Verdict, ba.Verdict, "symmetry %s / %s", a, b)

			if string(StripMetadata(mustHex(t, a))) == string(StripMetadata(mustHex(t, b))) {
				assert.NotEqual(t, chains.Mismatch, ab.Verdict, "stripped-equal pair reported mismatch")
			}
		}
	}
}

func TestCompareBytecode_Immutables(t *testing.T) {
	artifact := mustHex(t, "608000006040"+shortTrailer)
	deployed := mustHex(t, "6080abcd6040"+shortTrailer)

	result := CompareBytecode(deployed, artifact, CompareOptions{})
	assert.Equal(t, chains.Mismatch, result.Verdict)

	result = CompareBytecode(deployed, artifact, CompareOptions{
		Immutables: []chains.CodeRange{{Start: 2, Length: 2}},
	})
	assert.Equal(t, chains.ExactMatch, result.Verdict)
	assert.Equal(t, "6080abcd6040"+shortTrailer, hex.EncodeToString(deployed), "input must not be mutated")
}

func TestCompareBytecode_Libraries(t *testing.T) {
	const lib = "1111111111111111111111111111111111111111"
	placeholder := LibraryPlaceholder("src/Math.sol:Math")
	artifact, refs, err := chains.DecodeBytecode("73" + placeholder + "5f")
	require.NoError(t, err)
	require.Equal(t, []chains.CodeRange{{Start: 1, Length: 20}}, refs)

	deployed := mustHex(t, "73"+lib+"5f")
	opts := CompareOptions{
		LinkRefs:  map[string][]chains.CodeRange{"src/Math.sol:Math": refs},
		Libraries: map[string]string{"Math": "0x" + lib},
	}
	assert.Equal(t, chains.ExactMatch, CompareBytecode(deployed, artifact, opts).Verdict)
	assert.Equal(t, chains.Mismatch, CompareBytecode(deployed, artifact, CompareOptions{}).Verdict)
}

func TestLibraryPlaceholder(t *testing.T) {
	p := LibraryPlaceholder("src/Math.sol:Math")
	assert.Len(t, p, 40)
	assert.True(t, strings.HasPrefix(p, "__$"))
	assert.True(t, strings.HasSuffix(p, "$__"))
	assert.True(t, chains.HasLibraryPlaceholders("6080"+p))
	assert.False(t, chains.HasLibraryPlaceholders(baseCode))
}

func TestSplitConstructorArgs(t *testing.T) {
	creation := mustHex(t, baseCode+shortTrailer)
	args := mustHex(t, strings.Repeat("00", 31)+"2a")

	t.Run("exact prefix", func(t *testing.T) {
		got, err := SplitConstructorArgs(append(mustHex(t, baseCode+shortTrailer), args...), creation)
		require.NoError(t, err)
		assert.Equal(t, args, got)
	})

	t.Run("prefix differs only in metadata", func(t *testing.T) {
		got, err := SplitConstructorArgs(append(mustHex(t, baseCode+otherTrailer), args...), creation)
		require.NoError(t, err)
		assert.Equal(t, args, got)
	})

	t.Run("different code", func(t *testing.T) {
		_, err := SplitConstructorArgs(append(mustHex(t, "60c0"+baseCode[4:]+shortTrailer), args...), creation)
		assert.ErrorIs(t, err, ErrCreationCodeMismatch)
	})

	t.Run("input shorter than creation code", func(t *testing.T) {
		_, err := SplitConstructorArgs(mustHex(t, baseCode), creation)
		assert.ErrorIs(t, err, ErrCreationCodeMismatch)
	})
}
