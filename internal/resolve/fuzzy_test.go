package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityIdentical(t *testing.T) {
	assert.Equal(t, 1.0, similarity("photon.safetensors", "PHOTON.safetensors"))
}

func TestSimilarityDisjoint(t *testing.T) {
	score := similarity("aaaa", "bbbb")
	assert.Less(t, score, 0.3)
}

func TestSimilaritySubstring(t *testing.T) {
	// "sd15" against "sd15-v1.0" shares the whole shorter string.
	score := similarity("sd15", "sd15-v1.0")
	assert.InDelta(t, 4.0/9.0, score, 0.001)
}

func TestConfidenceBands(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, confidenceFor(0.85))
	assert.Equal(t, ConfidenceGood, confidenceFor(0.7))
	assert.Equal(t, ConfidencePossible, confidenceFor(0.5))
}

func TestLongestCommonSubstring(t *testing.T) {
	assert.Equal(t, 3, longestCommonSubstring("abcdef", "zabcz"))
	assert.Equal(t, 0, longestCommonSubstring("abc", "xyz"))
	assert.Equal(t, 5, longestCommonSubstring("hello", "hello"))
}

func TestPackageIDFromRef(t *testing.T) {
	cases := map[string]string{
		"https://github.com/ltdrdata/ComfyUI-Impact-Pack.git": "comfyui-impact-pack",
		"comfyui-impact-pack":                                 "comfyui-impact-pack",
		"git@github.com:Foo/Bar-Pack":                         "bar-pack",
	}
	for ref, want := range cases {
		assert.Equal(t, want, PackageIDFromRef(ref), "ref %q", ref)
	}
}
