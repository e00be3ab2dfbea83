package synthlang

import (
	"regexp"
	"strings"
)

const defaultVowelMinLen = 4

var wordRe = regexp.MustCompile(`[A-Za-z]+`)

// VowelStripper removes internal vowels from words of at least minLen
// letters. The first character always survives, so a word keeps its
// leading vowel. Short words pass through untouched.
type VowelStripper struct {
	minLen int
}

// NewVowelStripper uses the default minimum word length of 4.
func NewVowelStripper() *VowelStripper {
	return &VowelStripper{minLen: defaultVowelMinLen}
}

// NewVowelStripperMinLen overrides the minimum word length.
func NewVowelStripperMinLen(minLen int) *VowelStripper {
	if minLen < 2 {
		minLen = 2
	}
	return &VowelStripper{minLen: minLen}
}

func (v *VowelStripper) Name() string { return StageVowel }

func (v *VowelStripper) Encode(text string) (string, error) {
	return wordRe.ReplaceAllStringFunc(text, func(word string) string {
		if len(word) < v.minLen {
			return word
		}
		var b strings.Builder
		b.Grow(len(word))
		b.WriteByte(word[0])
		for i := 1; i < len(word); i++ {
			if !isVowel(word[i]) {
				b.WriteByte(word[i])
			}
		}
		return b.String()
	}), nil
}

// Decode is identity: stripped vowels are unrecoverable.
func (v *VowelStripper) Decode(text string) (string, error) {
	return text, nil
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
		return true
	}
	return false
}
