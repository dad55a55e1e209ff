package extract

import "unicode/utf8"

// boundaryLookback is how far back (in bytes) a cut searches for whitespace
const boundaryLookback = 100

// SplitFragments splits text into fragments of at most maxChars characters,
// breaking at a word boundary when one is close to the limit. Concatenating
// the fragments yields text unchanged.
func SplitFragments(text string, maxChars int) []string {
	var parts []string
	for len(text) > 0 {
		cut := cutPoint(text, maxChars)
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return parts
}

// cutPoint returns the byte length of the leading fragment of text holding
// at most maxChars characters
func cutPoint(text string, maxChars int) int {
	if maxChars <= 0 {
		return len(text)
	}

	end, n := 0, 0
	for end < len(text) && n < maxChars {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
		n++
	}
	if end >= len(text) {
		return len(text)
	}

	// Look back for space or newline, keep it in the leading fragment
	for i := end - 1; i > end-boundaryLookback && i > 0; i-- {
		if text[i] == ' ' || text[i] == '\n' {
			return i + 1
		}
	}
	return end
}
