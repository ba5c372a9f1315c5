package utils

import "strings"

// IsMatchAllPattern reports whether pattern matches every input.
func IsMatchAllPattern(pattern string) bool {
	return pattern == "*"
}

// IsSimpleMatchPattern reports whether pattern contains a wildcard and
// therefore needs SimpleMatch rather than string equality.
func IsSimpleMatchPattern(pattern string) bool {
	return strings.ContainsRune(pattern, '*')
}

// SimpleMatch matches str against a pattern where '*' is the only
// metacharacter and matches any run of characters, including none.
// A pattern without a wildcard matches only its exact string.
func SimpleMatch(pattern, str string) bool {
	firstIndex := strings.IndexByte(pattern, '*')
	if firstIndex == -1 {
		return pattern == str
	}
	if firstIndex == 0 {
		if len(pattern) == 1 {
			return true
		}
		nextIndex := strings.IndexByte(pattern[1:], '*')
		if nextIndex == -1 {
			return strings.HasSuffix(str, pattern[1:])
		}
		nextIndex++
		if nextIndex == 1 {
			// Adjacent wildcards collapse into one.
			return SimpleMatch(pattern[1:], str)
		}
		part := pattern[1:nextIndex]
		for partIndex := strings.Index(str, part); partIndex != -1; partIndex = indexFrom(str, part, partIndex+1) {
			if SimpleMatch(pattern[nextIndex:], str[partIndex+len(part):]) {
				return true
			}
		}
		return false
	}
	return len(str) >= firstIndex &&
		pattern[:firstIndex] == str[:firstIndex] &&
		SimpleMatch(pattern[firstIndex:], str[firstIndex:])
}

// SimpleMatchAny reports whether any of the patterns matches str.
func SimpleMatchAny(patterns []string, str string) bool {
	for _, pattern := range patterns {
		if SimpleMatch(pattern, str) {
			return true
		}
	}
	return false
}

func indexFrom(s, substr string, from int) int {
	if from > len(s) {
		return -1
	}
	i := strings.Index(s[from:], substr)
	if i == -1 {
		return -1
	}
	return from + i
}
