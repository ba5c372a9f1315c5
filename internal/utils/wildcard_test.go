package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimpleMatch(t *testing.T) {
	for _, tc := range []struct {
		pattern string
		str     string
		want    bool
	}{
		{"", "", true},
		{"", "a", false},
		{"*", "", true},
		{"*", "anything", true},
		{"p1", "p1", true},
		{"p1", "p2", false},
		{"p*", "p1", true},
		{"p*", "q1", false},
		{"*1", "p1", true},
		{"*1", "p2", false},
		{"p*1", "p1", true},
		{"p*1", "pxxx1", true},
		{"p*1", "pxxx2", false},
		{"*ipe*", "my_pipeline", true},
		{"*ipe*", "my_processor", false},
		{"**", "anything", true},
		{"a*b*c", "axxbxxc", true},
		{"a*b*c", "axxcxxb", false},
		{"a*b*c", "abc", true},
		{"a*a", "a", false},
		{"*a*a*", "aa", true},
	} {
		t.Run(tc.pattern+"/"+tc.str, func(t *testing.T) {
			require.Equal(t, tc.want, SimpleMatch(tc.pattern, tc.str))
		})
	}
}

func TestSimpleMatchAny(t *testing.T) {
	require.True(t, SimpleMatchAny([]string{"a", "b*"}, "bcd"))
	require.False(t, SimpleMatchAny([]string{"a", "b*"}, "cde"))
	require.False(t, SimpleMatchAny(nil, "a"))
}

func TestPatternPredicates(t *testing.T) {
	require.True(t, IsMatchAllPattern("*"))
	require.False(t, IsMatchAllPattern("p*"))
	require.True(t, IsSimpleMatchPattern("p*"))
	require.False(t, IsSimpleMatchPattern("p1"))
}
