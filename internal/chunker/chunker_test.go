package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		content string
		size    int
		want    []string
	}{
		{"empty", "", 10, nil},
		{"whitespace only", "  \n\t ", 10, nil},
		{"single short chunk", "hello world", 100, []string{"hello world"}},
		{"closes at target", "aaaa bbbb cccc", 10, []string{"aaaa bbbb", "cccc"}},
		{"exact boundary", "ab cd ef", 3, []string{"ab", "cd", "ef"}},
		{"long word alone", "a supercalifragilistic b", 5, []string{"a supercalifragilistic", "b"}},
		{"long first word", "supercalifragilistic b", 5, []string{"supercalifragilistic", "b"}},
		{"collapses whitespace", "one\n\ntwo   three", 100, []string{"one two three"}},
		{"multibyte counts runes", "你好 世界 再见", 6, []string{"你好 世界", "再见"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Collect(Split(tt.content, tt.size)))
		})
	}
}

func TestSplit_ReproducesWordSequence(t *testing.T) {
	content := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 50)
	for _, size := range []int{1, 7, 20, 100, 1000, 10000} {
		chunks := Collect(Split(content, size))
		assert.Equal(t, strings.Fields(content), strings.Fields(strings.Join(chunks, " ")), "size %d", size)

		for i, c := range chunks {
			require.NotEmpty(t, c)
			if i == len(chunks)-1 {
				continue
			}
			acc := 0
			for _, w := range strings.Fields(c) {
				acc += utf8.RuneCountInString(w) + 1
			}
			assert.GreaterOrEqual(t, acc, size, "chunk %d closed early", i)
		}
	}
}

func TestSplit_Restartable(t *testing.T) {
	seq := Split("alpha beta gamma delta", 6)
	first := Collect(seq)
	second := Collect(seq)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"alpha", "beta gamma", "delta"}, first)
}

func TestSplit_EarlyBreak(t *testing.T) {
	var got []string
	for c := range Split("a b c d e f", 2) {
		got = append(got, c)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestChunker_OverlapIsInert(t *testing.T) {
	content := "one two three four five six seven eight"
	withOverlap := New(10, 5)
	assert.Equal(t, Collect(Split(content, 10)), Collect(withOverlap.Split(content)))
	assert.Equal(t, 1000, New(0, 0).Size)
}
