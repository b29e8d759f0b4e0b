// Package chunker 把文档正文切分成适合向量化的文本片段。
package chunker

import (
	"iter"
	"strings"
	"unicode/utf8"
)

// Split 按空白切词后累积成块：每个词使累计长度增加 len(word)+1，
// 累计长度达到 targetSize 时关闭当前块，剩余的词组成最后一块。
// 块边界只落在词边界上，超长的单词独占一块。
// 返回的序列是惰性的，每次遍历都会从 content 重新计算。
func Split(content string, targetSize int) iter.Seq[string] {
	return func(yield func(string) bool) {
		var (
			words []string
			size  int
		)
		for _, word := range strings.Fields(content) {
			words = append(words, word)
			size += utf8.RuneCountInString(word) + 1
			if size >= targetSize {
				if !yield(strings.Join(words, " ")) {
					return
				}
				words = words[:0]
				size = 0
			}
		}
		if len(words) > 0 {
			yield(strings.Join(words, " "))
		}
	}
}

// Collect 将序列物化为切片。
func Collect(seq iter.Seq[string]) []string {
	var chunks []string
	for c := range seq {
		chunks = append(chunks, c)
	}
	return chunks
}

// Chunker 持有切分配置。Overlap 目前只做记录，不参与切分。
type Chunker struct {
	Size    int
	Overlap int
}

// New 创建 Chunker，size 非正数时回退到 1000。
func New(size, overlap int) Chunker {
	if size <= 0 {
		size = 1000
	}
	return Chunker{Size: size, Overlap: overlap}
}

func (c Chunker) Split(content string) iter.Seq[string] {
	return Split(content, c.Size)
}
