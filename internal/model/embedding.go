package model

// Embedding 是一段文本在某个模型下的向量表示，不可变。
type Embedding struct {
	vector []float32
	model  string
	text   string
}

// NewEmbedding 复制 vector，调用方之后修改原切片不会影响 Embedding。
func NewEmbedding(vector []float32, model, text string) Embedding {
	return Embedding{
		vector: append([]float32(nil), vector...),
		model:  model,
		text:   text,
	}
}

func (e Embedding) Vector() []float32 {
	return append([]float32(nil), e.vector...)
}

func (e Embedding) Model() string { return e.model }

func (e Embedding) Text() string { return e.text }

func (e Embedding) Dimensions() int { return len(e.vector) }
