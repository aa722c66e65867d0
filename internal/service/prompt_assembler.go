package service

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"course-rag-go/internal/config"
	"course-rag-go/internal/model"
	"course-rag-go/pkg/llm"
)

const (
	defaultRefStart     = "<<REF>>"
	defaultRefEnd       = "<<END>>"
	defaultNoResultText = "（本轮无检索结果）"
	defaultRules        = "You are an AI educational assistant helping a student with their coursework.\n" +
		"Answer using ONLY the course material between the reference markers. " +
		"If the material does not contain enough information, say so clearly."
)

// Prompt 是组装好的生成输入，以及实际纳入的分块与历史。
type Prompt struct {
	Messages []llm.Message
	Chunks   []model.RetrievedChunk
	History  []model.Message
	// Chars 是计入预算的字符数：问题、分块正文与历史正文。
	Chars int
}

// PromptAssembler 在字符预算内组装问题、检索分块与近期历史。
type PromptAssembler struct {
	rules        string
	refStart     string
	refEnd       string
	noResultText string
}

// NewPromptAssembler 根据配置创建组装器，空字段使用默认值。
func NewPromptAssembler(cfg config.LLMPromptConfig) *PromptAssembler {
	a := &PromptAssembler{
		rules:        cfg.Rules,
		refStart:     cfg.RefStart,
		refEnd:       cfg.RefEnd,
		noResultText: cfg.NoResultText,
	}
	if a.rules == "" {
		a.rules = defaultRules
	}
	if a.refStart == "" {
		a.refStart = defaultRefStart
	}
	if a.refEnd == "" {
		a.refEnd = defaultRefEnd
	}
	if a.noResultText == "" {
		a.noResultText = defaultNoResultText
	}
	return a
}

// Assemble 按优先级装入内容：问题必定包含；分块按相似度降序装入，遇到第一个装不下的即停止；
// 剩余预算从最近的历史往前填充，最后按时间顺序输出。maxChars <= 0 表示不限制。
// 问题本身超出预算时返回 ErrPromptBudgetExceeded。
func (a *PromptAssembler) Assemble(question string, result model.RetrievalResult, history []model.Message, maxChars int) (*Prompt, error) {
	fits := func(used, n int) bool { return maxChars <= 0 || used+n <= maxChars }

	used := utf8.RuneCountInString(question)
	if !fits(0, used) {
		return nil, fmt.Errorf("%w: question has %d characters, budget is %d", model.ErrPromptBudgetExceeded, used, maxChars)
	}

	ranked := append([]model.RetrievedChunk(nil), result.Items...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	chunks := make([]model.RetrievedChunk, 0, len(ranked))
	for _, c := range ranked {
		n := utf8.RuneCountInString(c.Chunk.Text)
		if !fits(used, n) {
			break
		}
		used += n
		chunks = append(chunks, c)
	}

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(history[i].Text)
		if !fits(used, n) {
			break
		}
		used += n
		start = i
	}
	kept := history[start:]

	msgs := make([]llm.Message, 0, len(kept)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: a.systemMessage(chunks)})
	for _, m := range kept {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Text})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: question})

	return &Prompt{
		Messages: msgs,
		Chunks:   chunks,
		History:  append([]model.Message(nil), kept...),
		Chars:    used,
	}, nil
}

func (a *PromptAssembler) systemMessage(chunks []model.RetrievedChunk) string {
	var sys strings.Builder
	sys.WriteString(a.rules)
	sys.WriteString("\n\n")
	sys.WriteString(a.refStart)
	sys.WriteString("\n")
	if len(chunks) == 0 {
		sys.WriteString(a.noResultText)
		sys.WriteString("\n")
	}
	for i, c := range chunks {
		fmt.Fprintf(&sys, "Context %d (from chapter %s):\n%s\n\n", i+1, c.ChapterID, c.Chunk.Text)
	}
	sys.WriteString(a.refEnd)
	return sys.String()
}
