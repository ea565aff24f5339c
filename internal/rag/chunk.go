package rag

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// maxChunkTokens bounds chunk size; estimateTokens approximates tokens as
// words * 1.3, exactly as the teacher's ChunkText does.
const maxChunkTokens = 400

// ChunkMarkdown splits a markdown document along its heading structure
// (depth 2-4), each chunk carrying its nearest heading as a prefix for
// retrieval context. Repurposed from the teacher's dashboard markdown
// renderer's goldmark usage — there goldmark renders a kanban summary to
// HTML; here its AST is walked instead of rendering, replacing the
// teacher's regex "## " section scan (agents/rag's ChunkText has no
// heading awareness at all; this is new logic built for document content,
// grounded on goldmark's documented ast.Walk pattern).
func ChunkMarkdown(source string) []string {
	md := goldmark.New()
	reader := text.NewReader([]byte(source))
	doc := md.Parser().Parse(reader)

	type section struct {
		heading string
		body    strings.Builder
	}
	var sections []*section
	current := &section{}
	sections = append(sections, current)

	src := []byte(source)
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level >= 2 && node.Level <= 4 {
				current = &section{heading: textOf(node, src)}
				sections = append(sections, current)
				return ast.WalkSkipChildren, nil
			}
		case *ast.Paragraph, *ast.FencedCodeBlock, *ast.CodeBlock, *ast.List:
			current.body.WriteString(textOf(node, src))
			current.body.WriteString("\n\n")
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return chunkPlainText(source)
	}

	var chunks []string
	for _, s := range sections {
		body := strings.TrimSpace(s.body.String())
		if body == "" {
			continue
		}
		if s.heading != "" {
			body = s.heading + "\n\n" + body
		}
		chunks = append(chunks, chunkPlainText(body)...)
	}
	if len(chunks) == 0 {
		return chunkPlainText(source)
	}
	return chunks
}

func textOf(n ast.Node, src []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
		} else {
			sb.WriteString(textOf(c, src))
		}
	}
	if sb.Len() == 0 {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(src))
		}
	}
	return sb.String()
}

// chunkPlainText is the teacher's ChunkText (agents/rag/embedder.go):
// paragraph-then-sentence splitting bounded by an approximate token
// count, plus one addition: a single sentence over the budget is cut
// into word windows that each fit it.
func chunkPlainText(text string) []string {
	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var cur strings.Builder
	curTokens := 0

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
			curTokens = 0
		}
	}

	for _, para := range paragraphs {
		paraTokens := estimateTokens(para)
		if curTokens+paraTokens > maxChunkTokens && cur.Len() > 0 {
			flush()
		}
		if paraTokens > maxChunkTokens {
			for _, sent := range splitSentences(para) {
				pieces := []string{sent}
				if estimateTokens(sent) > maxChunkTokens {
					pieces = nil
					words := strings.Fields(sent)
					step := int(float64(maxChunkTokens) / 1.3)
					for i := 0; i < len(words); i += step {
						pieces = append(pieces, strings.Join(words[i:min(i+step, len(words))], " "))
					}
				}
				for _, piece := range pieces {
					sentTokens := estimateTokens(piece)
					if curTokens+sentTokens > maxChunkTokens && cur.Len() > 0 {
						flush()
					}
					cur.WriteString(piece)
					cur.WriteString(" ")
					curTokens += sentTokens
				}
			}
			continue
		}
		cur.WriteString(para)
		cur.WriteString("\n\n")
		curTokens += paraTokens
	}
	flush()
	return chunks
}

func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) * 1.3)
}

func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			sentences = append(sentences, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(cur.String()))
	}
	return sentences
}

// maxCodeChunkLines bounds a code chunk's size when the brace-matching
// pass below produces an oversized top-level construct (e.g. a single
// giant function).
const maxCodeChunkLines = 120

// ChunkCode splits source code into chunks along top-level brace-delimited
// constructs (functions, types, blocks), falling back to a fixed-size
// sliding line window for brace-free or unbalanced input (config files,
// markup, malformed sources). New logic: the teacher's rag package only
// chunks fenced markdown code blocks, never raw source files.
func ChunkCode(source string) []string {
	lines := strings.Split(source, "\n")
	var chunks []string
	var cur []string
	depth := 0
	sawBrace := false

	flush := func() {
		if len(cur) == 0 {
			return
		}
		if chunk := strings.Join(cur, "\n"); strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		cur = nil
	}

	for _, line := range lines {
		cur = append(cur, line)
		for _, r := range line {
			switch r {
			case '{':
				depth++
				sawBrace = true
			case '}':
				if depth > 0 {
					depth--
				}
			}
		}
		if depth == 0 && sawBrace && len(cur) > 0 && strings.TrimSpace(line) != "" {
			flush()
			sawBrace = false
		}
	}
	flush()

	if !sawBraceAnywhere(source) || len(chunks) == 0 {
		return slidingLineWindow(lines, maxCodeChunkLines)
	}

	var out []string
	for _, c := range chunks {
		if strings.Count(c, "\n") > maxCodeChunkLines {
			out = append(out, slidingLineWindow(strings.Split(c, "\n"), maxCodeChunkLines)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func sawBraceAnywhere(s string) bool {
	return strings.ContainsRune(s, '{')
}

func slidingLineWindow(lines []string, window int) []string {
	var out []string
	for i := 0; i < len(lines); i += window {
		end := i + window
		if end > len(lines) {
			end = len(lines)
		}
		chunk := strings.TrimSpace(strings.Join(lines[i:end], "\n"))
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}
