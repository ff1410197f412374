package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock represents a parsed code block from markdown content.
type CodeBlock struct {
	// Hint is the last line of the paragraph or heading immediately
	// preceding the code block.
	Hint string
	// Info is the full info string after the opening fence.
	Info string
	// Lang is the first word of Info (e.g., "go", "diff").
	Lang string
	// Content is the raw text inside the code block.
	Content string
}

// ExtractCodeBlocks parses source as markdown and returns every fenced code
// block in document order together with the line that introduces it.
func ExtractCodeBlocks(source []byte) ([]CodeBlock, error) {
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	var blocks []CodeBlock
	err := ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		fenced, ok := node.(*ast.FencedCodeBlock)
		if !entering || !ok {
			return ast.WalkContinue, nil
		}
		blocks = append(blocks, newCodeBlock(fenced, source))
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

func newCodeBlock(n *ast.FencedCodeBlock, source []byte) CodeBlock {
	var b CodeBlock
	if n.Info != nil {
		b.Info = strings.TrimSpace(string(n.Info.Segment.Value(source)))
		if fields := strings.Fields(b.Info); len(fields) > 0 {
			b.Lang = strings.ToLower(fields[0])
		}
	}

	var body bytes.Buffer
	segs := n.Lines()
	for i := range segs.Len() {
		seg := segs.At(i)
		body.Write(seg.Value(source))
	}
	b.Content = body.String()
	b.Hint = precedingHint(n, source)
	return b
}

// precedingHint returns the last raw line of the paragraph or heading right
// before node. For a block that opens a list item, the hint comes from the
// text before the list.
func precedingHint(node ast.Node, source []byte) string {
	prev := node.PreviousSibling()
	if prev == nil {
		if parent := node.Parent(); parent != nil && parent.Kind() == ast.KindListItem {
			return lastLine(parent.FirstChild(), node, source)
		}
		return ""
	}
	return lastLine(prev, node, source)
}

func lastLine(n, self ast.Node, source []byte) string {
	if n == nil || n == self {
		return ""
	}
	switch n.Kind() {
	case ast.KindParagraph, ast.KindHeading, ast.KindTextBlock:
	default:
		return ""
	}
	lines := n.Lines()
	if lines.Len() == 0 {
		return ""
	}
	seg := lines.At(lines.Len() - 1)
	return strings.TrimSpace(string(seg.Value(source)))
}
