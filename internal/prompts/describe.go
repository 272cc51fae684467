package prompts

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DescriptionMaxLen caps extracted descriptions.
const DescriptionMaxLen = 150

var mdParser = goldmark.New().Parser()

// Describe returns a one-line description of markdown content: the first
// paragraph that is not a heading or HTML comment, whitespace collapsed
// and capped at DescriptionMaxLen runes.
func Describe(content string) string {
	source := []byte(content)
	doc := mdParser.Parse(text.NewReader(source))

	var desc string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindParagraph {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(source))
			sb.WriteByte(' ')
		}
		if s := strings.Join(strings.Fields(sb.String()), " "); s != "" {
			desc = s
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	if desc == "" {
		return ""
	}
	if r := []rune(desc); len(r) > DescriptionMaxLen {
		return string(r[:DescriptionMaxLen]) + "..."
	}
	return desc
}
