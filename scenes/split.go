// ABOUTME: Narrative segmentation: splits story text into scene-sized units.
// ABOUTME: Markdown headings and thematic breaks take priority; plain prose falls back to paragraph chunking.
package scenes

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultMaxScenes caps paragraph-chunked splitting when the caller does not
// request a scene count.
const DefaultMaxScenes = 6

// Segment is one scene's worth of narrative.
type Segment struct {
	Title string
	Text  string
}

// Split divides story text into scene segments. Markdown structure wins:
// every heading starts a scene, or thematic breaks (---) separate scenes.
// Unstructured prose is chunked by paragraph into at most maxScenes scenes
// (DefaultMaxScenes when maxScenes <= 0).
func Split(source string, maxScenes int) []Segment {
	if maxScenes <= 0 {
		maxScenes = DefaultMaxScenes
	}

	src := []byte(source)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	headings := 0
	breaks := 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch n.(type) {
		case *ast.Heading:
			headings++
		case *ast.ThematicBreak:
			breaks++
		}
	}

	var segments []Segment
	switch {
	case headings > 0:
		segments = splitByHeadings(src, doc)
	case breaks > 0:
		segments = splitByBreaks(src, doc)
	default:
		segments = chunkParagraphs(src, doc, maxScenes)
	}

	out := segments[:0]
	for _, seg := range segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text != "" || seg.Title != "" {
			out = append(out, seg)
		}
	}
	if len(out) == 0 && strings.TrimSpace(source) != "" {
		out = []Segment{{Text: strings.TrimSpace(source)}}
	}
	return out
}

// splitByHeadings starts a new segment at every heading. Content before the
// first heading becomes an untitled leading segment.
func splitByHeadings(src []byte, doc ast.Node) []Segment {
	var segments []Segment
	current := Segment{}
	started := false

	flush := func() {
		if started || strings.TrimSpace(current.Text) != "" {
			segments = append(segments, current)
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if _, ok := n.(*ast.Heading); ok {
			flush()
			current = Segment{Title: strings.TrimSpace(blockText(src, n))}
			started = true
			continue
		}
		if current.Text != "" {
			current.Text += "\n\n"
		}
		current.Text += blockText(src, n)
	}
	flush()
	return segments
}

// splitByBreaks separates segments on thematic breaks.
func splitByBreaks(src []byte, doc ast.Node) []Segment {
	var segments []Segment
	current := Segment{}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if _, ok := n.(*ast.ThematicBreak); ok {
			segments = append(segments, current)
			current = Segment{}
			continue
		}
		if current.Text != "" {
			current.Text += "\n\n"
		}
		current.Text += blockText(src, n)
	}
	segments = append(segments, current)
	return segments
}

// chunkParagraphs groups top-level paragraphs into at most maxScenes
// contiguous chunks of near-equal size.
func chunkParagraphs(src []byte, doc ast.Node, maxScenes int) []Segment {
	var paras []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if txt := strings.TrimSpace(blockText(src, n)); txt != "" {
			paras = append(paras, txt)
		}
	}
	if len(paras) == 0 {
		return nil
	}

	count := len(paras)
	if count > maxScenes {
		count = maxScenes
	}

	segments := make([]Segment, 0, count)
	perChunk := len(paras) / count
	extra := len(paras) % count
	idx := 0
	for i := 0; i < count; i++ {
		size := perChunk
		if i < extra {
			size++
		}
		segments = append(segments, Segment{Text: strings.Join(paras[idx:idx+size], "\n\n")})
		idx += size
	}
	return segments
}

// blockText collects the raw source text covered by a block node and its
// descendants. Container blocks (lists, quotes) have no lines of their own,
// so the walk descends until it finds leaves with source segments.
func blockText(src []byte, node ast.Node) string {
	var b strings.Builder
	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		lines := n.Lines()
		if lines != nil && lines.Len() > 0 {
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(node)
	return b.String()
}
