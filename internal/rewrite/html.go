package rewrite

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// rewritableAttrs lists, per element, which attributes carry URLs to
// rewrite.
var rewritableAttrs = map[string][]string{
	"a":      {"href"},
	"link":   {"href"},
	"script": {"src"},
	"img":    {"src", "srcset"},
	"source": {"src", "srcset"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"iframe": {"src"},
	"form":   {"action"},
}

// HTML rewrites an HTML document:
//
//  1. every <base> element is removed,
//  2. in-origin URLs in the known attribute set are folded under /m/<slug>,
//  3. a noindex robots meta is injected when <head> has none.
//
// The transform is a fixed point: a second pass over its own output changes
// nothing, because paths already under /m/<slug> are never wrapped again.
func HTML(doc []byte, rules *Rules) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}

	var bases []*html.Node
	var head *html.Node
	hasRobotsMeta := false

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Base:
				bases = append(bases, n)
			case atom.Head:
				head = n
			case atom.Meta:
				if strings.EqualFold(attrValue(n, "name"), "robots") {
					hasRobotsMeta = true
				}
			}
			rewriteElement(n, rules)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	for _, b := range bases {
		if b.Parent != nil {
			b.Parent.RemoveChild(b)
		}
	}

	if head != nil && !hasRobotsMeta {
		meta := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Meta,
			Data:     "meta",
			Attr: []html.Attribute{
				{Key: "name", Val: "robots"},
				{Key: "content", Val: "noindex,nofollow"},
			},
		}
		if head.FirstChild != nil {
			head.InsertBefore(meta, head.FirstChild)
		} else {
			head.AppendChild(meta)
		}
	}

	var out bytes.Buffer
	if err := html.Render(&out, root); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func rewriteElement(n *html.Node, rules *Rules) {
	attrs, ok := rewritableAttrs[n.Data]
	if !ok {
		return
	}
	for i := range n.Attr {
		a := &n.Attr[i]
		if a.Namespace != "" || !contains(attrs, a.Key) {
			continue
		}
		if a.Key == "srcset" {
			a.Val = rewriteSrcset(a.Val, rules)
			continue
		}
		if next, ok := rules.RewriteRef(a.Val); ok {
			a.Val = next
		}
	}
}

// rewriteSrcset handles "url descriptor, url descriptor" lists. Commas
// inside parentheses do not split candidates.
func rewriteSrcset(val string, rules *Rules) string {
	segments := splitSrcset(val)
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		urlPart, descriptor := seg, ""
		if i := strings.IndexAny(seg, " \t\n"); i >= 0 {
			urlPart, descriptor = seg[:i], strings.TrimSpace(seg[i:])
		}
		if next, ok := rules.RewriteRef(urlPart); ok {
			urlPart = next
		}
		if descriptor != "" {
			out = append(out, urlPart+" "+descriptor)
		} else {
			out = append(out, urlPart)
		}
	}
	return strings.Join(out, ", ")
}

func splitSrcset(val string) []string {
	var segs []string
	depth, start := 0, 0
	for i, r := range val {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				segs = append(segs, val[start:i])
				start = i + 1
			}
		}
	}
	return append(segs, val[start:])
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
