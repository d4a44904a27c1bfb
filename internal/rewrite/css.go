package rewrite

import (
	"strings"

	"github.com/gorilla/css/scanner"
)

// CSS rewrites url(...) functions and @import targets that resolve into the
// target origin. All other tokens, whitespace and comments included, pass
// through verbatim.
func CSS(css string, rules *Rules) string {
	s := scanner.New(css)
	var out strings.Builder
	out.Grow(len(css))

	// @import accepts either a string or a url() argument; the flag survives
	// whitespace and comments between the at-keyword and its parameter.
	afterImport := false

	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF {
			break
		}
		if tok.Type == scanner.TokenError {
			out.WriteString(tok.Value)
			break
		}

		switch tok.Type {
		case scanner.TokenURI:
			out.WriteString(rewriteURIToken(tok.Value, rules))
			afterImport = false
		case scanner.TokenString:
			if afterImport {
				out.WriteString(rewriteStringToken(tok.Value, rules))
				afterImport = false
			} else {
				out.WriteString(tok.Value)
			}
		case scanner.TokenAtKeyword:
			afterImport = strings.EqualFold(tok.Value, "@import")
			out.WriteString(tok.Value)
		case scanner.TokenS, scanner.TokenComment:
			out.WriteString(tok.Value)
		default:
			out.WriteString(tok.Value)
			afterImport = false
		}
	}

	return out.String()
}

// rewriteURIToken takes a full url(...) token and rewrites its argument,
// preserving the original quoting style.
func rewriteURIToken(tok string, rules *Rules) string {
	open := strings.Index(tok, "(")
	end := strings.LastIndex(tok, ")")
	if open < 0 || end <= open {
		return tok
	}

	inner := strings.TrimSpace(tok[open+1 : end])
	quote := ""
	if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
		quote = string(inner[0])
		inner = inner[1 : len(inner)-1]
	}

	next, ok := rules.RewriteRef(inner)
	if !ok {
		return tok
	}
	return "url(" + quote + next + quote + ")"
}

// rewriteStringToken rewrites a quoted string token ('foo.css' or
// "foo.css"), keeping the quote character.
func rewriteStringToken(tok string, rules *Rules) string {
	if len(tok) < 2 {
		return tok
	}
	quote := tok[0]
	if quote != '"' && quote != '\'' {
		return tok
	}
	inner := tok[1 : len(tok)-1]

	next, ok := rules.RewriteRef(inner)
	if !ok {
		return tok
	}
	return string(quote) + next + string(quote)
}
