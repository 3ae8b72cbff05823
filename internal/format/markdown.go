package format

import "strings"

// MarkdownToHTML converts common markdown to the subset of HTML Telegram
// accepts: **bold**, __underline__, *italic*, `code`, ```blocks``` and
// [text](url) links. Everything else is HTML-escaped.
func MarkdownToHTML(text string) string {
	var (
		out         []string
		block       []string
		inCodeBlock bool
	)

	for line := range strings.SplitSeq(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inCodeBlock {
				out = append(out, "<pre>"+EscapeHTML(strings.Join(block, "\n"))+"</pre>")
				block = nil
			}
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			block = append(block, line)
			continue
		}
		out = append(out, htmlLine(line))
	}

	// An unterminated fence still renders as a block.
	if inCodeBlock {
		out = append(out, "<pre>"+EscapeHTML(strings.Join(block, "\n"))+"</pre>")
	}
	return strings.Join(out, "\n")
}

// htmlLine converts the inline markup of a single line.
func htmlLine(line string) string {
	var result strings.Builder
	runes := []rune(line)
	n := len(runes)
	i := 0

	for i < n {
		switch {
		case runes[i] == '`':
			if end := findClosing(runes, i+1, '`'); end > 0 {
				result.WriteString("<code>")
				result.WriteString(EscapeHTML(string(runes[i+1 : end])))
				result.WriteString("</code>")
				i = end + 1
				continue
			}

		case i+1 < n && runes[i] == '*' && runes[i+1] == '*':
			if end := findDoubleClosing(runes, i+2, '*'); end > 0 {
				wrap(&result, "b", string(runes[i+2:end]))
				i = end + 2
				continue
			}

		case i+1 < n && runes[i] == '_' && runes[i+1] == '_':
			if end := findDoubleClosing(runes, i+2, '_'); end > 0 {
				wrap(&result, "u", string(runes[i+2:end]))
				i = end + 2
				continue
			}

		case runes[i] == '*':
			if end := findClosing(runes, i+1, '*'); end > i+1 {
				wrap(&result, "i", string(runes[i+1:end]))
				i = end + 1
				continue
			}

		case runes[i] == '[':
			if closeText := findClosing(runes, i+1, ']'); closeText > 0 &&
				closeText+1 < n && runes[closeText+1] == '(' {
				if closeURL := findClosing(runes, closeText+2, ')'); closeURL > 0 {
					label := string(runes[i+1 : closeText])
					url := string(runes[closeText+2 : closeURL])
					result.WriteString(`<a href="` + EscapeHTML(url) + `">` + EscapeHTML(label) + "</a>")
					i = closeURL + 1
					continue
				}
			}
		}

		result.WriteString(EscapeHTML(string(runes[i])))
		i++
	}

	return result.String()
}

func wrap(b *strings.Builder, tag, inner string) {
	b.WriteString("<" + tag + ">")
	b.WriteString(EscapeHTML(inner))
	b.WriteString("</" + tag + ">")
}

// findClosing finds the index of the closing delimiter starting from start.
// Returns -1 if not found.
func findClosing(runes []rune, start int, delim rune) int {
	for i := start; i < len(runes); i++ {
		if runes[i] == delim {
			return i
		}
	}
	return -1
}

// findDoubleClosing finds the index of a double-character closing delimiter
// (e.g., ** or __) starting from start. Returns -1 if not found.
func findDoubleClosing(runes []rune, start int, delim rune) int {
	for i := start; i < len(runes)-1; i++ {
		if runes[i] == delim && runes[i+1] == delim {
			return i
		}
	}
	return -1
}
