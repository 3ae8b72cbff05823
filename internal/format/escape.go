// Package format holds text helpers for Telegram output: escaping for the
// three parse modes, markdown conversion, message splitting and pagination.
package format

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// markdownSpecialChars are the characters legacy Markdown treats as markup.
var markdownSpecialChars = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	`[`, `\[`,
	`]`, `\]`,
	`(`, `\(`,
	`)`, `\)`,
	`~`, `\~`,
	"`", "\\`",
)

// markdownV2SpecialChars lists all characters that must be escaped in Telegram MarkdownV2.
var markdownV2SpecialChars = strings.NewReplacer(
	`\`, `\\`,
	`_`, `\_`,
	`*`, `\*`,
	`[`, `\[`,
	`]`, `\]`,
	`(`, `\(`,
	`)`, `\)`,
	`~`, `\~`,
	"`", "\\`",
	`>`, `\>`,
	`#`, `\#`,
	`+`, `\+`,
	`-`, `\-`,
	`=`, `\=`,
	`|`, `\|`,
	`{`, `\{`,
	`}`, `\}`,
	`.`, `\.`,
	`!`, `\!`,
)

var htmlSpecialChars = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeMarkdown escapes user text for the legacy Markdown parse mode.
// Only _ * [ ] ( ) ~ and ` are markup there.
func EscapeMarkdown(text string) string {
	return markdownSpecialChars.Replace(text)
}

// EscapeMarkdownV2 escapes all special characters for Telegram MarkdownV2 format.
func EscapeMarkdownV2(text string) string {
	return markdownV2SpecialChars.Replace(text)
}

// EscapeHTML escapes user text for the HTML parse mode.
func EscapeHTML(text string) string {
	return htmlSpecialChars.Replace(text)
}

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]+>`)
	boldPattern      = regexp.MustCompile(`\*\*(.*?)\*\*|__(.*?)__`)
	italicPattern    = regexp.MustCompile(`\*(.*?)\*|_(.*?)_`)
	codeFencePattern = regexp.MustCompile("```[^\\n]*\\n([\\s\\S]*?)```")
	inlineCode       = regexp.MustCompile("`([^`]*)`")
	linkPattern      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	escapedPattern   = regexp.MustCompile("\\\\([\\\\`*_{}\\[\\]()#+\\-.!])")
	blankRunPattern  = regexp.MustCompile(`\n\s*\n`)
)

// StripHTML removes HTML tags.
func StripHTML(text string) string {
	return htmlTagPattern.ReplaceAllString(text, "")
}

// MarkdownToPlain removes markdown markup, keeping the visible text.
func MarkdownToPlain(text string) string {
	text = codeFencePattern.ReplaceAllString(text, "$1")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = boldPattern.ReplaceAllString(text, "$1$2")
	text = italicPattern.ReplaceAllString(text, "$1$2")
	text = linkPattern.ReplaceAllString(text, "$1")
	return escapedPattern.ReplaceAllString(text, "$1")
}

// NormalizeWhitespace collapses runs of blank lines into one and trims every line.
func NormalizeWhitespace(text string) string {
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Truncate shortens text to at most max runes, ending with an ellipsis when cut.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
