package format

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is Telegram's limit for one text message.
const MaxMessageLength = 4096

// SplitMessage breaks text into chunks of at most maxLen bytes. It splits at
// line boundaries, keeps a fenced code block in one chunk whenever the block
// fits, and falls back to word and then rune boundaries for oversized lines.
// A maxLen <= 0 means MaxMessageLength.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxMessageLength
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
			current.Reset()
		}
	}

	for _, seg := range segments(text) {
		if current.Len()+len(seg) <= maxLen+1 {
			current.WriteString(seg)
			continue
		}
		flush()
		if len(seg) <= maxLen+1 {
			current.WriteString(seg)
			continue
		}

		// A segment larger than a whole chunk: split it line by line.
		for line := range strings.SplitSeq(strings.TrimSuffix(seg, "\n"), "\n") {
			if current.Len()+len(line) > maxLen {
				flush()
			}
			if len(line) > maxLen {
				chunks = append(chunks, splitLine(line, maxLen)...)
				continue
			}
			current.WriteString(line + "\n")
		}
	}
	flush()

	return chunks
}

// segments groups text into units that should not be split: each line on its
// own, except fenced code blocks, which form one unit from fence to fence.
// Every segment ends with a newline.
func segments(text string) []string {
	var (
		out    []string
		block  strings.Builder
		inside bool
	)
	for line := range strings.SplitSeq(text, "\n") {
		isFence := strings.HasPrefix(strings.TrimSpace(line), "```")
		switch {
		case inside:
			block.WriteString(line + "\n")
			if isFence {
				out = append(out, block.String())
				block.Reset()
				inside = false
			}
		case isFence:
			block.WriteString(line + "\n")
			inside = true
		default:
			out = append(out, line+"\n")
		}
	}
	if block.Len() > 0 {
		out = append(out, block.String())
	}
	return out
}

// splitLine breaks one oversized line at spaces where possible, otherwise at
// rune boundaries, so multi-byte characters are never cut.
func splitLine(line string, maxLen int) []string {
	var parts []string
	for len(line) > maxLen {
		cut := strings.LastIndexByte(line[:maxLen+1], ' ')
		if cut <= maxLen/2 {
			cut = maxLen
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
		}
		parts = append(parts, strings.TrimRight(line[:cut], " "))
		line = strings.TrimLeft(line[cut:], " ")
	}
	if len(line) > 0 {
		parts = append(parts, line)
	}
	return parts
}
