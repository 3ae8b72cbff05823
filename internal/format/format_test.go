package format

import (
	"strings"
	"testing"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"markdown", EscapeMarkdown, "a_b*c [x](y) `z` 1.5!", `a\_b\*c \[x\]\(y\) ` + "\\`z\\`" + ` 1.5!`},
		{"markdownv2", EscapeMarkdownV2, "1.5! a-b", `1\.5\! a\-b`},
		{"markdownv2 backslash", EscapeMarkdownV2, `a\b`, `a\\b`},
		{"html", EscapeHTML, `<b>"Tom" & 'Jerry'</b>`, "&lt;b&gt;&quot;Tom&quot; &amp; &#39;Jerry&#39;&lt;/b&gt;"},
		{"strip html", StripHTML, "<b>bold</b> <i>it</i>", "bold it"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarkdownToPlain(t *testing.T) {
	in := "**bold** and *it* with `code` and [link](http://x)\n```go\nfmt.Println()\n```"
	want := "bold and it with code and link\nfmt.Println()\n"
	if got := MarkdownToPlain(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"**bold** <x>", "<b>bold</b> &lt;x&gt;"},
		{"__under__ *it*", "<u>under</u> <i>it</i>"},
		{"use `a<b>`", "use <code>a&lt;b&gt;</code>"},
		{"[site](https://e.com?a=1&b=2)", `<a href="https://e.com?a=1&amp;b=2">site</a>`},
		{"before\n```\nx < y\n```\nafter", "before\n<pre>x &lt; y</pre>\nafter"},
		{"unclosed **bold", "unclosed **bold"},
	}
	for _, tt := range tests {
		if got := MarkdownToHTML(tt.in); got != tt.want {
			t.Errorf("MarkdownToHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	in := "  a  \n\n\n\n  b\n \n c  "
	want := "a\n\nb\n\nc"
	if got := NormalizeWhitespace(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo wörld", 5); got != "héll…" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		got := SplitMessage("hello", 100)
		if len(got) != 1 || got[0] != "hello" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		text := strings.Repeat("a", 100) + "\n" + strings.Repeat("b", 100)
		got := SplitMessage(text, 110)
		if len(got) != 2 {
			t.Fatalf("chunks = %d, want 2", len(got))
		}
		for i, c := range got {
			if len(c) > 110 {
				t.Errorf("chunk %d has %d bytes", i, len(c))
			}
		}
	})

	t.Run("keeps code block together", func(t *testing.T) {
		code := "```\nline one\nline two\n```"
		text := strings.Repeat("x", 30) + "\n" + code + "\nafter"
		got := SplitMessage(text, 40)
		found := false
		for _, c := range got {
			if strings.Contains(c, "line one") {
				found = strings.Contains(c, "line two") && strings.HasPrefix(c, "```")
			}
		}
		if !found {
			t.Errorf("code block was split: %q", got)
		}
	})

	t.Run("long line splits at words", func(t *testing.T) {
		text := strings.TrimSpace(strings.Repeat("word ", 30))
		got := SplitMessage(text, 32)
		for _, c := range got {
			if len(c) > 32 {
				t.Errorf("chunk too long: %q", c)
			}
			if strings.HasPrefix(c, "ord") {
				t.Errorf("split inside a word: %q", c)
			}
		}
		if strings.Join(got, " ") != text {
			t.Error("content lost while splitting")
		}
	})

	t.Run("multibyte runes not cut", func(t *testing.T) {
		text := strings.Repeat("é", 50)
		for _, c := range SplitMessage(text, 15) {
			if !strings.HasPrefix(c, "é") || strings.ContainsRune(c, '�') {
				t.Errorf("bad chunk %q", c)
			}
		}
	})
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}
	tests := []struct {
		page, wantPage, wantLen, wantTotalPages int
	}{
		{1, 1, 3, 3},
		{3, 3, 1, 3},
		{99, 3, 1, 3},
		{-2, 1, 3, 3},
	}
	for _, tt := range tests {
		p := Paginate(items, tt.page, 3)
		if p.Page != tt.wantPage || len(p.Items) != tt.wantLen || p.TotalPages != tt.wantTotalPages {
			t.Errorf("Paginate(page=%d) = %+v", tt.page, p)
		}
	}

	empty := Paginate([]int{}, 1, 3)
	if empty.TotalPages != 1 || len(empty.Items) != 0 {
		t.Errorf("empty = %+v", empty)
	}
}

func TestPaginator_Render(t *testing.T) {
	p := Paginator[string]{
		Title:    "Modules",
		Prefix:   "mod_page",
		PageSize: 2,
		Format:   func(s string) string { return "• " + s },
	}

	text, kb := p.Render([]string{"a", "b", "c"}, 2)
	if !strings.HasPrefix(text, "*Modules*") || !strings.Contains(text, "• c") || !strings.Contains(text, "Page 2/2") {
		t.Errorf("text = %q", text)
	}
	if kb == nil || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 3 {
		t.Fatalf("keyboard = %+v", kb)
	}
	row := kb.InlineKeyboard[0]
	if row[0].Data != "mod_page:1" || row[1].Data != NoopData || row[2].Data != NoopData {
		t.Errorf("row = %+v", row)
	}

	_, kb = p.Render([]string{"a"}, 1)
	if kb != nil {
		t.Error("single page should have no keyboard")
	}
}

func TestParsePageData(t *testing.T) {
	tests := []struct {
		data   string
		page   int
		wantOK bool
	}{
		{"cmd_page:3", 3, true},
		{"cmd_page:2:111", 2, true},
		{"mod_page:3", 0, false},
		{"cmd_page:x", 0, false},
	}
	for _, tt := range tests {
		page, ok := ParsePageData(tt.data, "cmd_page")
		if page != tt.page || ok != tt.wantOK {
			t.Errorf("ParsePageData(%q) = %d, %v", tt.data, page, ok)
		}
	}
}
