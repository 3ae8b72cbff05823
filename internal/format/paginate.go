package format

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"
)

// NoopData is the callback data of buttons that only need an acknowledgment.
const NoopData = "noop"

// Page is one slice of a paginated list.
type Page[T any] struct {
	Items      []T
	Page       int // 1-based, clamped to [1, TotalPages]
	TotalPages int
	Total      int
}

// HasPrev reports whether a previous page exists.
func (p Page[T]) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a next page exists.
func (p Page[T]) HasNext() bool { return p.Page < p.TotalPages }

// Paginate returns the requested page of items. TotalPages is at least 1
// and out-of-range pages are clamped.
func Paginate[T any](items []T, page, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	totalPages := max(1, (total+size-1)/size)
	page = min(max(page, 1), totalPages)

	start := (page - 1) * size
	end := min(start+size, total)
	return Page[T]{
		Items:      items[start:end],
		Page:       page,
		TotalPages: totalPages,
		Total:      total,
	}
}

// Paginator renders paginated lists with a Prev / x/y / Next keyboard.
// Button data has the form "<Prefix>:<page>".
type Paginator[T any] struct {
	Title    string
	Prefix   string
	PageSize int

	// Format renders one item as a line of legacy Markdown.
	Format func(T) string

	// Empty is shown instead of the list when there are no items.
	Empty string
}

// Render returns the message text and keyboard for the given page.
func (p Paginator[T]) Render(items []T, page int) (string, *tele.ReplyMarkup) {
	pg := Paginate(items, page, p.PageSize)

	var b strings.Builder
	if p.Title != "" {
		b.WriteString("*" + EscapeMarkdown(p.Title) + "*\n\n")
	}
	if pg.Total == 0 && p.Empty != "" {
		b.WriteString(p.Empty)
	}
	for _, item := range pg.Items {
		b.WriteString(p.Format(item))
		b.WriteByte('\n')
	}
	if pg.TotalPages > 1 {
		fmt.Fprintf(&b, "\nPage %d/%d", pg.Page, pg.TotalPages)
	}

	return strings.TrimRight(b.String(), "\n"), p.keyboard(pg.Page, pg.TotalPages)
}

func (p Paginator[T]) keyboard(page, totalPages int) *tele.ReplyMarkup {
	if totalPages <= 1 {
		return nil
	}

	prev := tele.InlineButton{Text: " ", Data: NoopData}
	if page > 1 {
		prev = tele.InlineButton{Text: "« Prev", Data: p.Data(page - 1)}
	}
	next := tele.InlineButton{Text: " ", Data: NoopData}
	if page < totalPages {
		next = tele.InlineButton{Text: "Next »", Data: p.Data(page + 1)}
	}
	counter := tele.InlineButton{Text: fmt.Sprintf("%d/%d", page, totalPages), Data: NoopData}

	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{prev, counter, next}}}
}

// Data returns the callback data that opens page.
func (p Paginator[T]) Data(page int) string {
	return p.Prefix + ":" + strconv.Itoa(page)
}

// ParsePageData extracts the page number from callback data produced by
// Paginator.Data. It returns false when data does not carry prefix.
func ParsePageData(data, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(data, prefix+":")
	if !ok {
		return 0, false
	}
	// Tolerate a trailing ":<extra>" segment.
	rest, _, _ = strings.Cut(rest, ":")
	page, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return page, true
}
