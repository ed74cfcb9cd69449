package park

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var countRe = regexp.MustCompile(`^(\d{1,3}(?:,\d{3})+|\d+)`)

var countCleaner = strings.NewReplacer(
	" ", "", "\u00a0", "", "\t", "", "\n", "", "\r", "",
	":", "", "：", "",
	"(", "", ")", "", "（", "", "）", "",
)

// ParseCount reads the leading integer of a page counter such as "12",
// "(12,含保留)" or "1,234". A comma followed by exactly three digits is a
// thousands separator, so "(12,345)" reads as 12345; any other comma ends
// the number.
func ParseCount(s string) (int, error) {
	cleaned := countCleaner.Replace(s)
	m := countRe.FindString(cleaned)
	if m == "" {
		return 0, fmt.Errorf("%w: no count in %q", ErrParse, s)
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return n, nil
}

// spanReader reads counters by element id and keeps the first failure.
type spanReader struct {
	doc *goquery.Document
	err error
}

func (r *spanReader) text(id string) string {
	sel := r.doc.Find("#" + id)
	if sel.Length() == 0 {
		if r.err == nil {
			r.err = fmt.Errorf("%w: element #%s not found", ErrParse, id)
		}
		return ""
	}
	return strings.TrimSpace(sel.First().Text())
}

func (r *spanReader) count(id string) int {
	s := r.text(id)
	if r.err != nil {
		return 0
	}
	n, err := ParseCount(s)
	if err != nil {
		r.err = fmt.Errorf("#%s: %w", id, err)
		return 0
	}
	return n
}

var headerCleaner = strings.NewReplacer("\r", "", "\n", "", "\t", "")

// readTable converts a detail table into column titles and cell text.
func readTable(sel *goquery.Selection) *Table {
	t := &Table{}
	sel.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tr.Find("th").Each(func(_ int, th *goquery.Selection) {
			t.Columns = append(t.Columns, strings.TrimSpace(headerCleaner.Replace(th.Text())))
		})
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		t.Rows = append(t.Rows, row)
	})
	return t
}

func getDocument(ctx context.Context, f Fetcher, rawURL string) (*goquery.Document, error) {
	body, err := f.Fetch(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return doc, nil
}
