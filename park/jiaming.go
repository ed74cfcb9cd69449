package park

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultJiamingBaseURL is the Forestry Bureau lodge system of the Jiaming
// Lake national trail.
const DefaultJiamingBaseURL = "https://jmlnt.forest.gov.tw"

const jiamingRoomPage = "/room/index.php"

// JiamingLodges are the lodges bookable on the trail.
var JiamingLodges = []Lodge{
	{ID: "向陽山屋", Name: "向陽山屋"},
	{ID: "嘉明湖避難山屋", Name: "嘉明湖避難山屋"},
	{ID: "檜谷山莊", Name: "檜谷山莊"},
}

var calendarCleaner = strings.NewReplacer(" ", "", ":", "", "：", "", "(", "", ")", "", "（", "", "）", "")

// CalendarEntry is one label and its trailing text in a calendar day cell.
type CalendarEntry struct {
	Label string
	Value string
}

// JiamingFields is one calendar day of the trail's room page.
type JiamingFields struct {
	Header
	Entries []CalendarEntry
	Current int
}

func (f *JiamingFields) Summary() string {
	if len(f.Entries) == 0 {
		return fmt.Sprintf("%s │ 所有床位/營地已額滿", f.SearchDate)
	}
	var b strings.Builder
	b.WriteString(f.SearchDate)
	for _, e := range f.Entries {
		fmt.Fprintf(&b, " │ %s %s", e.Label, e.Value)
	}
	return b.String()
}

// JiamingVariant checks the Jiaming Lake trail lodges. The room calendar is
// only shown to logged in members.
type JiamingVariant struct {
	baseURL string
}

func NewJiaming(baseURL string) *JiamingVariant {
	if baseURL == "" {
		baseURL = DefaultJiamingBaseURL
	}
	return &JiamingVariant{baseURL: strings.TrimRight(baseURL, "/")}
}

func (v *JiamingVariant) Park() Park          { return Jiaming }
func (v *JiamingVariant) Name() string        { return "jiaming" }
func (v *JiamingVariant) RequiresLogin() bool { return true }

// HomeURL is the calendar page, also used as the connectivity check.
func (v *JiamingVariant) HomeURL() string {
	return v.baseURL + jiamingRoomPage
}

// Prepare reads the csrf token of the calendar form.
func (v *JiamingVariant) Prepare(ctx context.Context, f Fetcher) (Target, error) {
	doc, err := getDocument(ctx, f, v.HomeURL())
	if err != nil {
		return Target{}, fmt.Errorf("fetch room page: %w", err)
	}
	token, ok := doc.Find(`form[name="form1"] input[name="csrf"]`).First().Attr("value")
	if !ok || token == "" {
		return Target{}, fmt.Errorf("%w: csrf token not found", ErrParse)
	}
	return Target{Base: v.baseURL, Token: token}, nil
}

func (v *JiamingVariant) Lodges(context.Context, Fetcher, Target) ([]Lodge, error) {
	return JiamingLodges, nil
}

func (v *JiamingVariant) QueryURL(t Target, q Query) string {
	base := t.Base
	if base == "" {
		base = v.baseURL
	}
	p := url.Values{}
	p.Set("date_set[year]", strconv.Itoa(q.Date.Year()))
	p.Set("date_set[month]", fmt.Sprintf("%02d", int(q.Date.Month())))
	p.Set("csrf", t.Token)
	return base + jiamingRoomPage + "?" + p.Encode()
}

func (v *JiamingVariant) Extract(doc *goquery.Document, q Query) (Fields, error) {
	calendar := doc.Find("table.calendar_table").First()
	if calendar.Length() == 0 {
		return nil, ErrNotOpen
	}
	day := strconv.Itoa(q.Date.Day())
	var entries []CalendarEntry
	found := false
	calendar.Find("table").First().Find("table").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		rows := cell.Find("tr")
		if rows.Length() < 2 || strings.TrimSpace(rows.Eq(0).Text()) != day {
			return true
		}
		found = true
		rows.Eq(1).Find("font").Each(func(_ int, font *goquery.Selection) {
			entries = append(entries, CalendarEntry{
				Label: strings.TrimSpace(font.Text()),
				Value: siblingText(font),
			})
		})
		return false
	})
	if !found {
		return nil, ErrNotOpen
	}
	f := &JiamingFields{
		Header: Header{
			SearchDate: q.Date.Format(time.DateOnly),
			ParkName:   "嘉明湖國家步道",
			LodgeName:  q.LodgeName,
		},
		Entries: entries,
	}
	f.Current = lodgeCount(entries, q.LodgeName)
	return f, nil
}

// siblingText returns the cleaned text node following an element.
func siblingText(sel *goquery.Selection) string {
	n := sel.Get(0).NextSibling
	if n == nil || n.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(calendarCleaner.Replace(n.Data))
}

// lodgeCount reads the count that follows the lodge's own label. A day with
// at most one entry is full.
func lodgeCount(entries []CalendarEntry, lodge string) int {
	if len(entries) <= 1 {
		return 0
	}
	for i, e := range entries[:len(entries)-1] {
		if e.Label != lodge || e.Value != "" {
			continue
		}
		n, err := ParseCount(entries[i+1].Value)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func (v *JiamingVariant) Evaluate(fields Fields, q Query) Result {
	f, ok := fields.(*JiamingFields)
	if !ok {
		return Result{Query: q, Status: NotOpen, Err: fmt.Errorf("%w: unexpected field set %T", ErrParse, fields)}
	}
	if q.TeamSize == 0 {
		return undecided(q, f)
	}
	return Result{Query: q, Fields: f, Status: boolStatus(f.Current >= q.TeamSize)}
}
