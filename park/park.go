// Package park provides permit page checkers for Taiwan's national park and
// national trail lodge reservation systems.
package park

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Park identifies a reservation system.
type Park int

const (
	Yushan Park = iota + 1
	Xueba
	Taroko
	Jiaming
)

func (p Park) String() string {
	switch p {
	case Yushan:
		return "玉山"
	case Xueba:
		return "雪霸"
	case Taroko:
		return "太魯閣"
	case Jiaming:
		return "嘉明湖"
	}
	return "unknown"
}

// Status is the outcome of evaluating one lodge on one date.
type Status int

const (
	// Undecided means fields were read but no team size was given.
	Undecided Status = iota
	Available
	Unavailable
	// NotOpen means the page could not be queried: no reservation page yet,
	// a timeout or a transport failure. It counts as unavailable.
	NotOpen
)

func (s Status) String() string {
	switch s {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	case NotOpen:
		return "not_open"
	}
	return "undecided"
}

// Errors returned while extracting fields.
var (
	ErrNotOpen     = errors.New("page not open for query")
	ErrParse       = errors.New("parse error")
	ErrUnknownPark = errors.New("unknown park")
)

// Fetcher returns the decoded body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, method, rawURL string, form url.Values) (string, error)
}

// Lodge is a lodge or campsite as listed by the site.
type Lodge struct {
	ID   string
	Name string
}

// Target carries the per-run values a site needs to build query URLs.
type Target struct {
	Base  string
	OrgID string // national park unit id
	Token string // csrf token
}

// Query is one (lodge, date) lookup.
type Query struct {
	Park          Park
	LodgeID       string
	LodgeName     string
	Date          time.Time
	TeamSize      int // 0 when not given
	CheckRetained bool
}

// Table is the tabular detail block of a page.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Header holds the fields every park page shares.
type Header struct {
	SearchDate string
	ParkName   string
	LodgeName  string
	Detail     *Table
}

// Fields is the park-specific field set read from one page.
type Fields interface {
	Meta() Header
	Summary() string
}

// PercentageKind tags a Percentage.
type PercentageKind int

const (
	PercentageNone PercentageKind = iota
	PercentageNotApplicable
	PercentageDrawn
	PercentageValue
)

// Percentage is the estimated chance of winning the Yushan lottery.
type Percentage struct {
	Kind  PercentageKind
	Value float64
}

func (p Percentage) String() string {
	switch p.Kind {
	case PercentageNotApplicable:
		return "N/A"
	case PercentageDrawn:
		return "已抽完籤"
	case PercentageValue:
		return strconv.FormatFloat(math.Round(p.Value*100)/100, 'f', -1, 64)
	}
	return ""
}

// Result is the evaluated outcome of a Query.
type Result struct {
	Query      Query
	Status     Status
	Fields     Fields
	Percentage Percentage
	Note       string
	Err        error
}

// Line renders the one-line summary printed for each cell.
func (r Result) Line() string {
	if r.Fields == nil {
		if errors.Is(r.Err, ErrNotOpen) {
			return fmt.Sprintf("%s %s 您所查詢的宿營地，於該日未開放查詢！", r.Query.Date.Format(time.DateOnly), r.Query.LodgeName)
		}
		return fmt.Sprintf("%s %s 查詢失敗：%v", r.Query.Date.Format(time.DateOnly), r.Query.LodgeName, r.Err)
	}
	line := r.Fields.Summary()
	if r.Percentage.Kind != PercentageNone {
		line += fmt.Sprintf("，中籤率約為 %s %%。", r.Percentage)
	}
	if r.Note != "" {
		line += " " + r.Note
	}
	return line
}

// Variant is one reservation system. Each park reads its own field
// vocabulary and applies its own eligibility rule.
type Variant interface {
	Park() Park
	Name() string
	// RequiresLogin reports whether queries need an authenticated session.
	RequiresLogin() bool
	// HomeURL is fetched as the connectivity check.
	HomeURL() string
	// Prepare resolves the per-run Target.
	Prepare(ctx context.Context, f Fetcher) (Target, error)
	// Lodges lists the lodges the site currently accepts.
	Lodges(ctx context.Context, f Fetcher, t Target) ([]Lodge, error)
	QueryURL(t Target, q Query) string
	Extract(doc *goquery.Document, q Query) (Fields, error)
	Evaluate(f Fields, q Query) Result
}

func undecided(q Query, f Fields) Result {
	return Result{Query: q, Status: Undecided, Fields: f}
}

func boolStatus(ok bool) Status {
	if ok {
		return Available
	}
	return Unavailable
}
