package park

import (
	"fmt"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RetainedForeignQuota is the number of Yushan beds held back per night for
// foreign teams applying early.
const RetainedForeignQuota = 24

var retainedRowTags = []string{"外籍提前保留名額", "外籍提前申請"}

// Columns of the Yushan detail table.
const (
	yushanMembersColumn = 6
	yushanRemarkColumn  = 9
)

// YushanFields is the field set of a Yushan check page.
type YushanFields struct {
	Header
	Current  int // 餘額
	Pool     int // 承載量
	Queue    int // 排隊預約
	Examine  int // 審核中
	Approved int // 核准入園
}

// Total is the number of applicants still waiting on a decision.
func (f *YushanFields) Total() int {
	return f.Queue + f.Examine
}

func (f *YushanFields) Summary() string {
	return fmt.Sprintf("%s 餘額：%d │ 承載量：%d │ 排隊預約： %d位 │ 審核中： %d位 │ 核准入園：%d位 ，共計：%d位",
		f.prefix(), f.Current, f.Pool, f.Queue, f.Examine, f.Approved, f.Total())
}

// RetainedSum adds up the team members of rows booked against the foreign
// quota.
func (f *YushanFields) RetainedSum() int {
	if f.Detail == nil {
		return 0
	}
	sum := 0
	for _, row := range f.Detail.Rows {
		if len(row) <= yushanRemarkColumn || !hasRetainedTag(row[yushanRemarkColumn]) {
			continue
		}
		n, err := ParseCount(row[yushanMembersColumn])
		if err != nil {
			continue
		}
		sum += n
	}
	return sum
}

func hasRetainedTag(remark string) bool {
	for _, tag := range retainedRowTags {
		if strings.Contains(remark, tag) {
			return true
		}
	}
	return false
}

// YushanVariant checks Yushan National Park lodges.
type YushanVariant struct {
	npmSite
}

// NewYushan creates the Yushan variant. An empty baseURL uses the public site.
func NewYushan(baseURL string) *YushanVariant {
	return &YushanVariant{npmSite: newNPMSite(Yushan, "玉山", baseURL, "bed_6.aspx", "bed_6main.aspx")}
}

func (v *YushanVariant) Name() string {
	return "yushan"
}

func (v *YushanVariant) Extract(doc *goquery.Document, _ Query) (Fields, error) {
	h, err := v.header(doc)
	if err != nil {
		return nil, err
	}
	r := &spanReader{doc: doc}
	f := &YushanFields{
		Header:   h,
		Current:  r.count("ContentPlaceHolder1_lbCnt1"),
		Pool:     r.count("ContentPlaceHolder1_lbCnt"),
		Queue:    r.count("ContentPlaceHolder1_lbStatus_6"),
		Examine:  r.count("ContentPlaceHolder1_lbCnt2"),
		Approved: r.count("ContentPlaceHolder1_lbStatus_4"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

func (v *YushanVariant) Evaluate(fields Fields, q Query) Result {
	f, ok := fields.(*YushanFields)
	if !ok {
		return Result{Query: q, Status: NotOpen, Err: fmt.Errorf("%w: unexpected field set %T", ErrParse, fields)}
	}
	r := Result{Query: q, Fields: f, Percentage: YushanPercentage(f, q)}
	if f.Detail == nil {
		r.Note = fmt.Sprintf("已保留%s%s床位，供活動暨工作人員使用", f.SearchDate, f.LodgeName)
	}
	if q.TeamSize == 0 {
		r.Status = Undecided
		return r
	}
	if q.CheckRetained {
		r.Status = Unavailable
		if f.Detail == nil {
			return r
		}
		remaining := RetainedForeignQuota - f.RetainedSum()
		if remaining >= q.TeamSize {
			r.Status = Available
		} else {
			remaining = 0
		}
		r.Note = fmt.Sprintf("尚餘可申請外籍保留名額：%d位", remaining)
		return r
	}
	switch {
	case f.Current > f.Queue && f.Current-f.Queue >= q.TeamSize && f.Detail != nil:
		r.Status = Available
	case f.Queue > 0 && f.Examine == 0 && f.Approved == 0:
		// Lottery not drawn yet, anyone may still apply.
		r.Status = Available
	default:
		r.Status = Unavailable
	}
	return r
}

// YushanPercentage estimates the lottery odds for a Yushan page.
func YushanPercentage(f *YushanFields, q Query) Percentage {
	switch {
	case f.Queue == 0 && f.Examine == 0 && f.Approved == 0:
		return Percentage{Kind: PercentageNotApplicable}
	case f.Approved == 0 && f.Queue > 0:
		return Percentage{Kind: PercentageValue, Value: math.Min(100, 100*float64(f.Pool)/float64(f.Queue))}
	case q.TeamSize > 0 && !q.CheckRetained:
		if f.Pool-(f.Queue+f.Examine+f.Approved) > q.TeamSize {
			return Percentage{Kind: PercentageValue, Value: 100}
		}
		return Percentage{Kind: PercentageValue, Value: 0}
	}
	return Percentage{Kind: PercentageDrawn}
}
