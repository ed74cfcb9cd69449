package park

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// XuebaFields is the field set of a Shei-Pa (Xueba) check page.
type XuebaFields struct {
	Header
	Pool      int // 承載量
	Queue     int // 待處理
	Wait      int // 補件
	Approved  int // 已通過
	Pending   int // 待系統排定
	Candidate int // 宿營地不足後補
	Current   int // 餘額
}

func (f *XuebaFields) Summary() string {
	return fmt.Sprintf("%s 餘額：%d床位 │ 承載量：%d │ 待處理： %d床位 │ 補件： %d床位 │ 已通過：%d床位 | 待系統排定：%d床位 │ 宿營地不足後補：%d床位",
		f.prefix(), f.Current, f.Pool, f.Queue, f.Wait, f.Approved, f.Pending, f.Candidate)
}

// XuebaVariant checks Shei-Pa National Park lodges and campsites.
type XuebaVariant struct {
	npmSite
}

func NewXueba(baseURL string) *XuebaVariant {
	return &XuebaVariant{npmSite: newNPMSite(Xueba, "雪霸", baseURL, "bed_1.aspx", "bed_1main.aspx")}
}

func (v *XuebaVariant) Name() string {
	return "xueba"
}

func (v *XuebaVariant) Extract(doc *goquery.Document, _ Query) (Fields, error) {
	h, err := v.header(doc)
	if err != nil {
		return nil, err
	}
	r := &spanReader{doc: doc}
	f := &XuebaFields{
		Header:    h,
		Pool:      r.count("ContentPlaceHolder1_lblsumrooms"),
		Queue:     r.count("ContentPlaceHolder1_lblchkrooms"),
		Wait:      r.count("ContentPlaceHolder1_docpeople"),
		Approved:  r.count("ContentPlaceHolder1_lblsubrooms"),
		Pending:   r.count("ContentPlaceHolder1_lblsystemwait"),
		Candidate: r.count("ContentPlaceHolder1_lblbakrooms"),
		Current:   r.count("ContentPlaceHolder1_lbloverrooms"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

func (v *XuebaVariant) Evaluate(fields Fields, q Query) Result {
	f, ok := fields.(*XuebaFields)
	if !ok {
		return Result{Query: q, Status: NotOpen, Err: fmt.Errorf("%w: unexpected field set %T", ErrParse, fields)}
	}
	if q.TeamSize == 0 {
		return undecided(q, f)
	}
	return Result{
		Query:  q,
		Fields: f,
		Status: boolStatus(f.Current > 0 && f.Current-f.Pending >= q.TeamSize),
	}
}
