package park

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// TarokoFields is the field set of a Taroko check page.
type TarokoFields struct {
	Header
	Pool     int // 承載量
	Approved int // 通過審核
	Pending  int // 待審核
	Current  int // 餘額
}

func (f *TarokoFields) Summary() string {
	return fmt.Sprintf("%s 餘額：%d床位 │ 承載量：%d │ 通過審核： %d床位 │ 待審核： %d床位",
		f.prefix(), f.Current, f.Pool, f.Approved, f.Pending)
}

// TarokoVariant checks Taroko National Park lodges and campsites.
type TarokoVariant struct {
	npmSite
}

func NewTaroko(baseURL string) *TarokoVariant {
	return &TarokoVariant{npmSite: newNPMSite(Taroko, "太魯閣", baseURL, "bed_4.aspx", "bed_4main.aspx")}
}

func (v *TarokoVariant) Name() string {
	return "taroko"
}

func (v *TarokoVariant) Extract(doc *goquery.Document, _ Query) (Fields, error) {
	h, err := v.header(doc)
	if err != nil {
		return nil, err
	}
	r := &spanReader{doc: doc}
	f := &TarokoFields{
		Header:   h,
		Pool:     r.count("ContentPlaceHolder1_lblsumrooms"),
		Approved: r.count("ContentPlaceHolder1_lblsubrooms"),
		Pending:  r.count("ContentPlaceHolder1_lblchkrooms"),
		Current:  r.count("ContentPlaceHolder1_lbloverrooms"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

func (v *TarokoVariant) Evaluate(fields Fields, q Query) Result {
	f, ok := fields.(*TarokoFields)
	if !ok {
		return Result{Query: q, Status: NotOpen, Err: fmt.Errorf("%w: unexpected field set %T", ErrParse, fields)}
	}
	if q.TeamSize == 0 {
		return undecided(q, f)
	}
	return Result{
		Query:  q,
		Fields: f,
		Status: boolStatus(f.Current > 0 && f.Current >= q.TeamSize),
	}
}
