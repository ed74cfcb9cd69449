package park

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultNPMBaseURL is the national park permit system shared by Yushan,
// Xueba and Taroko.
const DefaultNPMBaseURL = "https://npm.cpami.gov.tw"

const (
	npmMenuPage   = "bed_menu.aspx"
	npmUnitPrefix = "apply_1_2.aspx?unit="
	npmMarkerID   = "ContentPlaceHolder1_sdate"
)

// npmSite holds what the three national park variants have in common. Each
// park uses its own lodge list page and check page.
type npmSite struct {
	park      Park
	unitName  string // link text on the menu page
	baseURL   string
	listPage  string
	checkPage string
}

func newNPMSite(p Park, unitName, baseURL, listPage, checkPage string) npmSite {
	if baseURL == "" {
		baseURL = DefaultNPMBaseURL
	}
	return npmSite{
		park:      p,
		unitName:  unitName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		listPage:  listPage,
		checkPage: checkPage,
	}
}

func (s npmSite) Park() Park          { return s.park }
func (s npmSite) RequiresLogin() bool { return false }

// HomeURL is the page used as the connectivity check.
func (s npmSite) HomeURL() string {
	return s.baseURL + "/" + npmMenuPage
}

// Prepare reads the park's orgid from the menu page.
func (s npmSite) Prepare(ctx context.Context, f Fetcher) (Target, error) {
	doc, err := getDocument(ctx, f, s.HomeURL())
	if err != nil {
		return Target{}, fmt.Errorf("fetch menu: %w", err)
	}
	var orgID string
	doc.Find(`ul > li > a[href^="` + npmUnitPrefix + `"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		html, _ := goquery.OuterHtml(a)
		if !strings.Contains(html, s.unitName) {
			return true
		}
		href, _ := a.Attr("href")
		orgID = strings.TrimPrefix(href, npmUnitPrefix)
		return false
	})
	if orgID == "" {
		return Target{}, fmt.Errorf("%w: orgid for %s not found", ErrParse, s.unitName)
	}
	return Target{Base: s.baseURL, OrgID: orgID}, nil
}

// Lodges reads the option list of the park's lodge page.
func (s npmSite) Lodges(ctx context.Context, f Fetcher, _ Target) ([]Lodge, error) {
	doc, err := getDocument(ctx, f, s.baseURL+"/"+s.listPage)
	if err != nil {
		return nil, fmt.Errorf("fetch lodge list: %w", err)
	}
	var lodges []Lodge
	doc.Find("option").Each(func(_ int, opt *goquery.Selection) {
		id, _ := opt.Attr("value")
		name := strings.TrimSpace(opt.Text())
		if id == "" || name == "" {
			return
		}
		lodges = append(lodges, Lodge{ID: id, Name: name})
	})
	if len(lodges) == 0 {
		return nil, fmt.Errorf("%w: no lodges on %s", ErrParse, s.listPage)
	}
	return lodges, nil
}

func (s npmSite) QueryURL(t Target, q Query) string {
	base := t.Base
	if base == "" {
		base = s.baseURL
	}
	v := url.Values{}
	v.Set("orgid", t.OrgID)
	v.Set("node_id", q.LodgeID)
	v.Set("sdate", FormatROC(q.Date))
	return fmt.Sprintf("%s/%s?%s", base, s.checkPage, v.Encode())
}

// header reads the shared header spans. A page without the search marker has
// no reservation data for the date yet.
func (s npmSite) header(doc *goquery.Document) (Header, error) {
	if doc.Find("#"+npmMarkerID).Length() == 0 {
		return Header{}, ErrNotOpen
	}
	r := &spanReader{doc: doc}
	h := Header{
		SearchDate: r.text(npmMarkerID),
		ParkName:   r.text("ContentPlaceHolder1_org"),
		LodgeName:  r.text("ContentPlaceHolder1_room"),
	}
	if r.err != nil {
		return Header{}, r.err
	}
	if table := doc.Find("table.DATAM").First(); table.Length() > 0 {
		h.Detail = readTable(table)
	}
	return h, nil
}

func (h Header) prefix() string {
	return fmt.Sprintf("%s %s %s", h.SearchDate, h.ParkName, h.LodgeName)
}

// Meta returns the shared header.
func (h Header) Meta() Header { return h }
