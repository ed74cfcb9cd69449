// Package worker checks lodge and campsite permit availability for a trip
// itinerary and finds the start dates a team can apply for.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"permitcheck.dev/worker/park"
)

// ErrUnknownLodge is returned when a lodge name is not on the site's list.
var ErrUnknownLodge = errors.New("unknown lodge")

// Authenticator logs into a site that only shows its pages to members.
type Authenticator interface {
	Login(ctx context.Context, force bool) error
}

// Checker fetches and evaluates permit pages.
type Checker struct {
	Fetcher park.Fetcher
	// Auth is used for variants that require login. It may be nil.
	Auth    Authenticator
	Workers int
}

// NewChecker creates a Checker. workers <= 0 selects the number of CPUs,
// capped at MaxWorkers.
func NewChecker(f park.Fetcher, auth Authenticator, workers int) *Checker {
	if workers <= 0 {
		workers = min(runtime.NumCPU(), MaxWorkers)
	}
	return &Checker{Fetcher: f, Auth: auth, Workers: workers}
}

// Plan is a prepared itinerary on one site.
type Plan struct {
	Variant park.Variant
	Target  park.Target
	// Lodges in itinerary order. A lodge may appear more than once.
	Lodges []park.Lodge

	pages pageCache
}

// pageCache shares pages between cells of one run. The Jiaming calendar
// serves a whole month per page.
type pageCache struct {
	group singleflight.Group
	mu    sync.Mutex
	pages map[string]string
}

func (p *pageCache) get(ctx context.Context, f park.Fetcher, rawURL string) (string, error) {
	p.mu.Lock()
	body, ok := p.pages[rawURL]
	p.mu.Unlock()
	if ok {
		return body, nil
	}
	v, err, _ := p.group.Do(rawURL, func() (interface{}, error) {
		body, err := f.Fetch(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		if p.pages == nil {
			p.pages = make(map[string]string)
		}
		p.pages[rawURL] = body
		p.mu.Unlock()
		return body, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Ping checks that the site answers.
func (c *Checker) Ping(ctx context.Context, v park.Variant) error {
	if _, err := c.Fetcher.Fetch(ctx, http.MethodGet, v.HomeURL(), nil); err != nil {
		return fmt.Errorf("connectivity check %s: %w", v.HomeURL(), err)
	}
	slog.Info("check connect ok", "park", v.Park().String(), "url", v.HomeURL())
	return nil
}

// Prepare logs in when the site requires it, resolves the site target and
// maps lodge names to ids. It runs before any fan-out.
func (c *Checker) Prepare(ctx context.Context, v park.Variant, lodgeNames []string) (*Plan, error) {
	if v.RequiresLogin() {
		if c.Auth == nil {
			return nil, fmt.Errorf("%s requires login but no credentials are configured", v.Name())
		}
		if err := c.Auth.Login(ctx, false); err != nil {
			return nil, err
		}
	}

	target, err := v.Prepare(ctx, c.Fetcher)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", v.Name(), err)
	}

	lodges, err := v.Lodges(ctx, c.Fetcher, target)
	if err != nil {
		return nil, fmt.Errorf("list lodges: %w", err)
	}
	byName := make(map[string]park.Lodge, len(lodges))
	names := make([]string, 0, len(lodges))
	for _, l := range lodges {
		byName[l.Name] = l
		names = append(names, l.Name)
	}

	plan := &Plan{Variant: v, Target: target}
	for _, name := range lodgeNames {
		l, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %s <--名稱錯誤。請輸入正確的山屋/營地名稱。%s路線的山屋/營地如下：%s",
				ErrUnknownLodge, name, v.Park(), strings.Join(names, "、"))
		}
		plan.Lodges = append(plan.Lodges, l)
	}
	if len(plan.Lodges) == 0 {
		return nil, fmt.Errorf("%w: no lodge given", ErrUnknownLodge)
	}
	return plan, nil
}

// Check fetches and evaluates one (lodge, date) page. Every failure becomes
// a NotOpen result; it never aborts the run.
func (c *Checker) Check(ctx context.Context, plan *Plan, q park.Query) park.Result {
	rawURL := plan.Variant.QueryURL(plan.Target, q)
	body, err := plan.pages.get(ctx, c.Fetcher, rawURL)
	if err != nil {
		slog.Warn("fetch permit page", "park", q.Park.String(), "lodge", q.LodgeName, "date", q.Date.Format(time.DateOnly), "error", err)
		return park.Result{Query: q, Status: park.NotOpen, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return park.Result{Query: q, Status: park.NotOpen, Err: fmt.Errorf("%w: %v", park.ErrParse, err)}
	}
	fields, err := plan.Variant.Extract(doc, q)
	if err != nil {
		if !errors.Is(err, park.ErrNotOpen) {
			slog.Warn("extract permit page", "park", q.Park.String(), "lodge", q.LodgeName, "date", q.Date.Format(time.DateOnly), "error", err)
		}
		return park.Result{Query: q, Status: park.NotOpen, Err: err}
	}
	return plan.Variant.Evaluate(fields, q)
}

// Request describes one run over a prepared plan.
type Request struct {
	// RunID is generated when empty.
	RunID         string
	Range         DateRange
	TeamSize      int
	CheckRetained bool
}

// Report is the outcome of a run.
type Report struct {
	RunID         string
	Park          park.Park
	TeamSize      int
	CheckRetained bool
	Matrix        Matrix
	// Windows is nil when no team size was given.
	Windows    []Window
	StartedAt  time.Time
	FinishedAt time.Time
}

// Run checks every lodge of the plan on every night of the range with a
// bounded pool and aggregates the windows. Once ctx is done no new fetches
// start and the remaining cells are NotOpen.
func (c *Checker) Run(ctx context.Context, plan *Plan, req Request) (*Report, error) {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	report := &Report{
		RunID:         req.RunID,
		Park:          plan.Variant.Park(),
		TeamSize:      req.TeamSize,
		CheckRetained: req.CheckRetained,
		StartedAt:     time.Now(),
	}
	dates := req.Range.Nights

	// A lodge repeated in the itinerary is fetched once per date.
	var unique []park.Lodge
	index := make(map[string]int)
	for _, l := range plan.Lodges {
		if _, ok := index[l.ID]; !ok {
			index[l.ID] = len(unique)
			unique = append(unique, l)
		}
	}

	results := make([][]park.Result, len(unique))
	for i := range results {
		results[i] = make([]park.Result, len(dates))
	}

	slog.Info("checking permits", "park", report.Park.String(), "lodges", len(plan.Lodges), "dates", len(dates), "workers", c.Workers)

	var g errgroup.Group
	g.SetLimit(max(c.Workers, 1))
	for li, lodge := range unique {
		for di, date := range dates {
			q := park.Query{
				Park:          report.Park,
				LodgeID:       lodge.ID,
				LodgeName:     lodge.Name,
				Date:          date,
				TeamSize:      req.TeamSize,
				CheckRetained: req.CheckRetained,
			}
			if err := ctx.Err(); err != nil {
				results[li][di] = park.Result{Query: q, Status: park.NotOpen, Err: err}
				continue
			}
			g.Go(func() error {
				results[li][di] = c.Check(ctx, plan, q)
				return nil
			})
		}
	}
	g.Wait()

	report.Matrix = Matrix{Dates: dates, Checkout: req.Range.Checkout, Rows: make([]Row, len(plan.Lodges))}
	for i, l := range plan.Lodges {
		report.Matrix.Rows[i] = Row{LodgeID: l.ID, LodgeName: l.Name, Results: results[index[l.ID]]}
	}

	if req.TeamSize > 0 {
		windows, err := ComputeWindows(report.Matrix, req.CheckRetained)
		if err != nil {
			return nil, err
		}
		report.Windows = windows
	}
	report.FinishedAt = time.Now()

	slog.Info("check completed", "run_id", report.RunID, "windows_found", len(report.Windows), "duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report, nil
}
