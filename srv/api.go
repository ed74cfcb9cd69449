package srv

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	worker "permitcheck.dev/worker"
	"permitcheck.dev/worker/park"
)

type windowJSON struct {
	Start    string   `json:"start"`
	Checkout string   `json:"checkout"`
	Lodges   []string `json:"lodges"`
}

type cellJSON struct {
	Lodge   string `json:"lodge"`
	Date    string `json:"date"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

type checkResponse struct {
	RunID    string       `json:"run_id"`
	Park     string       `json:"park"`
	TeamSize int          `json:"team_size"`
	Summary  string       `json:"summary,omitempty"`
	Windows  []windowJSON `json:"windows"`
	Cells    []cellJSON   `json:"cells"`
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode", "error", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func toWindows(ws []worker.Window) []windowJSON {
	out := make([]windowJSON, 0, len(ws))
	for _, w := range ws {
		out = append(out, windowJSON{
			Start:    w.Start.Format(time.DateOnly),
			Checkout: w.Checkout.Format(time.DateOnly),
			Lodges:   w.Lodges,
		})
	}
	return out
}

func (s *Server) HandleListParks(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.Registry.Names())
}

func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := worker.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	runs, err := s.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type runJSON struct {
		ID            string   `json:"id"`
		Park          string   `json:"park"`
		Lodges        []string `json:"lodges"`
		TeamSize      int      `json:"team_size"`
		CheckRetained bool     `json:"check_retained"`
		DateFrom      string   `json:"date_from"`
		DateTo        string   `json:"date_to"`
		Status        string   `json:"status"`
		WindowsFound  int      `json:"windows_found"`
		ErrorMessage  string   `json:"error_message,omitempty"`
		CreatedAt     string   `json:"created_at"`
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, runJSON(run))
	}
	jsonResponse(w, out)
}

func (s *Server) HandleListWindows(w http.ResponseWriter, r *http.Request) {
	ws, err := s.Runs.WindowsForRun(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, toWindows(ws))
}

func (s *Server) HandleCheck(w http.ResponseWriter, r *http.Request) {
	if s.Check == nil {
		jsonError(w, "checks are disabled", http.StatusNotImplemented)
		return
	}
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Park == "" || len(req.Lodges) == 0 {
		jsonError(w, "park and lodges are required", http.StatusBadRequest)
		return
	}

	report, err := s.Check(r.Context(), req)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, worker.ErrMalformedDateRange) || errors.Is(err, worker.ErrUnknownLodge) || errors.Is(err, park.ErrUnknownPark) {
			code = http.StatusBadRequest
		}
		slog.Warn("check request failed", "park", req.Park, "error", err)
		jsonError(w, err.Error(), code)
		return
	}

	resp := checkResponse{
		RunID:    report.RunID,
		Park:     report.Park.String(),
		TeamSize: report.TeamSize,
		Windows:  toWindows(report.Windows),
	}
	if report.TeamSize > 0 {
		resp.Summary = worker.Summary(report.TeamSize, report.Windows)
	}
	for _, row := range report.Matrix.Rows {
		for i, res := range row.Results {
			resp.Cells = append(resp.Cells, cellJSON{
				Lodge:   row.LodgeName,
				Date:    report.Matrix.Dates[i].Format(time.DateOnly),
				Status:  res.Status.String(),
				Summary: res.Line(),
			})
		}
	}
	jsonResponse(w, resp)
}
