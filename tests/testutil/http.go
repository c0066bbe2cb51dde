package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// SourceServer is a fake loan-origination API serving the window query and
// the single deal lookup from in-memory documents.
//
// Deals are filtered into a window by the date part of their createdDate.
type SourceServer struct {
	*httptest.Server

	mu        sync.Mutex
	deals     map[string][]Doc // api key -> deals
	failYears map[string]map[int]int
	pageSize  int
	requests  []*http.Request
}

// NewSourceServer starts a fake source; it is closed when the test ends.
func NewSourceServer(t testing.TB) *SourceServer {
	t.Helper()
	s := &SourceServer{
		deals:     make(map[string][]Doc),
		failYears: make(map[string]map[int]int),
		pageSize:  2,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/deals", s.handleWindow)
	mux.HandleFunc("/v1/deal", s.handleLookup)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetPageSize sets how many deals each page carries
func (s *SourceServer) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// AddDeals registers deals under an api key
func (s *SourceServer) AddDeals(apiKey string, deals ...Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[apiKey] = append(s.deals[apiKey], deals...)
}

// ReplaceDeals replaces every deal under an api key
func (s *SourceServer) ReplaceDeals(apiKey string, deals ...Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[apiKey] = deals
}

// FailYear makes window queries starting in year answer with status
func (s *SourceServer) FailYear(apiKey string, year, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failYears[apiKey] == nil {
		s.failYears[apiKey] = make(map[int]int)
	}
	s.failYears[apiKey][year] = status
}

// Requests returns a copy of every request received so far
func (s *SourceServer) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

func (s *SourceServer) handleWindow(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)

	q := r.URL.Query()
	apiKey := q.Get("apikey")
	start, err1 := time.Parse("2006-01-02", q.Get("startdate"))
	end, err2 := time.Parse("2006-01-02", q.Get("enddate"))
	if err1 != nil || err2 != nil || q.Get("datetype") != "1" {
		http.Error(w, "bad window", http.StatusBadRequest)
		return
	}
	if end.Sub(start) > 366*24*time.Hour {
		http.Error(w, "window exceeds 12 months", http.StatusBadRequest)
		return
	}
	if status, ok := s.failYears[apiKey][start.Year()]; ok {
		http.Error(w, "upstream failure", status)
		return
	}

	var matched []Doc
	for _, d := range s.deals[apiKey] {
		created, _ := d["createdDate"].(string)
		if len(created) < 10 {
			continue
		}
		day, err := time.Parse("2006-01-02", created[:10])
		if err != nil || day.Before(start) || day.After(end) {
			continue
		}
		matched = append(matched, d)
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	totalPages := (len(matched) + s.pageSize - 1) / s.pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	from := (page - 1) * s.pageSize
	if from > len(matched) {
		from = len(matched)
	}
	to := from + s.pageSize
	if to > len(matched) {
		to = len(matched)
	}

	writeJSON(w, http.StatusOK, Doc{
		"pageNumber": page,
		"totalPages": totalPages,
		"totalDeals": len(matched),
		"deals":      matched[from:to],
	})
}

func (s *SourceServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)

	q := r.URL.Query()
	for _, d := range s.deals[q.Get("apikey")] {
		if d["loanCode"] == q.Get("loancode") {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
