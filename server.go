package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/leesper/holmes"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Cycles    int       `json:"cycles"`
	LastCycle time.Time `json:"lastCycle,omitzero"`
	Fetched   int       `json:"fetched"`
	Sent      int       `json:"sent"`
	Dropped   int       `json:"dropped"`
	Error     string    `json:"error,omitempty"`
	Transport string    `json:"transport"`
}

func newRouter(p *poller) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", func(w http.ResponseWriter, req *http.Request) {
		_, rep, cycles := p.snapshot()
		resp := healthResponse{
			Status:    "ok",
			Cycles:    cycles,
			LastCycle: rep.At,
			Fetched:   rep.Fetched,
			Sent:      rep.Sent,
			Dropped:   rep.Dropped,
			Transport: p.sender.State().String(),
		}
		code := http.StatusOK
		switch {
		case cycles == 0:
			resp.Status = "starting"
		case rep.Err != nil:
			resp.Status = "degraded"
			resp.Error = rep.Err.Error()
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/vehicles", func(w http.ResponseWriter, req *http.Request) {
		vehicles, _, _ := p.snapshot()
		writeJSON(w, http.StatusOK, vehicles)
	}).Methods(http.MethodGet)

	r.Use(withLogging)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func withLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		holmes.Debugf("%s %s", r.Method, r.URL.Path)
		h.ServeHTTP(w, r)
	})
}
