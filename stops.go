package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leesper/holmes"
)

// StopLookup resolves a stop reference to its name and municipality.
type StopLookup interface {
	Lookup(ctx context.Context, ref string) StopInfo
}

// StopDirectory looks stops up in the journeys API stop-points endpoint.
// Successful lookups are kept for the lifetime of the directory; failures
// are retried on the next request.
type StopDirectory struct {
	baseURL    string
	httpClient *http.Client
	cache      map[string]StopInfo
}

func NewStopDirectory(baseURL string, timeout time.Duration) *StopDirectory {
	return &StopDirectory{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      make(map[string]StopInfo),
	}
}

type stopPointsResponse struct {
	Body []struct {
		Name         string `json:"name"`
		Municipality struct {
			Name string `json:"name"`
		} `json:"municipality"`
	} `json:"body"`
}

// Lookup never fails: unresolvable stops come back as Unknown.
func (d *StopDirectory) Lookup(ctx context.Context, ref string) StopInfo {
	if ref == "" {
		return unknownStop
	}
	if info, ok := d.cache[ref]; ok {
		return info
	}
	if ctx.Err() != nil {
		return unknownStop
	}
	info, err := d.fetch(ctx, ref)
	if err != nil {
		holmes.Errorf("stop lookup %s: %v", ref, err)
		return unknownStop
	}
	d.cache[ref] = info
	return info
}

func (d *StopDirectory) fetch(ctx context.Context, ref string) (StopInfo, error) {
	u := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		u = d.baseURL + "/stop-points/" + url.PathEscape(ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return StopInfo{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return StopInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StopInfo{}, fmt.Errorf("stop-points http status: %d", resp.StatusCode)
	}
	var sp stopPointsResponse
	if err := json.NewDecoder(resp.Body).Decode(&sp); err != nil {
		return StopInfo{}, err
	}
	if len(sp.Body) == 0 {
		return StopInfo{}, fmt.Errorf("no stop point %q", ref)
	}
	return orUnknown(StopInfo{Name: sp.Body[0].Name, City: sp.Body[0].Municipality.Name}), nil
}
