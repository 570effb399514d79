package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leesper/holmes"
)

const userAgent = "tak-feeder-nysse/0.1.0"

// JourneysVehicleFeedSource reads the ITS Factory journeys API
// vehicle-activity endpoint that serves the Nysse network.
type JourneysVehicleFeedSource struct {
	baseURL    string
	lineRef    string
	httpClient *http.Client
	now        func() time.Time
}

func NewJourneysVehicleFeedSource(baseURL string, filter LineFilter, timeout time.Duration) *JourneysVehicleFeedSource {
	return &JourneysVehicleFeedSource{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		lineRef:    filter.String(),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type journeysResponse struct {
	Status string             `json:"status"`
	Body   *[]json.RawMessage `json:"body"`
}

type vehicleActivity struct {
	RecordedAtTime          string                   `json:"recordedAtTime"`
	MonitoredVehicleJourney *monitoredVehicleJourney `json:"monitoredVehicleJourney"`
}

type monitoredVehicleJourney struct {
	LineRef              string     `json:"lineRef"`
	VehicleRef           string     `json:"vehicleRef"`
	DestinationShortName string     `json:"destinationShortName"`
	Bearing              flexFloat  `json:"bearing"`
	Speed                flexFloat  `json:"speed"` // km/h
	VehicleLocation      *location  `json:"vehicleLocation"`
	OnwardCalls          []stopCall `json:"onwardCalls"`
}

type location struct {
	Latitude  flexFloat `json:"latitude"`
	Longitude flexFloat `json:"longitude"`
}

type stopCall struct {
	StopPointRef          string `json:"stopPointRef"`
	ExpectedDepartureTime string `json:"expectedDepartureTime"`
}

// flexFloat accepts both JSON numbers and numeric strings; the journeys API
// serializes most numbers as strings.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = flexFloat{}
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

func (s *JourneysVehicleFeedSource) activityURL() string {
	q := url.Values{}
	q.Set("exclude-fields", "recordedAtTime")
	if s.lineRef != "" {
		q.Set("lineRef", s.lineRef)
	}
	return s.baseURL + "/vehicle-activity?" + q.Encode()
}

func (s *JourneysVehicleFeedSource) Fetch(ctx context.Context) ([]VehicleRecord, error) {
	u := s.activityURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &NetworkError{URL: u, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: u, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{URL: u, Err: fmt.Errorf("journeys http status: %d", resp.StatusCode)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: u, Err: err}
	}
	return parseVehicleActivity(b, s.now())
}

// parseVehicleActivity decodes a vehicle-activity payload. Entries are
// decoded one at a time so a malformed journey is logged and skipped without
// losing the rest of the payload. Journeys without a vehicle or line
// reference are skipped; journeys without coordinates are returned unlocated.
func parseVehicleActivity(b []byte, fetchedAt time.Time) ([]VehicleRecord, error) {
	var root journeysResponse
	if err := json.Unmarshal(b, &root); err != nil {
		return nil, &ParseError{Source: "vehicle-activity", Err: err}
	}
	if root.Body == nil {
		return nil, &ParseError{Source: "vehicle-activity", Err: fmt.Errorf("missing body array (status %q)", root.Status)}
	}
	vehicles := make([]VehicleRecord, 0, len(*root.Body))
	for i, raw := range *root.Body {
		var va vehicleActivity
		if err := json.Unmarshal(raw, &va); err != nil {
			holmes.Errorf("skipping vehicle-activity entry %d: %v", i, err)
			continue
		}
		mvj := va.MonitoredVehicleJourney
		if mvj == nil || mvj.VehicleRef == "" || mvj.LineRef == "" {
			continue
		}
		v := VehicleRecord{
			Line:           mvj.LineRef,
			VehicleID:      mvj.VehicleRef,
			Heading:        mvj.Bearing.Value,
			Speed:          mvj.Speed.Value / 3.6,
			ObservedAt:     fetchedAt,
			DestinationRef: mvj.DestinationShortName,
		}
		if t, err := time.Parse(time.RFC3339, va.RecordedAtTime); err == nil {
			v.ObservedAt = t
		}
		if loc := mvj.VehicleLocation; loc != nil && loc.Latitude.Valid && loc.Longitude.Valid {
			v.Latitude, v.Longitude, v.Located = loc.Latitude.Value, loc.Longitude.Value, true
		}
		if len(mvj.OnwardCalls) > 0 {
			next := mvj.OnwardCalls[0]
			v.NextStopRef = next.StopPointRef
			v.NextStopTime = clockTime(next.ExpectedDepartureTime)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, nil
}

// clockTime extracts HH:MM from an ISO timestamp, keeping the local offset
// the API reports it in.
func clockTime(ts string) string {
	i := strings.IndexByte(ts, 'T')
	if i < 0 || len(ts) < i+6 {
		return ""
	}
	return ts[i+1 : i+6]
}
