package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// VehicleFeedSource produces the vehicles active upstream at call time.
// Implementations return *NetworkError for transport or status failures
// and *ParseError for payloads they cannot decode.
type VehicleFeedSource interface {
	Fetch(ctx context.Context) ([]VehicleRecord, error)
}

// GtfsRtVehicleFeedSource reads a GTFS-Realtime VehiclePositions feed.
type GtfsRtVehicleFeedSource struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

func NewGtfsRtVehicleFeedSource(url string, timeout time.Duration) *GtfsRtVehicleFeedSource {
	return &GtfsRtVehicleFeedSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func (s *GtfsRtVehicleFeedSource) Fetch(ctx context.Context) ([]VehicleRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &NetworkError{URL: s.url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{URL: s.url, Err: fmt.Errorf("gtfs-rt http status: %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: s.url, Err: err}
	}
	return parseVehiclePositions(body, s.now())
}

func parseVehiclePositions(body []byte, fetchedAt time.Time) ([]VehicleRecord, error) {
	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, &ParseError{Source: "gtfs-rt", Err: err}
	}
	vehicles := make([]VehicleRecord, 0, len(feed.Entity))
	for _, ent := range feed.Entity {
		if ent == nil || ent.Vehicle == nil {
			continue
		}
		vp := ent.Vehicle
		id := vp.GetVehicle().GetId()
		if id == "" {
			id = vp.GetVehicle().GetLabel()
		}
		line := vp.GetTrip().GetRouteId()
		if id == "" || line == "" {
			continue
		}
		v := VehicleRecord{
			Line:       line,
			VehicleID:  id,
			ObservedAt: fetchedAt,
		}
		if ts := vp.GetTimestamp(); ts > 0 {
			v.ObservedAt = time.Unix(int64(ts), 0)
		}
		if pos := vp.Position; pos != nil && pos.Latitude != nil && pos.Longitude != nil {
			v.Latitude = float64(pos.GetLatitude())
			v.Longitude = float64(pos.GetLongitude())
			v.Located = true
			v.Heading = float64(pos.GetBearing())
			v.Speed = float64(pos.GetSpeed())
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, nil
}
