package main

import "time"

// VehicleRecord is one vehicle as reported by the upstream feed in a single poll.
type VehicleRecord struct {
	Line       string    `json:"line"`
	VehicleID  string    `json:"vehicleId"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	Located    bool      `json:"-"`
	Heading    float64   `json:"heading"`
	Speed      float64   `json:"speed"` // m/s
	ObservedAt time.Time `json:"observedAt"`

	DestinationRef string   `json:"-"`
	NextStopRef    string   `json:"-"`
	NextStopTime   string   `json:"nextStopTime,omitempty"` // HH:MM
	Destination    StopInfo `json:"destination"`
	NextStop       StopInfo `json:"nextStop"`
}

// StopInfo names a stop point and its municipality.
type StopInfo struct {
	Name string `json:"name"`
	City string `json:"city"`
}

var unknownStop = StopInfo{Name: "Unknown", City: "Unknown"}
