package main

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

const (
	cotVersion   = "2.0"
	cotType      = "a-f-G-E-V-C-M" // friendly ground civilian vehicle, SIDC SFGPEVCMH---
	cotHow       = "m-g"
	cotUIDPrefix = "nysse-"
	cotTimeFmt   = "2006-01-02T15:04:05.000000Z"

	pointHAE = 0
	pointCE  = 10
	pointLE  = 10
)

var worldBound = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// CotEvent is a single Cursor-on-Target event describing one vehicle.
type CotEvent struct {
	UID   string
	Type  string
	How   string
	Time  time.Time
	Start time.Time
	Stale time.Time

	Lat, Lon      float64
	HAE, CE, LE   float64
	Course, Speed float64

	Callsign string
	Remarks  string
}

// CotUID returns the stable event uid for a vehicle.
func CotUID(vehicleID string) string { return cotUIDPrefix + vehicleID }

// MapVehicle converts a vehicle record into a CoT event stamped at now and
// considered stale after staleAfter.
func MapVehicle(rec VehicleRecord, now time.Time, staleAfter time.Duration) (*CotEvent, error) {
	if rec.VehicleID == "" {
		return nil, &MappingError{Reason: "missing vehicle id"}
	}
	if !rec.Located {
		return nil, &MappingError{VehicleID: rec.VehicleID, Reason: "missing position"}
	}
	p := orb.Point{rec.Longitude, rec.Latitude}
	if math.IsNaN(p.Lat()) || math.IsNaN(p.Lon()) || !worldBound.Contains(p) {
		return nil, &MappingError{
			VehicleID: rec.VehicleID,
			Reason:    fmt.Sprintf("position %v,%v out of range", rec.Latitude, rec.Longitude),
		}
	}
	now = now.UTC()
	return &CotEvent{
		UID:      CotUID(rec.VehicleID),
		Type:     cotType,
		How:      cotHow,
		Time:     now,
		Start:    now,
		Stale:    now.Add(staleAfter),
		Lat:      p.Lat(),
		Lon:      p.Lon(),
		HAE:      pointHAE,
		CE:       pointCE,
		LE:       pointLE,
		Course:   finiteOrZero(rec.Heading),
		Speed:    finiteOrZero(rec.Speed),
		Callsign: fmt.Sprintf("Nysse %s (%s)", rec.VehicleID, rec.Line),
		Remarks:  remarks(rec),
	}, nil
}

func remarks(rec VehicleRecord) string {
	dest, next := orUnknown(rec.Destination), orUnknown(rec.NextStop)
	at := rec.NextStopTime
	if at == "" {
		at = "--:--"
	}
	return fmt.Sprintf("%s %s\nNext stop: %s %s %s\n", dest.City, dest.Name, next.City, next.Name, at)
}

func orUnknown(s StopInfo) StopInfo {
	if s.Name == "" {
		s.Name = unknownStop.Name
	}
	if s.City == "" {
		s.City = unknownStop.City
	}
	return s
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

type cotEventXML struct {
	XMLName xml.Name     `xml:"event"`
	Version string       `xml:"version,attr"`
	Type    string       `xml:"type,attr"`
	UID     string       `xml:"uid,attr"`
	How     string       `xml:"how,attr"`
	Time    string       `xml:"time,attr"`
	Start   string       `xml:"start,attr"`
	Stale   string       `xml:"stale,attr"`
	Point   cotPointXML  `xml:"point"`
	Detail  cotDetailXML `xml:"detail"`
}

type cotPointXML struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
	HAE string `xml:"hae,attr"`
	CE  string `xml:"ce,attr"`
	LE  string `xml:"le,attr"`
}

type cotDetailXML struct {
	Track struct {
		Course string `xml:"course,attr"`
		Speed  string `xml:"speed,attr"`
	} `xml:"track"`
	Contact struct {
		Callsign string `xml:"callsign,attr"`
	} `xml:"contact"`
	Remarks string `xml:"remarks"`
}

// Encode renders the event as CoT XML without an XML declaration.
func (e *CotEvent) Encode() ([]byte, error) {
	w := cotEventXML{
		Version: cotVersion,
		Type:    e.Type,
		UID:     e.UID,
		How:     e.How,
		Time:    e.Time.UTC().Format(cotTimeFmt),
		Start:   e.Start.UTC().Format(cotTimeFmt),
		Stale:   e.Stale.UTC().Format(cotTimeFmt),
		Point: cotPointXML{
			Lat: formatFloat(e.Lat),
			Lon: formatFloat(e.Lon),
			HAE: formatFloat(e.HAE),
			CE:  formatFloat(e.CE),
			LE:  formatFloat(e.LE),
		},
	}
	w.Detail.Track.Course = formatFloat(e.Course)
	w.Detail.Track.Speed = formatFloat(e.Speed)
	w.Detail.Contact.Callsign = e.Callsign
	w.Detail.Remarks = e.Remarks
	return xml.Marshal(w)
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
