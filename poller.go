package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/leesper/holmes"
)

const (
	fetchTimeout = 10 * time.Second
	// stopLookupBudget bounds all stop lookups of one cycle together.
	stopLookupBudget = 10 * time.Second
)

// poller runs one fetch, filter, map and send cycle per interval. Cycles
// never overlap: a slow cycle delays the next one.

type poller struct {
	feed       VehicleFeedSource
	filter     LineFilter
	stops      StopLookup // nil when the feed carries no stop references
	stopBudget time.Duration
	sender     *Sender
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time

	mu           sync.Mutex
	lastVehicles []VehicleRecord
	lastReport   cycleReport
	cycles       int
}

// cycleReport summarizes one tick.
type cycleReport struct {
	At      time.Time
	Fetched int
	Matched int
	Sent    int
	Dropped int
	Err     error
}

func newPoller(feed VehicleFeedSource, sender *Sender, cfg *Config) *poller {
	return &poller{
		feed:       feed,
		filter:     LineFilter(cfg.LineFilter),
		stopBudget: stopLookupBudget,
		sender:     sender,
		interval:   cfg.Interval(),
		staleAfter: cfg.StaleAfter(),
		now:        time.Now,
	}
}

func (p *poller) run(ctx context.Context) {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			start := time.Now()
			p.tick(ctx)
			t.Reset(maxDuration(p.interval-time.Since(start), 0))
		}
	}
}

func (p *poller) tick(ctx context.Context) cycleReport {
	rep := cycleReport{At: p.now()}
	p.sender.BeginCycle()

	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	vehicles, err := p.feed.Fetch(fctx)
	cancel()
	if err != nil {
		holmes.Errorf("poll error: %v", err)
		rep.Err = err
		p.record(rep, nil)
		return rep
	}
	rep.Fetched = len(vehicles)

	matched := FilterVehicles(vehicles, p.filter)
	rep.Matched = len(matched)
	now := p.now()
	// Once the budget is spent the remaining vehicles go out with unknown
	// stops rather than holding the cycle back.
	lctx, cancelLookups := context.WithTimeout(ctx, p.stopBudget)
	defer cancelLookups()
	for i := range matched {
		v := &matched[i]
		if p.stops != nil && v.Located {
			v.Destination = p.stops.Lookup(lctx, v.DestinationRef)
			v.NextStop = p.stops.Lookup(lctx, v.NextStopRef)
		}
		ev, err := MapVehicle(*v, now, p.staleAfter)
		if err != nil {
			holmes.Debugf("skipping vehicle: %v", err)
			rep.Dropped++
			continue
		}
		if err := p.sender.Send(ctx, ev); err != nil {
			if !errors.Is(err, errSinkFailed) {
				holmes.Errorf("send %s: %v", ev.UID, err)
			}
			if rep.Err == nil {
				rep.Err = err
			}
			rep.Dropped++
			continue
		}
		holmes.Debugf("sent CoT for vehicle %s", v.VehicleID)
		rep.Sent++
	}
	holmes.Infof("cycle: fetched %d, matched %d, sent %d, dropped %d", rep.Fetched, rep.Matched, rep.Sent, rep.Dropped)
	p.record(rep, matched)
	return rep
}

func (p *poller) record(rep cycleReport, vehicles []VehicleRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cycles++
	p.lastReport = rep
	if vehicles != nil {
		p.lastVehicles = vehicles
	}
}

// snapshot returns a copy of the vehicles matched by the last successful
// fetch and the report of the most recent cycle.
func (p *poller) snapshot() ([]VehicleRecord, cycleReport, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]VehicleRecord, len(p.lastVehicles))
	copy(out, p.lastVehicles)
	return out, p.lastReport, p.cycles
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
