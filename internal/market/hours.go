// Package market provides the trading-hours gate for the equities pipeline.
package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds the trading-hours definition.
type Config struct {
	// Timezone is the exchange timezone, e.g. "America/New_York".
	Timezone string `yaml:"timezone" env:"MARKET_TIMEZONE"`
	// Open and Close are local wall-clock times in HH:MM.
	Open  string `yaml:"open" env:"MARKET_OPEN"`
	Close string `yaml:"close" env:"MARKET_CLOSE"`
}

// Default NYSE session.
const (
	DefaultTimezone = "America/New_York"
	DefaultOpen     = "09:30"
	DefaultClose    = "16:00"
)

const minutesPerHour = 60

// Hours answers whether a given instant falls inside the trading session:
// Monday through Friday, between the open (inclusive) and close (exclusive)
// wall-clock minutes in the exchange timezone. There is no holiday calendar;
// a holiday tick fetches quotes that simply have not moved.
type Hours struct {
	loc       *time.Location
	openMins  int
	closeMins int
}

// NewHours builds the gate from config, applying the NYSE defaults for any
// unset field.
func NewHours(cfg Config) (*Hours, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load market timezone %q: %w", tz, err)
	}

	open, err := parseClock(cfg.Open, DefaultOpen)
	if err != nil {
		return nil, fmt.Errorf("market open: %w", err)
	}
	closeMins, err := parseClock(cfg.Close, DefaultClose)
	if err != nil {
		return nil, fmt.Errorf("market close: %w", err)
	}
	if open >= closeMins {
		return nil, fmt.Errorf("market open %q is not before close %q", cfg.Open, cfg.Close)
	}

	return &Hours{loc: loc, openMins: open, closeMins: closeMins}, nil
}

// Open reports whether t is inside the trading session.
func (h *Hours) Open(t time.Time) bool {
	local := t.In(h.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	mins := local.Hour()*minutesPerHour + local.Minute()
	return mins >= h.openMins && mins < h.closeMins
}

func parseClock(s, fallback string) (int, error) {
	if s == "" {
		s = fallback
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*minutesPerHour + minute, nil
}
