package calendar

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

// BusyFile is the YAML layout understood by StaticProvider:
//
//	busy:
//	  alice@example.com:
//	    - start: 2024-03-04T10:00:00+09:00
//	      end:   2024-03-04T11:00:00+09:00
type BusyFile struct {
	Busy map[string][]struct {
		Start time.Time `yaml:"start"`
		End   time.Time `yaml:"end"`
	} `yaml:"busy"`
}

// StaticProvider answers free/busy lookups from a fixed in-memory table.
type StaticProvider struct {
	busy map[string][]scheduler.Interval
}

// NewStaticProvider wraps an existing table.
func NewStaticProvider(busy map[string][]scheduler.Interval) *StaticProvider {
	if busy == nil {
		busy = map[string][]scheduler.Interval{}
	}
	return &StaticProvider{busy: busy}
}

// LoadStaticProvider decodes a BusyFile document.
func LoadStaticProvider(r io.Reader) (*StaticProvider, error) {
	var doc BusyFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("calendar: decode busy file: %w", err)
	}
	busy := make(map[string][]scheduler.Interval, len(doc.Busy))
	for key, entries := range doc.Busy {
		for i, e := range entries {
			if !e.Start.Before(e.End) {
				return nil, fmt.Errorf("calendar: busy entry %d for %s has start >= end", i, key)
			}
			busy[key] = append(busy[key], scheduler.Interval{Start: e.Start, End: e.End})
		}
	}
	return NewStaticProvider(busy), nil
}

// LoadStaticProviderFile reads a BusyFile from disk.
func LoadStaticProviderFile(path string) (*StaticProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: open busy file: %w", err)
	}
	defer f.Close()
	return LoadStaticProvider(f)
}

// FreeBusy returns the intervals of each requested key that intersect the window.
func (s *StaticProvider) FreeBusy(ctx context.Context, contactKeys []string, start, end time.Time) (map[string][]scheduler.Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	window := scheduler.Interval{Start: start, End: end}
	result := make(map[string][]scheduler.Interval, len(contactKeys))
	for _, key := range contactKeys {
		for _, b := range s.busy[key] {
			if window.Overlaps(b) {
				result[key] = append(result[key], b)
			}
		}
	}
	return result, nil
}
