package proc

import "time"

type Options struct {
	MaxConcurrency    int
	IdleTimeout       time.Duration
	AutoplayTarget    int
	ImportDelay       time.Duration
	ImportTick        time.Duration
	FallbackTimeout   time.Duration
	MaxFailures       int
	NearDuplicate     float64
	MinOverlap        float64
	DurationTolerance time.Duration
	HistorySize       int
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrency:    4,
		IdleTimeout:       5 * time.Minute,
		AutoplayTarget:    2,
		ImportDelay:       40 * time.Second,
		ImportTick:        time.Second,
		FallbackTimeout:   5 * time.Second,
		MaxFailures:       3,
		NearDuplicate:     0.75,
		MinOverlap:        0.2,
		DurationTolerance: 30 * time.Second,
		HistorySize:       50,
	}
}

// withDefaults fills zero fields so partially populated Options stay usable.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = d.MaxConcurrency
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.AutoplayTarget <= 0 {
		o.AutoplayTarget = d.AutoplayTarget
	}
	if o.ImportDelay < 0 {
		o.ImportDelay = d.ImportDelay
	}
	if o.ImportTick <= 0 {
		o.ImportTick = d.ImportTick
	}
	if o.FallbackTimeout <= 0 {
		o.FallbackTimeout = d.FallbackTimeout
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = d.MaxFailures
	}
	if o.NearDuplicate <= 0 {
		o.NearDuplicate = d.NearDuplicate
	}
	if o.MinOverlap <= 0 {
		o.MinOverlap = d.MinOverlap
	}
	if o.DurationTolerance <= 0 {
		o.DurationTolerance = d.DurationTolerance
	}
	if o.HistorySize <= 0 {
		o.HistorySize = d.HistorySize
	}
	return o
}
