// Package anomaly maintains rolling statistical baselines of agent behavior
// and flags deviations. It is an advisory backstop: signals can force an
// escalation or cost trust points, but they are never the sole mechanism
// preventing a constraint violation.
package anomaly

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// SignalType classifies what deviated from baseline.
type SignalType string

const (
	// TypeVolumeSpike means request volume in the current bucket exceeds the
	// baseline by more than the configured deviation.
	TypeVolumeSpike SignalType = "volume_spike"
	// TypeNovelAction means the agent attempted an action type never seen in
	// its history.
	TypeNovelAction SignalType = "novel_action"
	// TypeResourceSpread means the agent is touching far more distinct
	// resources than its baseline.
	TypeResourceSpread SignalType = "resource_spread"
	// TypeOddHours means activity at an hour of day with no prior history.
	TypeOddHours SignalType = "odd_hours"
)

// Signal is one detected deviation. Severity is in (0, 1].
type Signal struct {
	AgentID    string     `json:"agent_id"`
	Type       SignalType `json:"type"`
	Severity   float64    `json:"severity"`
	Evidence   string     `json:"evidence"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Config tunes the detector.
type Config struct {
	// Window is the span of behavioral history retained per agent.
	Window time.Duration

	// Deviation is the number of standard deviations beyond which volume and
	// resource-spread baselines flag.
	Deviation float64
}

// Baseline shape parameters.
const (
	numBuckets = 24

	// minBucketHistory is the number of completed buckets required before
	// volume and spread baselines are considered meaningful.
	minBucketHistory = 6

	// minObservations is the total history required before novel-action and
	// odd-hours checks fire; a brand-new agent does everything for the first
	// time.
	minObservations = 20

	// minSpikeVolume keeps a tiny absolute count from flagging just because
	// the baseline variance is near zero.
	minSpikeVolume = 5
)

// profile is one agent's rolling baseline.
type profile struct {
	counts    [numBuckets]int
	resources [numBuckets]map[string]struct{}
	hours     [24]int
	actions   map[string]struct{}

	cursor      int
	bucketStart time.Time
	filled      int
	total       int
}

// Detector tracks per-agent baselines in memory. State is a cache, not a
// record: restarts re-learn baselines, which only widens the advisory net
// temporarily.
type Detector struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	profiles map[string]*profile
}

// NewDetector creates a Detector.
func NewDetector(cfg Config) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Deviation <= 0 {
		cfg.Deviation = 3
	}
	return &Detector{
		cfg:      cfg,
		now:      time.Now,
		profiles: make(map[string]*profile),
	}
}

// bucketDuration is the span of one ring bucket.
func (d *Detector) bucketDuration() time.Duration {
	return d.cfg.Window / numBuckets
}

// Observe records one request against the agent's baseline and returns any
// signals it triggers. Checks run against the baseline as it was before this
// observation, so an agent cannot normalize a deviation in the same request
// that commits it.
func (d *Detector) Observe(agentID, action, resource string) []Signal {
	now := d.now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[agentID]
	if !ok {
		p = &profile{
			actions:     make(map[string]struct{}),
			bucketStart: now,
		}
		for i := range p.resources {
			p.resources[i] = make(map[string]struct{})
		}
		d.profiles[agentID] = p
	}
	d.advance(p, now)

	signals := d.check(agentID, p, action, resource, now)

	p.counts[p.cursor]++
	p.resources[p.cursor][resource] = struct{}{}
	p.hours[now.Hour()]++
	p.actions[action] = struct{}{}
	p.total++

	return signals
}

// advance rotates the ring so the cursor bucket covers now, zeroing any
// buckets skipped during idle periods.
func (d *Detector) advance(p *profile, now time.Time) {
	dur := d.bucketDuration()
	for !now.Before(p.bucketStart.Add(dur)) {
		p.cursor = (p.cursor + 1) % numBuckets
		p.counts[p.cursor] = 0
		p.resources[p.cursor] = make(map[string]struct{})
		p.bucketStart = p.bucketStart.Add(dur)
		if p.filled < numBuckets-1 {
			p.filled++
		}
	}
}

func (d *Detector) check(agentID string, p *profile, action, resource string, now time.Time) []Signal {
	var signals []Signal
	add := func(t SignalType, severity float64, evidence string) {
		if severity > 1 {
			severity = 1
		}
		signals = append(signals, Signal{
			AgentID:    agentID,
			Type:       t,
			Severity:   severity,
			Evidence:   evidence,
			ObservedAt: now,
		})
	}

	if p.total >= minObservations {
		if _, seen := p.actions[action]; !seen {
			add(TypeNovelAction, 0.75,
				fmt.Sprintf("action %q never seen in %d prior requests", action, p.total))
		}
		if p.hours[now.Hour()] == 0 {
			add(TypeOddHours, 0.5,
				fmt.Sprintf("no prior activity at hour %02d UTC", now.Hour()))
		}
	}

	if p.filled >= minBucketHistory {
		if mean, std := bucketStats(p, func(i int) float64 { return float64(p.counts[i]) }); std >= 0 {
			current := float64(p.counts[p.cursor] + 1)
			if z := zScore(current, mean, std); z > d.cfg.Deviation && current >= minSpikeVolume {
				add(TypeVolumeSpike, z/(2*d.cfg.Deviation),
					fmt.Sprintf("bucket volume %.0f vs baseline %.1f±%.1f", current, mean, std))
			}
		}
		if mean, std := bucketStats(p, func(i int) float64 { return float64(len(p.resources[i])) }); std >= 0 {
			current := float64(len(p.resources[p.cursor]))
			if _, seen := p.resources[p.cursor][resource]; !seen {
				current++
			}
			if z := zScore(current, mean, std); z > d.cfg.Deviation {
				add(TypeResourceSpread, z/(2*d.cfg.Deviation),
					fmt.Sprintf("distinct resources %.0f vs baseline %.1f±%.1f", current, mean, std))
			}
		}
	}

	return signals
}

// bucketStats computes mean and standard deviation over completed buckets,
// excluding the cursor bucket.
func bucketStats(p *profile, value func(i int) float64) (mean, std float64) {
	n := 0
	sum := 0.0
	for i := 0; i < numBuckets; i++ {
		if i == p.cursor || !inHistory(p, i) {
			continue
		}
		sum += value(i)
		n++
	}
	if n == 0 {
		return 0, -1
	}
	mean = sum / float64(n)

	varSum := 0.0
	for i := 0; i < numBuckets; i++ {
		if i == p.cursor || !inHistory(p, i) {
			continue
		}
		dev := value(i) - mean
		varSum += dev * dev
	}
	return mean, math.Sqrt(varSum / float64(n))
}

// inHistory reports whether bucket i has been part of the window yet.
func inHistory(p *profile, i int) bool {
	if p.filled >= numBuckets-1 {
		return true
	}
	// Buckets are filled walking forward from zero; only those at or behind
	// the cursor within the filled span carry data.
	dist := (p.cursor - i + numBuckets) % numBuckets
	return dist > 0 && dist <= p.filled
}

// zScore with a variance floor so a flat baseline still flags a genuine
// spike instead of dividing by zero.
func zScore(value, mean, std float64) float64 {
	if std < 1 {
		std = 1
	}
	return (value - mean) / std
}

// MaxSeverity returns the highest severity across signals, zero when empty.
func MaxSeverity(signals []Signal) float64 {
	max := 0.0
	for _, s := range signals {
		if s.Severity > max {
			max = s.Severity
		}
	}
	return max
}
