// Package healthscore computes the hourly per-miner composite health
// snapshot from the last 24 hours of telemetry: data-coverage uptime,
// per-family temperature curves, hashrate stability (coefficient of
// variation), and share reject rate, combined into a weighted 0-100
// overall score. Families without temperature sensors (CPU miners) are
// scored on the remaining three signals with redistributed weights rather
// than penalised for the missing one.
package healthscore

import (
	"math"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// Store is the subset of *db.Store the recorder needs.
type Store interface {
	EnabledMiners(family *mf.Family) ([]mf.Miner, error)
	TelemetrySince(minerID uint, since time.Time) ([]mf.Telemetry, error)
	RecordHealthScore(row mf.HealthScore) error
}

// window is how much telemetry history one score is computed over.
const window = 24 * time.Hour

// expectedPointsPerHour matches the 60-second telemetry collection cadence.
const expectedPointsPerHour = 60

// Recorder computes and persists one HealthScore row per enabled miner.
type Recorder struct {
	store Store
}

// New builds a Recorder.
func New(store Store) *Recorder {
	return &Recorder{store: store}
}

// Tick scores every enabled miner with telemetry in the window. Miners with
// no rows at all are skipped: there is nothing to score.
func (r *Recorder) Tick(now time.Time) ([]mf.HealthScore, error) {
	miners, err := r.store.EnabledMiners(nil)
	if err != nil {
		return nil, err
	}
	rows := make([]mf.HealthScore, 0, len(miners))
	for _, m := range miners {
		telemetry, err := r.store.TelemetrySince(m.ID, now.Add(-window))
		if err != nil || len(telemetry) == 0 {
			continue
		}
		row := scoreOne(m, telemetry, now)
		if err := r.store.RecordHealthScore(row); err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func scoreOne(m mf.Miner, telemetry []mf.Telemetry, now time.Time) mf.HealthScore {
	uptime := uptimeScore(telemetry, window)
	hashrate := hashrateScore(telemetry)
	reject := rejectRateScore(telemetry)
	temperature, hasTemp := temperatureScore(telemetry, m.Family)

	var overall float64
	sub := mf.JSONMap{
		"uptime":      round2(uptime),
		"hashrate":    round2(hashrate),
		"reject_rate": round2(reject),
		"data_points": len(telemetry),
	}
	if hasTemp {
		overall = uptime*0.3 + temperature*0.25 + hashrate*0.25 + reject*0.2
		sub["temperature"] = round2(temperature)
	} else {
		// No temperature sensor: redistribute its weight across the
		// remaining signals instead of scoring the miner down.
		overall = uptime*0.4 + hashrate*0.35 + reject*0.25
	}

	return mf.HealthScore{
		MinerID:      m.ID,
		Timestamp:    now,
		OverallScore: int(math.Round(overall)),
		SubScores:    sub,
	}
}

// uptimeScore measures data coverage over the window, penalising gaps
// (offline periods) between consecutive rows.
func uptimeScore(telemetry []mf.Telemetry, window time.Duration) float64 {
	expected := window.Hours() * expectedPointsPerHour
	coverage := math.Min(float64(len(telemetry))/expected, 1.0) * 100

	gaps := 0
	for i := 1; i < len(telemetry); i++ {
		if telemetry[i].Timestamp.Sub(telemetry[i-1].Timestamp) > 2*time.Minute {
			gaps++
		}
	}
	gapPenalty := math.Min(float64(gaps)*2, 30)

	return math.Max(coverage-gapPenalty, 0)
}

// tempSegment scores average temperatures in [prev bound, UpTo) as
// Base - (avg - prev bound) * Slope.
type tempSegment struct {
	upTo  float64
	base  float64
	slope float64
}

// tempCurve is one family's average-temperature scoring curve: below
// optimal the score is 100, then it falls through each segment in turn,
// bottoming out on the floor term. A maximum reading above spikeAbove
// scales the result by 0.8.
type tempCurve struct {
	optimal    float64
	segments   []tempSegment
	floorBase  float64
	floorSlope float64
	spikeAbove float64
}

// Family temperature tolerances differ widely: the Avalon Nano is rated for
// sustained operation near 90°C while a Bitaxe runs hot past 55°C.
var tempCurves = map[mf.Family]tempCurve{
	mf.FamilyAvalonNano: {
		optimal: 70,
		segments: []tempSegment{
			{upTo: 80, base: 100, slope: 1},
			{upTo: 90, base: 90, slope: 1.5},
			{upTo: 95, base: 75, slope: 3},
		},
		floorBase: 40, floorSlope: 2,
		spikeAbove: 100,
	},
	mf.FamilyBitaxe: {
		optimal: 55,
		segments: []tempSegment{
			{upTo: 65, base: 100, slope: 1.5},
			{upTo: 70, base: 85, slope: 5},
		},
		floorBase: 40, floorSlope: 2,
		spikeAbove: 75,
	},
	mf.FamilyNerdQaxe: {
		optimal: 60,
		segments: []tempSegment{
			{upTo: 70, base: 100, slope: 1.5},
			{upTo: 75, base: 85, slope: 5},
		},
		floorBase: 40, floorSlope: 2,
		spikeAbove: 80,
	},
}

// genericTempCurve covers families without a dedicated curve.
var genericTempCurve = tempCurve{
	optimal: 60,
	segments: []tempSegment{
		{upTo: 70, base: 100, slope: 2},
		{upTo: 80, base: 80, slope: 2},
	},
	floorBase: 40, floorSlope: 1,
	spikeAbove: 85,
}

// temperatureScore scores the window's average temperature against the
// family's curve. ok is false when no row carries a temperature reading, so
// the caller can reweight instead of penalising sensorless families.
func temperatureScore(telemetry []mf.Telemetry, family mf.Family) (score float64, ok bool) {
	var sum, maxTemp float64
	n := 0
	for _, t := range telemetry {
		if t.Temperature == nil {
			continue
		}
		sum += *t.Temperature
		if *t.Temperature > maxTemp {
			maxTemp = *t.Temperature
		}
		n++
	}
	if n == 0 {
		return 0, false
	}
	avg := sum / float64(n)

	curve, found := tempCurves[family]
	if !found {
		curve = genericTempCurve
	}

	score = -1
	if avg < curve.optimal {
		score = 100
	} else {
		prev := curve.optimal
		for _, seg := range curve.segments {
			if avg < seg.upTo {
				score = seg.base - (avg-prev)*seg.slope
				break
			}
			prev = seg.upTo
		}
	}
	if score < 0 {
		last := curve.optimal
		if len(curve.segments) > 0 {
			last = curve.segments[len(curve.segments)-1].upTo
		}
		score = curve.floorBase - (avg-last)*curve.floorSlope
	}

	if maxTemp > curve.spikeAbove {
		score *= 0.8
	}
	return math.Max(score, 0), true
}

// hashrateScore measures stability via the coefficient of variation over
// the window: a steady hashrate scores 100, a noisy one falls off.
func hashrateScore(telemetry []mf.Telemetry) float64 {
	var rates []float64
	for _, t := range telemetry {
		if t.Hashrate > 0 {
			rates = append(rates, t.Hashrate)
		}
	}
	if len(rates) < 5 {
		return 50 // neutral on insufficient data
	}

	var sum float64
	for _, h := range rates {
		sum += h
	}
	avg := sum / float64(len(rates))
	if avg <= 0 {
		return 50
	}

	var variance float64
	for _, h := range rates {
		variance += (h - avg) * (h - avg)
	}
	variance /= float64(len(rates))
	cv := math.Sqrt(variance) / avg * 100

	switch {
	case cv < 5:
		return 100
	case cv < 10:
		return 100 - (cv-5)*4
	case cv < 20:
		return 80 - (cv-10)*2
	default:
		return math.Max(60-(cv-20), 20)
	}
}

// rejectRateScore scores the share reject rate over the window, computed
// from the first and last cumulative counters rather than per-row values.
func rejectRateScore(telemetry []mf.Telemetry) float64 {
	if len(telemetry) < 2 {
		return 100
	}
	first, last := telemetry[0], telemetry[len(telemetry)-1]
	if first.SharesAccepted == nil || last.SharesAccepted == nil {
		return 100
	}

	acceptedDelta := *last.SharesAccepted - *first.SharesAccepted
	var rejectedDelta int64
	if first.SharesRejected != nil && last.SharesRejected != nil {
		rejectedDelta = *last.SharesRejected - *first.SharesRejected
	}
	if acceptedDelta <= 0 {
		return 100
	}
	total := acceptedDelta + rejectedDelta
	if total <= 0 {
		return 100
	}
	rate := float64(rejectedDelta) / float64(total) * 100

	switch {
	case rate < 1:
		return 100
	case rate < 3:
		return 100 - (rate-1)*7.5
	case rate < 5:
		return 85 - (rate-3)*7.5
	case rate < 10:
		return 70 - (rate-5)*4
	default:
		return math.Max(50-(rate-10)*2, 0)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
