// Package util holds small parsing and normalisation helpers shared by the
// adapter and tracking layers: unit-suffixed numbers (hashrate, difficulty),
// share-ratio strings, uptime strings, and pool-URL normalisation. These are
// hand-rolled because the wire formats are bespoke per-family text
// formats with no applicable third-party parser.
package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDifficulty accepts a decimal number optionally suffixed with
// k/M/G/T (case-insensitive) and returns its value, e.g. "12.5M" -> 12.5e6.
// Used for ASIC best-share/difficulty fields.
func ParseDifficulty(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty difficulty string")
	}
	mult := 1.0
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1e3
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1e6
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1e9
		s = s[:len(s)-1]
	case 't', 'T':
		mult = 1e12
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse difficulty %q: %w", s, err)
	}
	return v * mult, nil
}

// HashrateToKHs normalises a hashrate/unit pair to KH/s, the unit the CPU
// miner family reports for display.
func HashrateToKHs(value float64, unit string) float64 {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "H/S", "H":
		return value / 1e3
	case "KH/S", "KH":
		return value
	case "MH/S", "MH":
		return value * 1e3
	case "GH/S", "GH":
		return value * 1e6
	case "TH/S", "TH":
		return value * 1e9
	default:
		return value
	}
}

// ParseNMMinerHashrate parses the passive family's unit-suffixed hashrate
// string ("H/s", "KH/s", "MH/s") into (value, canonical unit).
func ParseNMMinerHashrate(s string) (float64, string, error) {
	s = strings.TrimSpace(s)
	for _, unit := range []string{"KH/s", "MH/s", "H/s"} {
		if strings.HasSuffix(s, unit) {
			numPart := strings.TrimSpace(strings.TrimSuffix(s, unit))
			v, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, "", fmt.Errorf("parse NMMiner hashrate %q: %w", s, err)
			}
			return v, unit, nil
		}
	}
	return 0, "", fmt.Errorf("unrecognised NMMiner hashrate unit in %q", s)
}

// ParseNMMinerShares parses the passive family's "rejected/accepted/pct%"
// share string into (rejected, accepted).
func ParseNMMinerShares(s string) (rejected, accepted int64, err error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("malformed shares string %q", s)
	}
	rejected, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse rejected shares %q: %w", s, err)
	}
	accepted, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse accepted shares %q: %w", s, err)
	}
	return rejected, accepted, nil
}

// NormalizePoolURL strips protocol prefixes and trailing slashes and
// lowercases the result, the comparison form used by the strategy-miner
// reconciliation loop to detect pool drift.
func NormalizePoolURL(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "stratum+tcp://")
	s = strings.TrimPrefix(s, "stratum+ssl://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimSuffix(s, "/")
	return strings.ToLower(s)
}
