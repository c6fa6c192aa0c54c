package helper

import (
	"math"
	"time"
)

// DayStartUTC truncates t to the start of its UTC calendar day.
func DayStartUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SameUTCDay reports whether a and b fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	return DayStartUTC(a).Equal(DayStartUTC(b))
}

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-12)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-12)
	return steps * tick
}

// TickFromPrecision converts a decimals count into a tick size:
// 2 -> 0.01, 0 -> 1.
func TickFromPrecision(decimals int) float64 {
	if decimals <= 0 {
		return 1
	}
	return math.Pow(10, -float64(decimals))
}

// RoundToPrecision rounds v half-up to the given number of decimals.
func RoundToPrecision(v float64, decimals int) float64 {
	tick := TickFromPrecision(decimals)
	steps := math.Floor(v/tick + 0.5)
	return steps * tick
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
