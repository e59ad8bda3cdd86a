/*
accounting.go - Work-time arithmetic for a completed shift

FORMULAS:
  elapsed  = clock-out - clock-in, rounded to the nearest minute
  break    = max(manual, autoDuration) once elapsed >= autoBreakStartHours,
             otherwise manual
  work     = max(0, elapsed - break)
  overtime = max(0, work - overtimeThreshold)

ROUNDING:
  Elapsed time is rounded to the nearest minute, never truncated. Timestamps
  carry millisecond precision.

AUTO-BREAK:
  The automatic break is a floor, not an addition. An employee who already
  recorded 60 minutes under a 45 minute auto-break policy gets 60, not 105.
  The hours threshold is compared in decimal so 7.5 hours means exactly 450
  minutes.

DAY BOUNDARIES:
  Everything is instant arithmetic. A 22:00 -> 06:00 shift is 480 minutes.
*/
package attendance

import (
	"time"

	"github.com/shopspring/decimal"
)

var minutesPerHour = decimal.NewFromInt(60)

// Totals is the derived accounting for one record.
type Totals struct {
	ElapsedMinutes  int
	BreakMinutes    int
	WorkMinutes     int
	OvertimeMinutes int
}

// ElapsedMinutes returns out - in rounded to the nearest minute.
func ElapsedMinutes(in, out time.Time) int {
	return int(out.Sub(in).Round(time.Minute) / time.Minute)
}

// AutoBreakApplies reports whether the policy's automatic break covers a shift
// of elapsed minutes.
func AutoBreakApplies(p Policy, elapsed int) bool {
	if !p.AutoBreakEnabled {
		return false
	}
	threshold := decimal.NewFromFloat(p.AutoBreakStartHours).Mul(minutesPerHour)
	return decimal.NewFromInt(int64(elapsed)).GreaterThanOrEqual(threshold)
}

// BreakMinutes returns the break to deduct given a pre-recorded manual break.
func BreakMinutes(p Policy, elapsed, manual int) int {
	if manual < 0 {
		manual = 0
	}
	if AutoBreakApplies(p, elapsed) {
		return max(manual, p.AutoBreakDurationMinutes)
	}
	return manual
}

// WorkMinutes returns elapsed minus break, never negative.
func WorkMinutes(elapsed, breakMinutes int) int {
	return max(0, elapsed-breakMinutes)
}

// OvertimeMinutes returns work beyond the policy threshold. It does not cap work.
func OvertimeMinutes(p Policy, work int) int {
	return max(0, work-p.OvertimeThresholdMinutes)
}

// Summarize computes all derived totals for a shift.
func Summarize(p Policy, in, out time.Time, manualBreak int) Totals {
	elapsed := ElapsedMinutes(in, out)
	brk := BreakMinutes(p, elapsed, manualBreak)
	work := WorkMinutes(elapsed, brk)
	return Totals{
		ElapsedMinutes:  elapsed,
		BreakMinutes:    brk,
		WorkMinutes:     work,
		OvertimeMinutes: OvertimeMinutes(p, work),
	}
}

// HoursOf renders minutes as decimal hours with two places, e.g. 570 -> "9.5".
func HoursOf(minutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).Div(minutesPerHour).Round(2)
}
