/*
policy.go - Next-occurrence computation

PURPOSE:
  Pure calendar arithmetic: given an occurrence date, a frequency, and an
  interval, compute the next occurrence date. No side effects, no storage,
  no clock. Everything else in the engine (due processing, skipping,
  forecasting) is built on repeated application of Next.

CLAMPING SEMANTICS:
  Monthly and yearly advancement clamp the day-of-month to the last valid
  day of the target month, and the clamp is relative to the immediately
  preceding occurrence, not the original anchor:

    Jan 31 -> Feb 29 (leap year) -> Mar 29

  Anchor-relative semantics (Mar 31 in the example above) would make the
  sequence depend on where the catch-up loop started; previous-occurrence-
  relative keeps Next deterministic as a pure function of its inputs.

EXAMPLE:
  next, err := recurrence.Next(date, recurrence.FreqMonthly, 2)

SEE ALSO:
  - date.go: Clamped calendar arithmetic
  - projector.go: Repeated application for forecasting
*/
package recurrence

// Next computes the occurrence that follows d under the given frequency
// and interval. Pure and total over valid inputs; returns an
// InvalidPolicyError when interval <= 0 or the frequency is unrecognized.
func Next(d Date, freq Frequency, interval int) (Date, error) {
	if interval <= 0 || !freq.Valid() {
		return Date{}, &InvalidPolicyError{Frequency: freq, Interval: interval}
	}

	switch freq {
	case FreqDaily:
		return d.AddDays(interval), nil
	case FreqWeekly:
		return d.AddDays(interval * 7), nil
	case FreqMonthly:
		return d.AddMonthsClamped(interval), nil
	default: // FreqYearly, guarded by Valid above
		return d.AddYearsClamped(interval), nil
	}
}

// ValidatePolicy checks that a (frequency, interval) pair can be
// evaluated by Next. Used by the engine to reject malformed definitions
// before any generation happens, so a half-advanced definition is never
// persisted.
func ValidatePolicy(freq Frequency, interval int) error {
	if interval <= 0 || !freq.Valid() {
		return &InvalidPolicyError{Frequency: freq, Interval: interval}
	}
	return nil
}
