/*
projector.go - Forecasting upcoming occurrences

PURPOSE:
  Computes the sequence of upcoming occurrence dates for a definition
  without touching any stored cursor. Used for "upcoming" views and
  forecasts; never a substitute for due processing.

PURITY:
  The projection is a pure function of its inputs: calling it twice with
  identical arguments yields identical sequences and causes no storage
  mutation. The iterator form is restartable by constructing a new one.

SEE ALSO:
  - policy.go: The advancement rule being iterated
  - engine.go: The stateful counterpart that actually generates
*/
package recurrence

// =============================================================================
// OCCURRENCE ITERATOR - Lazy walk over future occurrences
// =============================================================================

// OccurrenceIterator produces a definition's occurrence dates one at a
// time, starting at the cursor and strictly increasing, bounded by the
// horizon and (when set) the definition's end date.
type OccurrenceIterator struct {
	next     Date
	freq     Frequency
	interval int
	end      *Date
	horizon  Date
	err      error
	done     bool
}

// UpcomingIterator starts a lazy walk at the definition's current cursor.
// The definition itself is never mutated.
func UpcomingIterator(def Definition, horizon Date) *OccurrenceIterator {
	it := &OccurrenceIterator{
		next:     def.NextOccurrence,
		freq:     def.Frequency,
		interval: def.Interval,
		end:      def.EndDate,
		horizon:  horizon,
	}
	if def.Status == StatusExhausted {
		it.done = true
	}
	return it
}

// Next returns the next occurrence date, or ok=false when the sequence is
// exhausted. After ok=false, check Err for a policy failure.
func (it *OccurrenceIterator) Next() (Date, bool) {
	if it.done {
		return Date{}, false
	}
	if it.next.After(it.horizon) || (it.end != nil && it.next.AfterOrEqual(*it.end)) {
		it.done = true
		return Date{}, false
	}

	current := it.next
	advanced, err := Next(current, it.freq, it.interval)
	if err != nil {
		it.err = err
		it.done = true
		// The current date is still a valid occurrence even if the
		// policy cannot advance past it.
		return current, true
	}
	it.next = advanced
	return current, true
}

// Err returns the policy error that terminated the walk, if any.
func (it *OccurrenceIterator) Err() error { return it.err }

// =============================================================================
// UPCOMING - Bounded slice form
// =============================================================================

// Upcoming returns up to max occurrence dates for the definition,
// starting at its cursor, strictly increasing, bounded by the horizon
// (inclusive) and the end date (exclusive). A max of <= 0 means no count
// bound (the horizon alone bounds the walk). Returns an
// InvalidPolicyError for an unevaluable policy.
func Upcoming(def Definition, horizon Date, max int) ([]Date, error) {
	if err := ValidatePolicy(def.Frequency, def.Interval); err != nil {
		return nil, err
	}

	var dates []Date
	it := UpcomingIterator(def, horizon)
	for {
		if max > 0 && len(dates) >= max {
			return dates, nil
		}
		d, ok := it.Next()
		if !ok {
			break
		}
		dates = append(dates, d)
	}
	return dates, it.Err()
}
