package record

import (
	"encoding/json"
	"fmt"
	"time"
)

const maxNotesLength = 500

// ValidationError reports a payload that violates the record schema.
// It is never worth retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Retryable implements the retry classification interface
func (e *ValidationError) Retryable() bool {
	return false
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate decodes a raw payload of the given kind and checks its constraints
func Validate(kind Kind, payload json.RawMessage) error {
	switch kind {
	case KindWorkout:
		var w Workout
		if err := json.Unmarshal(payload, &w); err != nil {
			return invalid("payload", "malformed workout: %v", err)
		}
		return w.Validate()
	case KindLifestyle:
		var l Lifestyle
		if err := json.Unmarshal(payload, &l); err != nil {
			return invalid("payload", "malformed lifestyle log: %v", err)
		}
		return l.Validate()
	}
	return invalid("kind", "unknown record kind %q", kind)
}

// Validate checks the workout constraints
func (w *Workout) Validate() error {
	if w.Date == "" {
		return invalid("date", "is required")
	}
	if _, err := time.Parse(time.RFC3339, w.Date); err != nil {
		if _, err := time.Parse(time.DateOnly, w.Date); err != nil {
			return invalid("date", "%q is neither RFC3339 nor YYYY-MM-DD", w.Date)
		}
	}
	if w.Phase == "" {
		return invalid("phase", "is required")
	}
	if w.Day < 1 {
		return invalid("day", "%d is not a positive day number", w.Day)
	}
	if len(w.Exercises) == 0 {
		return invalid("exercises", "at least one exercise is required")
	}
	for i, e := range w.Exercises {
		field := fmt.Sprintf("exercises[%d]", i)
		switch {
		case e.Name == "":
			return invalid(field+".name", "is required")
		case e.Sets < 1 || e.Sets > 20:
			return invalid(field+".sets", "%d is outside 1..20", e.Sets)
		case e.Reps < 1 || e.Reps > 100:
			return invalid(field+".reps", "%d is outside 1..100", e.Reps)
		case e.Weight < 0 || e.Weight > 1000:
			return invalid(field+".weight", "%g is outside 0..1000", e.Weight)
		}
	}
	if w.Duration != nil && *w.Duration < 0 {
		return invalid("duration", "must not be negative")
	}
	if len(w.Notes) > maxNotesLength {
		return invalid("notes", "longer than %d characters", maxNotesLength)
	}
	return nil
}

// Validate checks the lifestyle constraints
func (l *Lifestyle) Validate() error {
	if _, err := time.Parse(time.DateOnly, l.Date); err != nil {
		return invalid("date", "%q is not YYYY-MM-DD", l.Date)
	}
	if l.SleepHours < 0 || l.SleepHours > 24 {
		return invalid("sleepHours", "%g is outside 0..24", l.SleepHours)
	}
	if l.SleepQuality < 1 || l.SleepQuality > 5 {
		return invalid("sleepQuality", "%d is outside 1..5", l.SleepQuality)
	}
	if l.StressLevel < 1 || l.StressLevel > 5 {
		return invalid("stressLevel", "%d is outside 1..5", l.StressLevel)
	}
	if l.WaterIntake != nil && (*l.WaterIntake < 0 || *l.WaterIntake > 20) {
		return invalid("waterIntake", "%g is outside 0..20", *l.WaterIntake)
	}
	if len(l.Notes) > maxNotesLength {
		return invalid("notes", "longer than %d characters", maxNotesLength)
	}
	return nil
}
