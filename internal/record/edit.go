package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Edit is a typed partial update of a record payload. Nil fields keep the
// stored value.
type Edit interface {
	Kind() Kind
	ApplyTo(payload json.RawMessage) (json.RawMessage, error)
}

// WorkoutEdit changes selected workout fields
type WorkoutEdit struct {
	Date      *string    `json:"date,omitempty"`
	Phase     *string    `json:"phase,omitempty"`
	Day       *int       `json:"day,omitempty"`
	Exercises []Exercise `json:"exercises,omitempty"`
	Duration  *int       `json:"duration,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

func (WorkoutEdit) Kind() Kind { return KindWorkout }

// ApplyTo decodes the stored workout, applies the set fields and validates the result
func (e WorkoutEdit) ApplyTo(payload json.RawMessage) (json.RawMessage, error) {
	var w Workout
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("failed to decode stored workout: %w", err)
	}
	if e.Date != nil {
		w.Date = *e.Date
	}
	if e.Phase != nil {
		w.Phase = *e.Phase
	}
	if e.Day != nil {
		w.Day = *e.Day
	}
	if e.Exercises != nil {
		w.Exercises = e.Exercises
	}
	if e.Duration != nil {
		w.Duration = e.Duration
	}
	if e.Notes != nil {
		w.Notes = *e.Notes
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// LifestyleEdit changes selected lifestyle fields
type LifestyleEdit struct {
	Date          *string  `json:"date,omitempty"`
	SleepHours    *float64 `json:"sleepHours,omitempty"`
	SleepQuality  *int     `json:"sleepQuality,omitempty"`
	StressLevel   *int     `json:"stressLevel,omitempty"`
	AteWell       *bool    `json:"ateWell,omitempty"`
	Alcohol       *bool    `json:"alcohol,omitempty"`
	Smoking       *bool    `json:"smoking,omitempty"`
	HeatAvoidance *bool    `json:"heatAvoidance,omitempty"`
	WaterIntake   *float64 `json:"waterIntake,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
}

func (LifestyleEdit) Kind() Kind { return KindLifestyle }

// ApplyTo decodes the stored lifestyle log, applies the set fields and validates the result
func (e LifestyleEdit) ApplyTo(payload json.RawMessage) (json.RawMessage, error) {
	var l Lifestyle
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("failed to decode stored lifestyle log: %w", err)
	}
	if e.Date != nil {
		l.Date = *e.Date
	}
	if e.SleepHours != nil {
		l.SleepHours = *e.SleepHours
	}
	if e.SleepQuality != nil {
		l.SleepQuality = *e.SleepQuality
	}
	if e.StressLevel != nil {
		l.StressLevel = *e.StressLevel
	}
	if e.AteWell != nil {
		l.AteWell = *e.AteWell
	}
	if e.Alcohol != nil {
		l.Alcohol = *e.Alcohol
	}
	if e.Smoking != nil {
		l.Smoking = *e.Smoking
	}
	if e.HeatAvoidance != nil {
		l.HeatAvoidance = *e.HeatAvoidance
	}
	if e.WaterIntake != nil {
		l.WaterIntake = e.WaterIntake
	}
	if e.Notes != nil {
		l.Notes = *e.Notes
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(l)
}

// ParseEdit decodes a JSON object of changed fields into the edit type of kind.
// Unknown fields are rejected.
func ParseEdit(kind Kind, raw []byte) (Edit, error) {
	var edit Edit
	switch kind {
	case KindWorkout:
		edit = &WorkoutEdit{}
	case KindLifestyle:
		edit = &LifestyleEdit{}
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(edit); err != nil {
		return nil, fmt.Errorf("failed to decode %s edit: %w", kind, err)
	}
	return edit, nil
}
