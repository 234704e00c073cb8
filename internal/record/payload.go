package record

// Exercise is one movement performed during a workout
type Exercise struct {
	Name   string  `json:"name"`
	Sets   int     `json:"sets"`
	Reps   int     `json:"reps"`
	Weight float64 `json:"weight"`
	Notes  string  `json:"notes,omitempty"`
}

// Workout is the payload of a workout record
type Workout struct {
	Date      string     `json:"date"`
	Phase     string     `json:"phase"`
	Day       int        `json:"day"` // training day within the phase, from 1
	Exercises []Exercise `json:"exercises"`
	Duration  *int       `json:"duration,omitempty"` // minutes
	Notes     string     `json:"notes,omitempty"`
}

// Lifestyle is the payload of a daily lifestyle record
type Lifestyle struct {
	Date          string   `json:"date"`
	SleepHours    float64  `json:"sleepHours"`
	SleepQuality  int      `json:"sleepQuality"`
	StressLevel   int      `json:"stressLevel"`
	AteWell       bool     `json:"ateWell"`
	Alcohol       bool     `json:"alcohol"`
	Smoking       bool     `json:"smoking"`
	HeatAvoidance bool     `json:"heatAvoidance"`
	WaterIntake   *float64 `json:"waterIntake,omitempty"` // liters
	Notes         string   `json:"notes,omitempty"`
}
