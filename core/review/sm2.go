// Package review implements spaced-repetition scheduling of catalog tracks:
// SM-2 grading and selection of due tracks.
package review

import (
	"math"
	"time"

	"waveloft/model"
)

const (
	MinGrade = 0
	MaxGrade = 5

	minEase         = 1.3
	maxIntervalDays = 30.0
	// failed recall comes back in roughly ten minutes
	relearnInterval = 0.007
)

// Apply computes the learning state after a review graded grade (0-5) at now,
// and the time the track becomes due again.
func Apply(s model.LearningState, grade int, now time.Time) (model.LearningState, time.Time) {
	q := float64(MaxGrade - grade)
	ease := math.Max(minEase, s.Ease+(0.1-q*(0.08+q*0.02)))

	var next model.LearningState
	if grade < 3 {
		next.Reps = 0
		next.Interval = relearnInterval
	} else {
		next.Reps = s.Reps + 1
		switch next.Reps {
		case 1:
			next.Interval = 1
		case 2:
			next.Interval = 6
		default:
			next.Interval = math.RoundToEven(s.Interval * ease)
		}
	}
	next.Interval = math.Min(next.Interval, maxIntervalDays)
	next.Ease = math.Round(ease*1e4) / 1e4

	return next, now.Add(days(next.Interval))
}

func days(d float64) time.Duration {
	return time.Duration(d * float64(24*time.Hour))
}
