// Package stats aggregates run records over a trailing window.
package stats

import (
	"fmt"
	"math"
	"time"

	"phobos.org.uk/executor/internal/runlog"
)

// Period is a trailing aggregation window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period string. Empty means month.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return PeriodMonth, nil
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	default:
		return "", fmt.Errorf("period must be one of day, week, month")
	}
}

// Window returns how far back the period reaches.
func (p Period) Window() time.Duration {
	switch p {
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// Start returns the beginning of the window ending at now.
func (p Period) Start(now time.Time) time.Time {
	return now.Add(-p.Window())
}

// TaskTypeStats groups runs by task type.
type TaskTypeStats struct {
	Runs        int   `json:"runs"`
	AvgDuration int64 `json:"avgDuration"`
}

// ModelStats groups runs by model.
type ModelStats struct {
	Runs    int     `json:"runs"`
	CostUSD float64 `json:"costUsd"`
}

// Summary is the body of GET /stats.
type Summary struct {
	Period        Period                   `json:"period"`
	TotalRuns     int                      `json:"totalRuns"`
	SuccessRate   float64                  `json:"successRate"`
	TotalCostUSD  float64                  `json:"totalCostUsd"`
	AvgDurationMs int64                    `json:"avgDurationMs"`
	ByTaskType    map[string]TaskTypeStats `json:"byTaskType"`
	ByModel       map[string]ModelStats    `json:"byModel"`
}

// Source supplies records created at or after a point in time.
type Source interface {
	Since(t time.Time) []runlog.Record
}

// Compute aggregates src over period ending at now.
func Compute(src Source, period Period, now time.Time) Summary {
	return Aggregate(src.Since(period.Start(now)), period)
}

// Aggregate summarizes records, which must already be filtered to the period.
func Aggregate(records []runlog.Record, period Period) Summary {
	s := Summary{
		Period:     period,
		TotalRuns:  len(records),
		ByTaskType: map[string]TaskTypeStats{},
		ByModel:    map[string]ModelStats{},
	}
	if len(records) == 0 {
		return s
	}

	var (
		successes     int
		totalCost     float64
		totalDuration int64
		taskDurations = map[string]int64{}
		modelCosts    = map[string]float64{}
	)
	for i := range records {
		r := &records[i]
		if r.Success {
			successes++
		}
		totalCost += r.Cost()
		totalDuration += r.DurationMs

		tt := s.ByTaskType[r.TaskType]
		tt.Runs++
		s.ByTaskType[r.TaskType] = tt
		taskDurations[r.TaskType] += r.DurationMs

		m := s.ByModel[r.Model]
		m.Runs++
		s.ByModel[r.Model] = m
		modelCosts[r.Model] += r.Cost()
	}

	for name, tt := range s.ByTaskType {
		tt.AvgDuration = int64(math.Round(float64(taskDurations[name]) / float64(tt.Runs)))
		s.ByTaskType[name] = tt
	}
	for name, m := range s.ByModel {
		m.CostUSD = round(modelCosts[name], 2)
		s.ByModel[name] = m
	}

	n := float64(len(records))
	s.SuccessRate = round(float64(successes)/n, 3)
	s.TotalCostUSD = round(totalCost, 2)
	s.AvgDurationMs = int64(math.Round(float64(totalDuration) / n))
	return s
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
