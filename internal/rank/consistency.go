package rank

import (
	"math"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/montanaflynn/stats"

	"github.com/huangang/opsboard/internal/aggregate"
)

// MaxScore is awarded when there is no variance to observe.
const MaxScore = 100.0

// ScoreNote accompanies every published consistency figure.
const ScoreNote = "Consistency is relative across the people listed. 100 means steady output on active days, not a staffing or SLA target."

// ConsistencyScore measures how even an entity's output is across the days
// it was active. Inactive days are left out.
type ConsistencyScore struct {
	EntityID   string  `json:"entity_id"`
	ActiveDays int     `json:"active_days"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stddev"`
	Score      float64 `json:"score"`
}

// Score sums categories per day and scores the resulting series.
func Score(entity string, counts []aggregate.DailyCount) ConsistencyScore {
	perDay := make(map[civil.Date]int)
	for _, c := range counts {
		perDay[c.Date] += c.Count
	}
	days := make([]civil.Date, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	series := make([]int, 0, len(days))
	for _, d := range days {
		series = append(series, perDay[d])
	}
	return ScoreSeries(entity, series)
}

// ScoreSeries scores a per-day series; zero and negative days are dropped.
// score = 100 * (1 - min(stddev/mean, 1)) over population statistics, and
// 100 when fewer than two active days remain.
func ScoreSeries(entity string, daily []int) ConsistencyScore {
	active := make(stats.Float64Data, 0, len(daily))
	for _, n := range daily {
		if n > 0 {
			active = append(active, float64(n))
		}
	}

	cs := ConsistencyScore{EntityID: entity, ActiveDays: len(active), Score: MaxScore}
	if len(active) == 0 {
		return cs
	}

	mean, err := stats.Mean(active)
	if err != nil {
		return cs
	}
	cs.Mean = mean
	if len(active) == 1 || mean == 0 {
		return cs
	}

	sd, err := stats.StandardDeviationPopulation(active)
	if err != nil {
		return cs
	}
	cs.StdDev = sd
	cs.Score = MaxScore * (1 - math.Min(sd/mean, 1))
	return cs
}

// ScoreAll scores every assigned entity, best score first and entity id
// breaking ties.
func ScoreAll(a *aggregate.Aggregation) []ConsistencyScore {
	if a == nil {
		return nil
	}
	byEntity := a.ByEntity()
	out := make([]ConsistencyScore, 0, len(byEntity))
	for _, entity := range a.Entities() {
		out = append(out, Score(entity, byEntity[entity]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}
