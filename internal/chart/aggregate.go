package chart

import (
	"sort"
	"strings"

	"github.com/talonops/talon/model"
)

// Unknown labels activities with no type or no entity name.
const Unknown = "N/D"

// Point is one bar of a chart.
type Point struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Series is the data behind one chart: the bars, largest first, and the
// total they add up to.
type Series struct {
	Level  Level   `json:"level"`
	Points []Point `json:"points"`
	Total  int     `json:"total"`
}

// Labels returns the bar labels in order.
func (s Series) Labels() []string {
	out := make([]string, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Label
	}
	return out
}

// countBy groups activities by key. Points are ordered by count descending,
// then by label.
func countBy(level Level, activities []model.Activity, key func(model.Activity) string) Series {
	counts := make(map[string]int)
	for _, a := range activities {
		counts[key(a)]++
	}
	points := make([]Point, 0, len(counts))
	for label, n := range counts {
		points = append(points, Point{Label: label, Count: n})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Count != points[j].Count {
			return points[i].Count > points[j].Count
		}
		return points[i].Label < points[j].Label
	})
	return Series{Level: level, Points: points, Total: len(activities)}
}

func typeOf(a model.Activity) string {
	if t := strings.TrimSpace(a.Type); t != "" {
		return t
	}
	return Unknown
}

func entityOf(a model.Activity) string {
	if n := strings.TrimSpace(a.EntityName); n != "" {
		return n
	}
	return Unknown
}

// newestFirst orders an activity list by date descending, then by id.
func newestFirst(activities []model.Activity) {
	sort.SliceStable(activities, func(i, j int) bool {
		if !activities[i].Date.Equal(activities[j].Date) {
			return activities[i].Date.After(activities[j].Date)
		}
		return activities[i].ID < activities[j].ID
	})
}
