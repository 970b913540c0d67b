package model

import "strings"

// RiskLevel is the severity bucket of a 0-100 risk score
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Score thresholds, inclusive upper bounds
const (
	lowMax    = 30
	mediumMax = 60
	highMax   = 80
)

// RiskLevels lists every level from least to most severe
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// ParseRiskLevel converts a wire value into a RiskLevel
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	case RiskCritical:
		return RiskCritical, true
	}
	return "", false
}

// Bucket maps a score to its risk level. Scores outside 0-100 are clamped.
func Bucket(score int) RiskLevel {
	score = ClampScore(score)
	switch {
	case score <= lowMax:
		return RiskLow
	case score <= mediumMax:
		return RiskMedium
	case score <= highMax:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// ClampScore limits a score to 0-100
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Rank orders levels by severity, low is 0. Unknown levels rank below low.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return -1
}

// Label returns the display label
func (l RiskLevel) Label() string {
	switch l {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	case RiskCritical:
		return "Critical"
	}
	return "Unknown"
}

// Color returns the style token the presentation layer renders the level with
func (l RiskLevel) Color() string {
	switch l {
	case RiskLow:
		return "risk-low"
	case RiskMedium:
		return "risk-medium"
	case RiskHigh:
		return "risk-high"
	case RiskCritical:
		return "risk-critical"
	}
	return "risk-medium"
}

// IsSevere reports whether the level counts as high risk on the dashboard
func (l RiskLevel) IsSevere() bool {
	return l == RiskHigh || l == RiskCritical
}

// CategoryPoint is one bar of the category chart
type CategoryPoint struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

const categorySuffix = " Risk"

// CategorySeries builds the chart series in category order.
// A trailing " Risk" is dropped from the label; values are untouched.
func CategorySeries(categories RiskCategories) []CategoryPoint {
	series := make([]CategoryPoint, 0, categories.Len())
	for _, c := range categories.Scores() {
		series = append(series, CategoryPoint{
			Name:  strings.TrimSuffix(c.Name, categorySuffix),
			Value: c.Score,
		})
	}
	return series
}
