package model

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Analysis status values reported by the analysis service
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DocumentAnalysis is the analysis result for one uploaded document
type DocumentAnalysis struct {
	ID               string         `json:"id"`
	Filename         string         `json:"filename"`
	Status           string         `json:"status,omitempty"`
	ErrorMsg         string         `json:"error_msg,omitempty"`
	OverallRiskScore int            `json:"overall_risk_score"`
	RiskCategories   RiskCategories `json:"risk_categories"`
	Clauses          []Clause       `json:"clauses"`
}

// Clause is one analyzed excerpt of the document
type Clause struct {
	ID           string    `json:"id"`
	OriginalText string    `json:"original_text"`
	Summary      string    `json:"summary"`
	RiskLevel    RiskLevel `json:"risk_level"`
	RiskScore    int       `json:"risk_score"`
	Issues       []string  `json:"issues"`
	Category     string    `json:"category"`
}

// CounterOffer is suggested replacement language for a clause
type CounterOffer struct {
	ClauseID      string `json:"clause_id,omitempty"`
	SuggestedText string `json:"suggested_text"`
	Explanation   string `json:"explanation"`
}

// RiskAssessment is the persona-scoped risk payload without clauses
type RiskAssessment struct {
	DocumentID       string         `json:"document_id,omitempty"`
	Persona          Persona        `json:"persona,omitempty"`
	OverallRiskScore int            `json:"overall_risk_score"`
	RiskCategories   RiskCategories `json:"risk_categories"`
}

// IsPending reports whether the service accepted the document but has not finished it
func (a *DocumentAnalysis) IsPending() bool {
	return a.Status == StatusPending || a.Status == StatusProcessing
}

// Normalize fills clause levels the service left empty or sent in an unknown form.
// A level that was supplied is kept even if it disagrees with the score.
func (a *DocumentAnalysis) Normalize() {
	for i := range a.Clauses {
		c := &a.Clauses[i]
		if _, ok := ParseRiskLevel(string(c.RiskLevel)); !ok {
			c.RiskLevel = Bucket(c.RiskScore)
		}
		if c.Issues == nil {
			c.Issues = []string{}
		}
	}
}

// UnknownCategories lists clause categories missing from RiskCategories, in clause order
func (a *DocumentAnalysis) UnknownCategories() []string {
	var unknown []string
	seen := make(map[string]bool)
	for _, c := range a.Clauses {
		if _, ok := a.RiskCategories.Score(c.Category); ok || seen[c.Category] {
			continue
		}
		seen[c.Category] = true
		unknown = append(unknown, c.Category)
	}
	return unknown
}

// Clause finds a clause by id
func (a *DocumentAnalysis) Clause(id string) (Clause, bool) {
	for _, c := range a.Clauses {
		if c.ID == id {
			return c, true
		}
	}
	return Clause{}, false
}

// WithRisk returns a copy with overall score and categories taken from r
func (a *DocumentAnalysis) WithRisk(r *RiskAssessment) *DocumentAnalysis {
	out := *a
	out.OverallRiskScore = r.OverallRiskScore
	out.RiskCategories = r.RiskCategories
	out.Clauses = append([]Clause(nil), a.Clauses...)
	return &out
}

// CategoryScore is one entry of RiskCategories
type CategoryScore struct {
	Name  string
	Score int
}

// RiskCategories maps category names to scores and remembers insertion order
type RiskCategories struct {
	scores []CategoryScore
}

// NewRiskCategories builds categories in the given order. A repeated name overwrites
// the earlier score and keeps its position.
func NewRiskCategories(scores ...CategoryScore) RiskCategories {
	var rc RiskCategories
	for _, s := range scores {
		rc.Set(s.Name, s.Score)
	}
	return rc
}

// Set adds or updates a category
func (rc *RiskCategories) Set(name string, score int) {
	for i := range rc.scores {
		if rc.scores[i].Name == name {
			rc.scores[i].Score = score
			return
		}
	}
	rc.scores = append(rc.scores, CategoryScore{Name: name, Score: score})
}

// Score looks up a category
func (rc RiskCategories) Score(name string) (int, bool) {
	for _, s := range rc.scores {
		if s.Name == name {
			return s.Score, true
		}
	}
	return 0, false
}

// Scores returns the categories in insertion order
func (rc RiskCategories) Scores() []CategoryScore {
	return append([]CategoryScore(nil), rc.scores...)
}

// Len returns the number of categories
func (rc RiskCategories) Len() int {
	return len(rc.scores)
}

func (rc RiskCategories) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, int]()
	for _, s := range rc.scores {
		om.Set(s.Name, s.Score)
	}
	return om.MarshalJSON()
}

func (rc *RiskCategories) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		rc.scores = nil
		return nil
	}
	om := orderedmap.New[string, int]()
	if err := om.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("failed to parse risk categories: %w", err)
	}
	scores := make([]CategoryScore, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		scores = append(scores, CategoryScore{Name: pair.Key, Score: pair.Value})
	}
	rc.scores = scores
	return nil
}

// UnmarshalJSON accepts any string for the level; Normalize repairs unknown values.
func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse risk level: %w", err)
	}
	if parsed, ok := ParseRiskLevel(s); ok {
		*l = parsed
		return nil
	}
	*l = RiskLevel(s)
	return nil
}
