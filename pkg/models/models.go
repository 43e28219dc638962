package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Classification is the label assigned to a lead.
type Classification string

const (
	Strike    Classification = "Strike"
	Monitor   Classification = "Monitor"
	Disregard Classification = "Disregard"
)

// Classifications is the closed set of valid labels.
var Classifications = []Classification{Strike, Monitor, Disregard}

// ParseClassification accepts a raw label, case-insensitively. Only the
// first word is considered and trailing punctuation is ignored, so
// "strike." and "Disregard - too small" parse, while "Maybe" does not.
func ParseClassification(raw string) (Classification, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty classification label")
	}
	word := strings.Trim(fields[0], ".,;:!?\"'*`()[]")
	for _, c := range Classifications {
		if strings.EqualFold(word, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("classification label %q is not one of Strike, Monitor, Disregard", raw)
}

// Strategy is an immutable, versioned description of who to target.
type Strategy struct {
	Version            int       `json:"version"`
	ProductDescription string    `json:"product_description"`
	ICP                string    `json:"icp"`
	Keywords           []string  `json:"keywords"`
	Competitors        []string  `json:"competitors"`
	CreatedAt          time.Time `json:"created_at"`
	EvolvedFrom        *int      `json:"evolved_from,omitempty"`
}

// previewRunes bounds Strategy.Preview.
const previewRunes = 200

// Preview returns at most the first 200 characters of the ICP for activity
// payloads. The cut never splits a multi-byte character.
func (s *Strategy) Preview() string {
	if utf8.RuneCountInString(s.ICP) <= previewRunes {
		return s.ICP
	}
	r := []rune(s.ICP)
	return string(r[:previewRunes])
}

// Company is a candidate lead.
type Company struct {
	Name           string          `json:"name"`
	Domain         string          `json:"domain"`
	TechStack      []string        `json:"tech_stack"`
	Employees      *int            `json:"employees,omitempty"`
	Funding        string          `json:"funding,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsClassified reports whether a label has been written.
func (c *Company) IsClassified() bool {
	return c.Classification != nil
}

// UsesTech reports whether any stack entry matches tech case-insensitively,
// either exactly or as a substring ("AWS RDS" matches "aws").
func (c *Company) UsesTech(tech string) bool {
	needle := strings.ToLower(strings.TrimSpace(tech))
	if needle == "" {
		return false
	}
	for _, t := range c.TechStack {
		hay := strings.ToLower(strings.TrimSpace(t))
		if hay == needle || strings.Contains(hay, needle) {
			return true
		}
	}
	return false
}

// Context renders "Name (funding, ~N employees) using a, b." for prompts.
func (c *Company) Context() string {
	funding := c.Funding
	if funding == "" {
		funding = "unknown funding"
	}
	employees := "unknown"
	if c.Employees != nil {
		employees = fmt.Sprintf("%d", *c.Employees)
	}
	stack := "an unknown stack"
	if len(c.TechStack) > 0 {
		stack = strings.Join(c.TechStack, ", ")
	}
	return fmt.Sprintf("%s (%s, ~%s employees) using %s.", c.Name, funding, employees, stack)
}

// Evidence is a retrieved source attached to one company.
type Evidence struct {
	ID            int64     `json:"id"`
	CompanyDomain string    `json:"company_domain"`
	SourceURL     string    `json:"source_url"`
	Summary       string    `json:"summary"`
	RetrievedAt   time.Time `json:"retrieved_at"`
}

// PivotKind distinguishes the two ways the agent changes course.
type PivotKind string

const (
	PivotThreshold PivotKind = "threshold"
	PivotOutage    PivotKind = "outage"
)

// PivotEvent is an audit record of a threshold pivot or an outage reaction.
type PivotEvent struct {
	ID              int64     `json:"id"`
	Kind            PivotKind `json:"kind"`
	StrategyVersion *int      `json:"strategy_version,omitempty"`
	Competitor      string    `json:"competitor,omitempty"`
	Details         string    `json:"details"`
	CreatedAt       time.Time `json:"created_at"`
}

// IntPtr is a small helper for optional integer fields.
func IntPtr(v int) *int {
	return &v
}
