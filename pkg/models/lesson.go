package models

import (
	"fmt"
	"strings"
	"time"
)

// LessonType names the kind of mistake a lesson records.
type LessonType string

const (
	LessonTechStackMismatch LessonType = "TechStackMismatch"
	LessonCompanyTooSmall   LessonType = "CompanyTooSmall"
	LessonContractLockIn    LessonType = "ContractLockIn"
	LessonSegmentPivot      LessonType = "SegmentPivot"
	LessonDisregard         LessonType = "Disregard"
)

// LessonTypes lists every known lesson type.
var LessonTypes = []LessonType{
	LessonTechStackMismatch,
	LessonCompanyTooSmall,
	LessonContractLockIn,
	LessonSegmentPivot,
	LessonDisregard,
}

// ParseLessonType validates a stored lesson type.
func ParseLessonType(s string) (LessonType, error) {
	for _, t := range LessonTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown lesson type %q", s)
}

// Structural reports whether the lesson describes a problem with the
// strategy itself rather than with a single lead.
func (t LessonType) Structural() bool {
	return t == LessonSegmentPivot
}

// Lesson is an append-only record of a Disregard classification.
// It is produced by exactly one company and is consumed at most once, by
// the strategy evolved from the version that targeted that company.
type Lesson struct {
	LessonID      string     `json:"lesson_id"`
	Type          LessonType `json:"type"`
	Details       string     `json:"details"`
	Timestamp     time.Time  `json:"timestamp"`
	SourceDomain  string     `json:"source_domain"`
	SourceVersion *int       `json:"source_version,omitempty"` // set for structural mismatches
}

// PromptLine renders the lesson the way it is fed back into strategy synthesis.
func (l Lesson) PromptLine() string {
	return fmt.Sprintf("- [%s] %s", l.Type, l.Details)
}
