package models

import "fmt"

// Node labels in the knowledge graph export.
const (
	LabelStrategy = "Strategy"
	LabelCompany  = "Company"
	LabelEvidence = "Evidence"
	LabelLesson   = "Lesson"
)

// Relationship types in the knowledge graph export.
const (
	EdgeEvolvedFrom = "EVOLVED_FROM"
	EdgeTargets     = "TARGETS"
	EdgeHasEvidence = "HAS_EVIDENCE"
	EdgeLearnedFrom = "LEARNED_FROM"
)

// GraphNode is one vertex of the exported graph.
type GraphNode struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties"`
}

// GraphEdge is one typed, directed relationship.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Graph is the full export served to the dashboard.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

func StrategyNodeID(version int) string  { return fmt.Sprintf("strategy:%d", version) }
func CompanyNodeID(domain string) string { return "company:" + domain }
func EvidenceNodeID(id int64) string     { return fmt.Sprintf("evidence:%d", id) }
func LessonNodeID(id string) string      { return "lesson:" + id }

// EdgesOfType filters edges by relationship type.
func (g *Graph) EdgesOfType(edgeType string) []GraphEdge {
	var out []GraphEdge
	for _, e := range g.Edges {
		if e.Type == edgeType {
			out = append(out, e)
		}
	}
	return out
}
