package database

import (
	"context"
	"fmt"

	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

// Counts holds the number of nodes per label.
type Counts struct {
	Strategies int `json:"strategies"`
	Companies  int `json:"companies"`
	Evidence   int `json:"evidence"`
	Lessons    int `json:"lessons"`
}

// Total is the number of graph nodes.
func (c Counts) Total() int {
	return c.Strategies + c.Companies + c.Evidence + c.Lessons
}

// Counts reports how many nodes of each label are stored.
func (d *Database) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []struct {
		table string
		dest  *int
	}{
		{"strategies", &c.Strategies},
		{"companies", &c.Companies},
		{"evidence", &c.Evidence},
		{"lessons", &c.Lessons},
	}
	for _, t := range targets {
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t.table).Scan(t.dest); err != nil {
			return Counts{}, d.wrap("count "+t.table, err)
		}
	}
	return c, nil
}

// Reset deletes every node and relationship and returns how many nodes
// were removed. Pivot audit records are wiped as well.
func (d *Database) Reset(ctx context.Context) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, d.wrap("begin reset", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, table := range []string{"strategies", "companies", "evidence", "lessons"} {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table)
		if err != nil {
			return 0, d.wrap("reset "+table, err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	for _, table := range []string{"strategy_targets", "strategy_lessons", "pivot_events"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return 0, d.wrap("reset "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, d.wrap("commit reset", err)
	}
	return deleted, nil
}

// FetchGraph exports every node and relationship.
func (d *Database) FetchGraph(ctx context.Context) (*models.Graph, error) {
	g := &models.Graph{Nodes: []models.GraphNode{}, Edges: []models.GraphEdge{}}

	strategies, err := d.ListStrategies(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range strategies {
		g.Nodes = append(g.Nodes, models.GraphNode{
			ID:    models.StrategyNodeID(s.Version),
			Label: models.LabelStrategy,
			Properties: map[string]interface{}{
				"version":     s.Version,
				"icp":         s.ICP,
				"keywords":    s.Keywords,
				"competitors": s.Competitors,
				"created_at":  s.CreatedAt,
			},
		})
		if s.EvolvedFrom != nil {
			g.Edges = append(g.Edges, models.GraphEdge{
				From: models.StrategyNodeID(s.Version),
				To:   models.StrategyNodeID(*s.EvolvedFrom),
				Type: models.EdgeEvolvedFrom,
			})
		}
	}

	companies, err := d.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range companies {
		props := map[string]interface{}{
			"name":       c.Name,
			"domain":     c.Domain,
			"tech_stack": c.TechStack,
			"funding":    c.Funding,
		}
		if c.Employees != nil {
			props["employees"] = *c.Employees
		}
		if c.Classification != nil {
			props["classification"] = string(*c.Classification)
		}
		g.Nodes = append(g.Nodes, models.GraphNode{ID: models.CompanyNodeID(c.Domain), Label: models.LabelCompany, Properties: props})
	}

	if err := d.appendEvidence(ctx, g); err != nil {
		return nil, err
	}
	if err := d.appendLessons(ctx, g); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `SELECT version, company_domain FROM strategy_targets ORDER BY version, company_domain`)
	if err != nil {
		return nil, d.wrap("graph targets", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			version int
			domain  string
		)
		if err := rows.Scan(&version, &domain); err != nil {
			return nil, d.wrap("scan target", err)
		}
		g.Edges = append(g.Edges, models.GraphEdge{
			From: models.StrategyNodeID(version),
			To:   models.CompanyNodeID(domain),
			Type: models.EdgeTargets,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, d.wrap("iterate targets", err)
	}

	return g, nil
}

func (d *Database) appendEvidence(ctx context.Context, g *models.Graph) error {
	rows, err := d.db.QueryContext(ctx, `SELECT id, company_domain, source_url, summary, retrieved_at FROM evidence ORDER BY id`)
	if err != nil {
		return d.wrap("graph evidence", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id                              int64
			domain, url, summary, retrieved string
		)
		if err := rows.Scan(&id, &domain, &url, &summary, &retrieved); err != nil {
			return d.wrap("scan evidence", err)
		}
		g.Nodes = append(g.Nodes, models.GraphNode{
			ID:    models.EvidenceNodeID(id),
			Label: models.LabelEvidence,
			Properties: map[string]interface{}{
				"source_url":   url,
				"summary":      summary,
				"retrieved_at": parseTime(retrieved),
			},
		})
		g.Edges = append(g.Edges, models.GraphEdge{
			From: models.CompanyNodeID(domain),
			To:   models.EvidenceNodeID(id),
			Type: models.EdgeHasEvidence,
		})
	}
	return d.wrap("iterate evidence", rows.Err())
}

func (d *Database) appendLessons(ctx context.Context, g *models.Graph) error {
	lessons, err := d.queryLessons(ctx, `SELECT `+lessonColumns+` FROM lessons ORDER BY created_at ASC, lesson_id ASC`)
	if err != nil {
		return err
	}
	for _, l := range lessons {
		props := map[string]interface{}{
			"lesson_id":     l.LessonID,
			"type":          string(l.Type),
			"details":       l.Details,
			"timestamp":     l.Timestamp,
			"source_domain": l.SourceDomain,
		}
		if l.SourceVersion != nil {
			props["source_version"] = *l.SourceVersion
		}
		g.Nodes = append(g.Nodes, models.GraphNode{ID: models.LessonNodeID(l.LessonID), Label: models.LabelLesson, Properties: props})
	}

	rows, err := d.db.QueryContext(ctx, `SELECT version, lesson_id FROM strategy_lessons ORDER BY version, lesson_id`)
	if err != nil {
		return d.wrap("graph learned_from", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			version  int
			lessonID string
		)
		if err := rows.Scan(&version, &lessonID); err != nil {
			return d.wrap("scan learned_from", err)
		}
		g.Edges = append(g.Edges, models.GraphEdge{
			From: models.StrategyNodeID(version),
			To:   models.LessonNodeID(lessonID),
			Type: models.EdgeLearnedFrom,
		})
	}
	if err := rows.Err(); err != nil {
		return d.wrap("iterate learned_from", err)
	}
	return nil
}

// String is used in logs.
func (c Counts) String() string {
	return fmt.Sprintf("strategies=%d companies=%d evidence=%d lessons=%d", c.Strategies, c.Companies, c.Evidence, c.Lessons)
}
