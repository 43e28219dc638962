package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

// newTestDB returns an empty SQLite store in a temporary directory.
func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "recurve.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func addCompany(t *testing.T, d *Database, name, domain string, stack ...string) {
	t.Helper()
	err := d.UpsertCompany(context.Background(), &models.Company{Name: name, Domain: domain, TechStack: stack, Employees: models.IntPtr(100)})
	require.NoError(t, err)
}

func TestRebind(t *testing.T) {
	got := rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
}

func TestLinkTargetsQuery_TypesVersionOnPostgres(t *testing.T) {
	got := rebind(linkTargetsQuery)
	assert.Contains(t, got, "SELECT CAST($1 AS INTEGER), domain FROM companies")
}

func TestInsertStrategy_VersionChain(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	addCompany(t, d, "Render", "render.com", "Postgres", "AWS")

	v1, err := d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "first"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Nil(t, v1.EvolvedFrom)

	v2, err := d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "second", EvolvedFrom: models.IntPtr(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	require.NotNil(t, v2.EvolvedFrom)
	assert.Equal(t, 1, *v2.EvolvedFrom)

	// A second initial strategy or a stale predecessor both conflict.
	_, err = d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "again"}, nil)
	assert.ErrorIs(t, err, faults.ErrConcurrentEvolutionConflict)
	_, err = d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "stale", EvolvedFrom: models.IntPtr(1)}, nil)
	assert.ErrorIs(t, err, faults.ErrConcurrentEvolutionConflict)

	latest, err := d.LatestStrategy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "second", latest.ICP)

	chain, err := d.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	for i, s := range chain {
		assert.Equal(t, i+1, s.Version)
		if s.EvolvedFrom != nil {
			assert.Equal(t, s.Version-1, *s.EvolvedFrom)
		}
	}

	targets, err := d.CompaniesForStrategy(ctx, 2, false)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "render.com", targets[0].Domain)
}

func TestInsertStrategy_ConcurrentEvolutionHasOneWinner(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	_, err := d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "v1"}, nil)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "v2", EvolvedFrom: models.IntPtr(1)}, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, faults.ErrConcurrentEvolutionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 3, conflicts)
}

func TestGetStrategy_NotFound(t *testing.T) {
	d := newTestDB(t)
	_, err := d.GetStrategy(context.Background(), 7)
	assert.ErrorIs(t, err, faults.ErrNotFound)
	_, err = d.LatestStrategy(context.Background())
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestClassificationWrites(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	addCompany(t, d, "Plausible", "Plausible.io", "DigitalOcean")

	c, err := d.GetCompany(ctx, "plausible.io")
	require.NoError(t, err)
	assert.False(t, c.IsClassified())

	require.NoError(t, d.SetClassification(ctx, "plausible.io", models.Monitor))
	err = d.SetClassification(ctx, "plausible.io", models.Classification("Maybe"))
	assert.ErrorIs(t, err, faults.ErrInvalidInput)
	err = d.SetClassification(ctx, "nobody.example", models.Strike)
	assert.ErrorIs(t, err, faults.ErrNotFound)

	c, err = d.GetCompany(ctx, "plausible.io")
	require.NoError(t, err)
	require.NotNil(t, c.Classification)
	assert.Equal(t, models.Monitor, *c.Classification)

	promoted, err := d.PromoteToStrike(ctx, []string{"plausible.io"})
	require.NoError(t, err)
	assert.Equal(t, []string{"plausible.io"}, promoted)
	promoted, err = d.PromoteToStrike(ctx, []string{"plausible.io"})
	require.NoError(t, err)
	assert.Empty(t, promoted, "second promotion must be a no-op")
}

func TestPromoteToStrike_AllOrNothing(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	addCompany(t, d, "Droplet Shop", "dropletshop.com", "DigitalOcean")
	addCompany(t, d, "Plausible", "plausible.io", "Elixir", "DigitalOcean")

	_, err := d.db.ExecContext(ctx, `CREATE TRIGGER reject_plausible BEFORE UPDATE ON companies
		WHEN NEW.domain = 'plausible.io'
		BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	_, err = d.PromoteToStrike(ctx, []string{"dropletshop.com", "plausible.io"})
	require.Error(t, err)

	c, err := d.GetCompany(ctx, "dropletshop.com")
	require.NoError(t, err)
	assert.Nil(t, c.Classification, "earlier promotions in the batch must roll back")

	_, err = d.db.ExecContext(ctx, `DROP TRIGGER reject_plausible`)
	require.NoError(t, err)
	promoted, err := d.PromoteToStrike(ctx, []string{"dropletshop.com", "plausible.io"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dropletshop.com", "plausible.io"}, promoted)
}

func TestCompaniesUsing(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	addCompany(t, d, "Plausible", "plausible.io", "Elixir", "DigitalOcean")
	addCompany(t, d, "Render", "render.com", "Go", "AWS RDS")
	addCompany(t, d, "Mux", "mux.com", "Go", "GCP")

	got, err := d.CompaniesUsing(ctx, "digitalocean")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "plausible.io", got[0].Domain)

	got, err = d.CompaniesUsing(ctx, "AWS")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "render.com", got[0].Domain)
}

func TestAddEvidence_DeduplicatesByURL(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	addCompany(t, d, "Render", "render.com", "Go")

	ev := &models.Evidence{CompanyDomain: "render.com", SourceURL: "https://render.com/blog", Summary: "blog"}
	added, err := d.AddEvidence(ctx, ev)
	require.NoError(t, err)
	assert.True(t, added)
	assert.NotZero(t, ev.ID)

	added, err = d.AddEvidence(ctx, &models.Evidence{CompanyDomain: "render.com", SourceURL: "https://render.com/blog", Summary: "again"})
	require.NoError(t, err)
	assert.False(t, added)

	list, err := d.EvidenceFor(ctx, "render.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "blog", list[0].Summary)
}

func TestLessonsConsumedOnce(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	addCompany(t, d, "Oracle", "oracle.com", "Oracle DB")
	addCompany(t, d, "MongoDB", "mongodb.com", "MongoDB")

	v1, err := d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "v1"}, nil)
	require.NoError(t, err)

	l1 := &models.Lesson{Type: models.LessonContractLockIn, Details: "long procurement", SourceDomain: "oracle.com"}
	l2 := &models.Lesson{Type: models.LessonSegmentPivot, Details: "wrong segment", SourceDomain: "mongodb.com", SourceVersion: models.IntPtr(v1.Version)}
	require.NoError(t, d.CreateLesson(ctx, l1))
	require.NoError(t, d.CreateLesson(ctx, l2))
	assert.Regexp(t, `^les-[0-9a-f]{8}$`, l1.LessonID)

	err = d.CreateLesson(ctx, &models.Lesson{Type: "Nonsense", Details: "x", SourceDomain: "oracle.com"})
	assert.ErrorIs(t, err, faults.ErrInvalidInput)

	pending, err := d.UnconsumedLessons(ctx, v1.Version)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	ids := []string{pending[0].LessonID, pending[1].LessonID}
	v2, err := d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "v2", EvolvedFrom: models.IntPtr(1)}, ids)
	require.NoError(t, err)

	pending, err = d.UnconsumedLessons(ctx, v1.Version)
	require.NoError(t, err)
	assert.Empty(t, pending)

	used, err := d.LessonsConsumedBy(ctx, v2.Version)
	require.NoError(t, err)
	assert.Len(t, used, 2)

	// A lesson can feed exactly one evolution.
	_, err = d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "v3", EvolvedFrom: models.IntPtr(2)}, ids[:1])
	assert.ErrorIs(t, err, faults.ErrConcurrentEvolutionConflict)
	_, err = d.GetStrategy(ctx, 3)
	assert.ErrorIs(t, err, faults.ErrNotFound, "failed evolution must leave no partial version")
}

func TestAddCompanies_TargetsLatestStrategy(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	_, err := d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "v1"}, nil)
	require.NoError(t, err)

	n, err := d.AddCompanies(ctx, []*models.Company{{Name: "Mux", Domain: "mux.com", TechStack: []string{"Go"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	targets, err := d.CompaniesForStrategy(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "Mux", targets[0].Name)

	_, err = d.AddCompanies(ctx, []*models.Company{{Name: "", Domain: "x.com"}})
	assert.ErrorIs(t, err, faults.ErrInvalidInput)
}

func TestSeedGraphAndReset(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	n, err := d.SeedDemoCompanies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	_, err = d.SeedDemoCompanies(ctx)
	require.NoError(t, err)

	counts, err := d.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, counts.Companies)
	assert.Equal(t, 20, counts.Evidence)

	_, err = d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "v1"}, nil)
	require.NoError(t, err)
	require.NoError(t, d.CreateLesson(ctx, &models.Lesson{Type: models.LessonCompanyTooSmall, Details: "tiny", SourceDomain: "usefathom.com"}))
	require.NoError(t, d.RecordPivotEvent(ctx, &models.PivotEvent{Kind: models.PivotOutage, Competitor: "DigitalOcean"}))

	g, err := d.FetchGraph(ctx)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 42)
	assert.Len(t, g.EdgesOfType(models.EdgeTargets), 20)
	assert.Len(t, g.EdgesOfType(models.EdgeHasEvidence), 20)

	deleted, err := d.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, deleted)

	counts, err = d.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Total())
	pivots, err := d.ListPivotEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pivots)

	// Versioning restarts at 1 after a reset.
	s, err := d.InsertStrategy(ctx, &models.Strategy{ProductDescription: "p", ICP: "fresh"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(Config{Type: "neo4j"})
	if err == nil {
		t.Fatal("expected error for unsupported store type")
	}
}

func TestLeases(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	lease, err := d.AcquireLease(ctx, "validation-cycle", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "validation-cycle", lease.Name())

	_, err = d.AcquireLease(ctx, "validation-cycle", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	other, err := d.AcquireLease(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))

	again, err := d.AcquireLease(ctx, "validation-cycle", time.Minute)
	require.NoError(t, err)
	defer again.Release(ctx)
}

func TestLeaseExpiredIsTakenOver(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	stale, err := d.AcquireLease(ctx, "validation-cycle", time.Hour)
	require.NoError(t, err)
	_, err = d.db.ExecContext(ctx, `UPDATE leases SET expires_at = ?`, formatTime(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	fresh, err := d.AcquireLease(ctx, "validation-cycle", time.Hour)
	require.NoError(t, err)

	// The stale holder no longer owns the row, so its release is a no-op.
	require.NoError(t, stale.Release(ctx))
	_, err = d.AcquireLease(ctx, "validation-cycle", time.Hour)
	assert.ErrorIs(t, err, ErrLeaseHeld)
	require.NoError(t, fresh.Release(ctx))
}

func TestAcquireLease_RejectsZeroTTL(t *testing.T) {
	d := newTestDB(t)
	_, err := d.AcquireLease(context.Background(), "x", 0)
	assert.Error(t, err)
}
