package findings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftleft/compliance/internal/models"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(repo *memRepo, opts ...Option) *Service {
	opts = append([]Option{WithClock(stepClock(epoch))}, opts...)
	return NewService(repo, opts...)
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name      string
		record    Record
		wantField string
		want      Candidate
	}{
		{
			name:      "EmptySummary",
			record:    Record{Summary: "   ", RiskLevel: "high", Source: "code"},
			wantField: "summary",
		},
		{
			name:      "UnknownRisk",
			record:    Record{Summary: "s", RiskLevel: "critical", Source: "code"},
			wantField: "risk_level",
		},
		{
			name:      "UnknownSource",
			record:    Record{Summary: "s", RiskLevel: "low", Source: "email"},
			wantField: "source",
		},
		{
			name:   "NormalizesCase",
			record: Record{Summary: " Open S3 bucket ", RiskLevel: "HIGH", Source: "Screenshot", ControlID: " AC-2 "},
			want:   Candidate{Summary: "Open S3 bucket", RiskLevel: models.RiskHigh, Source: models.SourceScreenshot, ControlID: "AC-2"},
		},
		{
			name:      "MissingSource",
			record:    Record{Summary: "s", RiskLevel: "medium"},
			wantField: "source",
		},
		{
			name:      "BlankSource",
			record:    Record{Summary: "s", RiskLevel: "medium", Source: "  "},
			wantField: "source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.record.Validate()
			if tt.wantField != "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				require.Equal(t, tt.wantField, verr.Field)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestIngest_Duplicate(t *testing.T) {
	repo := newMemRepo("AC-2")
	svc := newTestService(repo)
	ctx := context.Background()

	first, action, err := svc.Ingest(ctx, Record{Summary: "MFA disabled", RiskLevel: "high", Source: "code", ControlID: "AC-2"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, action)
	require.False(t, first.Resolved)

	second, action, err := svc.Ingest(ctx, Record{Summary: "MFA disabled again", RiskLevel: "high", Source: "code", ControlID: "AC-2"})
	require.NoError(t, err)
	require.Equal(t, ActionDuplicate, action)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "MFA disabled", second.Summary)
	require.Equal(t, 1, repo.count())
}

func TestIngest_ResolvedDoesNotBlock(t *testing.T) {
	repo := newMemRepo("AC-2")
	svc := newTestService(repo)
	ctx := context.Background()

	first, _, err := svc.Ingest(ctx, Record{Summary: "MFA disabled", RiskLevel: "high", Source: "code", ControlID: "AC-2"})
	require.NoError(t, err)
	_, err = svc.RecordLinks(ctx, first.ID, models.Links{JiraKey: "SEC-1"})
	require.NoError(t, err)

	ok, err := svc.Resolve(ctx, "SEC-1")
	require.NoError(t, err)
	require.True(t, ok)

	again, action, err := svc.Ingest(ctx, Record{Summary: "MFA disabled", RiskLevel: "high", Source: "code", ControlID: "AC-2"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, action)
	require.NotEqual(t, first.ID, again.ID)
	require.Equal(t, 2, repo.count())
}

func TestIngest_SummaryFallback(t *testing.T) {
	svc := newTestService(newMemRepo())
	ctx := context.Background()

	_, action, err := svc.Ingest(ctx, Record{Summary: "Hard-coded  password!", RiskLevel: "high", Source: "code"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, action)

	_, action, err = svc.Ingest(ctx, Record{Summary: "hard coded password", RiskLevel: "low", Source: "screenshot"})
	require.NoError(t, err)
	require.Equal(t, ActionDuplicate, action)
}

func TestIngest_SummaryMatcher(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, WithMatcher(SummaryMatcher{}))
	ctx := context.Background()

	_, action, err := svc.Ingest(ctx, Record{Summary: "Weak TLS", RiskLevel: "high", Source: "code"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, action)

	_, action, err = svc.Ingest(ctx, Record{Summary: "weak tls", RiskLevel: "medium", Source: "code"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, action)

	_, action, err = svc.Ingest(ctx, Record{Summary: "WEAK TLS.", RiskLevel: "high", Source: "code"})
	require.NoError(t, err)
	require.Equal(t, ActionDuplicate, action)
	require.Equal(t, 2, repo.count())
}

func TestIngest_MatcherFunc(t *testing.T) {
	repo := newMemRepo()
	noMatch := MatcherFunc(func(Candidate) string { return "" })
	svc := newTestService(repo, WithMatcher(noMatch))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, action, err := svc.Ingest(ctx, Record{Summary: "same", RiskLevel: "low", Source: "code"})
		require.NoError(t, err)
		require.Equal(t, ActionCreated, action)
	}
	require.Equal(t, 3, repo.count())
}

func TestIngest_UnknownControl(t *testing.T) {
	svc := newTestService(newMemRepo("AC-2"))

	_, _, err := svc.Ingest(context.Background(), Record{Summary: "s", RiskLevel: "low", Source: "code", ControlID: "ZZ-9"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "control_id", verr.Field)
}

func TestIngest_RetriesOnce(t *testing.T) {
	t.Run("RecoversAfterOneFailure", func(t *testing.T) {
		repo := newMemRepo()
		repo.failInserts(errors.New("connection reset"))
		svc := newTestService(repo)

		f, action, err := svc.Ingest(context.Background(), Record{Summary: "s", RiskLevel: "low", Source: "code"})
		require.NoError(t, err)
		require.Equal(t, ActionCreated, action)
		require.NotNil(t, f)
		require.Equal(t, 2, repo.inserts)
	})

	t.Run("SurfacesSecondFailure", func(t *testing.T) {
		repo := newMemRepo()
		cause := errors.New("connection reset")
		repo.failInserts(cause, cause)
		svc := newTestService(repo)

		_, _, err := svc.Ingest(context.Background(), Record{Summary: "s", RiskLevel: "low", Source: "code"})
		var serr *StoreError
		require.ErrorAs(t, err, &serr)
		require.ErrorIs(t, err, cause)
		require.Equal(t, 2, repo.inserts)
		require.Equal(t, 0, repo.count())
	})
}

func TestIngest_Concurrent(t *testing.T) {
	repo := newMemRepo("AC-2")
	svc := newTestService(repo)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, action, err := svc.Ingest(context.Background(), Record{Summary: "MFA disabled", RiskLevel: "high", Source: "code", ControlID: "AC-2"})
			assert.NoError(t, err)
			if action == ActionCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
	require.Equal(t, 1, repo.count())
}

func TestCheck(t *testing.T) {
	svc := newTestService(newMemRepo("AC-2"))
	ctx := context.Background()
	rec := Record{Summary: "MFA disabled", RiskLevel: "high", Source: "code", ControlID: "AC-2"}

	dup, existing, err := svc.Check(ctx, rec)
	require.NoError(t, err)
	require.False(t, dup)
	require.Nil(t, existing)

	stored, _, err := svc.Ingest(ctx, rec)
	require.NoError(t, err)

	dup, existing, err = svc.Check(ctx, rec)
	require.NoError(t, err)
	require.True(t, dup)
	require.Equal(t, stored.ID, existing.ID)
}

func TestLifecycleScenario(t *testing.T) {
	repo := newMemRepo("AC-2")
	svc := newTestService(repo)
	ctx := context.Background()

	a, action, err := svc.Ingest(ctx, Record{Summary: "Admin account without MFA", RiskLevel: "high", Source: "code", ControlID: "AC-2"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, action)

	b, action, err := svc.Ingest(ctx, Record{Summary: "Login page lacks MFA prompt", RiskLevel: "medium", Source: "screenshot", ControlID: "AC-2"})
	require.NoError(t, err)
	require.Equal(t, ActionDuplicate, action)
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, 1, repo.count())

	_, err = svc.RecordLinks(ctx, a.ID, models.Links{JiraKey: "COMP-42"})
	require.NoError(t, err)
	ok, err := svc.Resolve(ctx, "COMP-42")
	require.NoError(t, err)
	require.True(t, ok)

	resolved, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, resolved.Resolved)

	c, action, err := svc.Ingest(ctx, Record{Summary: "Admin account without MFA", RiskLevel: "high", Source: "code", ControlID: "AC-2"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, action)
	require.NotEqual(t, a.ID, c.ID)
	require.False(t, c.Resolved)
}
