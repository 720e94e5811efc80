package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/reasonloop/agentloop"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setupSQLiteStore(t *testing.T, ttl time.Duration, maxCalls int) (*SQLiteStore, *fakeClock) {
	t.Helper()
	s, err := OpenSQLite(":memory:", ttl, maxCalls)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.now = clock.now
	return s, clock
}

func TestSQLiteStore_RecordAndLoad(t *testing.T) {
	ctx := context.Background()
	s, clock := setupSQLiteStore(t, time.Hour, 0)

	calls := []agentloop.RecentCall{
		{FunctionName: "search_files", Parameters: map[string]any{"query": "q3 revenue", "max_results": float64(5)}, At: clock.t},
		{FunctionName: "read_file", Parameters: map[string]any{"path": "report.md"}},
	}
	require.NoError(t, s.Record(ctx, "s1", calls, []string{"files", "reports"}))

	prior, err := s.PriorContext(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "s1", prior.SessionID)
	require.Len(t, prior.RecentCalls, 2)
	assert.Equal(t, "search_files", prior.RecentCalls[0].FunctionName)
	assert.Equal(t, "q3 revenue", prior.RecentCalls[0].Parameters["query"])
	assert.Equal(t, float64(5), prior.RecentCalls[0].Parameters["max_results"])
	assert.True(t, prior.RecentCalls[0].At.Equal(clock.t))
	assert.Equal(t, []string{"files", "reports"}, prior.ActiveSkills)
}

func TestSQLiteStore_UnknownSession(t *testing.T) {
	s, _ := setupSQLiteStore(t, time.Hour, 0)
	prior, err := s.PriorContext(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, prior)
}

func TestSQLiteStore_MaxCallsAndSkillsReplace(t *testing.T) {
	ctx := context.Background()
	s, _ := setupSQLiteStore(t, time.Hour, 2)

	require.NoError(t, s.Record(ctx, "s", []agentloop.RecentCall{{FunctionName: "a"}, {FunctionName: "b"}}, []string{"x"}))
	require.NoError(t, s.Record(ctx, "s", []agentloop.RecentCall{{FunctionName: "c"}}, []string{"y"}))

	prior, err := s.PriorContext(ctx, "s")
	require.NoError(t, err)
	require.Len(t, prior.RecentCalls, 2)
	assert.Equal(t, "b", prior.RecentCalls[0].FunctionName)
	assert.Equal(t, "c", prior.RecentCalls[1].FunctionName)
	assert.Equal(t, []string{"y"}, prior.ActiveSkills)
}

func TestSQLiteStore_TTLAndPrune(t *testing.T) {
	ctx := context.Background()
	s, clock := setupSQLiteStore(t, 10*time.Minute, 0)

	require.NoError(t, s.Record(ctx, "old", []agentloop.RecentCall{{FunctionName: "a"}}, nil))
	clock.advance(11 * time.Minute)

	prior, err := s.PriorContext(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, prior)

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
