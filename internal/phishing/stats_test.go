package phishing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"awarerisk.org/internal/directory"
	"awarerisk.org/internal/phishing"
)

func TestCampaignStatsRates(t *testing.T) {
	var users []directory.User
	var ids []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("u%02d", i)
		users = append(users, directory.User{ID: id})
		ids = append(ids, id)
	}
	f := newFixture(t, users...)
	campaign := f.launch(t, ids...)

	f.clock.Advance(10 * time.Minute)
	f.record(t, "u00", campaign, phishing.ActionClicked)
	f.record(t, "u01", campaign, phishing.ActionClicked)
	f.clock.Advance(10 * time.Minute)
	f.record(t, "u02", campaign, phishing.ActionClicked)
	f.record(t, "u02", campaign, phishing.ActionReported)
	f.record(t, "u03", campaign, phishing.ActionReported)
	f.record(t, "u04", campaign, phishing.ActionOpened)

	st, err := f.tracker.CampaignStats(context.Background(), tenant, campaign)
	require.NoError(t, err)
	assert.Equal(t, 10, st.TotalSent)
	assert.Equal(t, 3, st.Clicked)
	assert.Equal(t, 2, st.Reported)
	assert.Equal(t, 1, st.Opened)
	assert.Equal(t, 30.0, st.ClickRate)
	assert.Equal(t, 20.0, st.ReportRate)
	assert.Equal(t, 10.0, st.OpenRate)
	require.NotNil(t, st.AvgMinutesToClick)
	assert.InDelta(t, 13.33, *st.AvgMinutesToClick, 0.001)
	require.NotNil(t, st.AvgMinutesToReport)
	assert.Equal(t, 20.0, *st.AvgMinutesToReport)
}

func TestCampaignStatsWithoutActions(t *testing.T) {
	f := newFixture(t, directory.User{ID: "u1"})
	campaign := f.launch(t, "u1")

	st, err := f.tracker.CampaignStats(context.Background(), tenant, campaign)
	require.NoError(t, err)
	assert.Nil(t, st.AvgMinutesToClick)
	assert.Nil(t, st.AvgMinutesToReport)
	assert.Zero(t, st.ClickRate)
}

func TestTenantStatsEmpty(t *testing.T) {
	f := newFixture(t)
	st, err := f.tracker.TenantStats(context.Background(), tenant, phishing.Window{})
	require.NoError(t, err)
	assert.Equal(t, phishing.TenantStats{}, st)
}

func TestTenantStatsWindow(t *testing.T) {
	f := newFixture(t, directory.User{ID: "u1"}, directory.User{ID: "u2"})
	early := f.launch(t, "u1", "u2")
	f.record(t, "u1", early, phishing.ActionClicked)

	f.clock.Advance(30 * 24 * time.Hour)
	cutoff := f.clock.Now()
	late := f.launch(t, "u1")
	f.record(t, "u1", late, phishing.ActionReported)

	ctx := context.Background()
	all, err := f.tracker.TenantStats(ctx, tenant, phishing.Window{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.TotalSimulations)
	assert.Equal(t, 2, all.Campaigns)
	assert.Equal(t, 33.33, all.ClickRate)

	recent, err := f.tracker.TenantStats(ctx, tenant, phishing.Window{From: cutoff})
	require.NoError(t, err)
	assert.Equal(t, 1, recent.TotalSimulations)
	assert.Equal(t, 1, recent.Campaigns)
	assert.Equal(t, 0.0, recent.ClickRate)
	assert.Equal(t, 100.0, recent.ReportRate)
}

func TestUserHistoryNewestFirst(t *testing.T) {
	f := newFixture(t, directory.User{ID: "u1"})
	first := f.launch(t, "u1")
	f.clock.Advance(time.Hour)
	second := f.launch(t, "u1")
	f.record(t, "u1", second, phishing.ActionClicked)

	h, err := f.tracker.UserHistory(context.Background(), tenant, "u1")
	require.NoError(t, err)
	require.Len(t, h.Events, 2)
	assert.Equal(t, second, h.Events[0].CampaignID)
	assert.Equal(t, first, h.Events[1].CampaignID)
	assert.Equal(t, 50.0, h.ClickRate)
	assert.Equal(t, 0.0, h.ReportRate)

	empty, err := f.tracker.UserHistory(context.Background(), tenant, "ghost")
	require.NoError(t, err)
	assert.Empty(t, empty.Events)
	assert.Zero(t, empty.ClickRate)
}

func TestVulnerableUsersAndBestPerformers(t *testing.T) {
	f := newFixture(t,
		directory.User{ID: "alice", Name: "Alice", Email: "alice@acme.test", DepartmentID: "eng"},
		directory.User{ID: "bob", Name: "Bob"},
		directory.User{ID: "carol", Name: "Carol"},
		directory.User{ID: "dave", Name: "Dave"},
	)
	c1 := f.launch(t, "alice", "bob", "carol", "dave")
	c2 := f.launch(t, "alice", "bob", "carol", "dave")

	// alice and bob click everything; carol reports everything; dave ignores
	for _, c := range []string{c1, c2} {
		f.record(t, "alice", c, phishing.ActionClicked)
		f.record(t, "bob", c, phishing.ActionClicked)
		f.record(t, "carol", c, phishing.ActionReported)
	}

	ctx := context.Background()
	vuln, err := f.tracker.VulnerableUsers(ctx, tenant, 3)
	require.NoError(t, err)
	require.Len(t, vuln, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{vuln[0].UserID, vuln[1].UserID, vuln[2].UserID})
	assert.Equal(t, 100.0, vuln[0].ClickRate)
	assert.Equal(t, "Alice", vuln[0].Name)
	assert.Equal(t, "alice@acme.test", vuln[0].Email)

	best, err := f.tracker.BestPerformers(ctx, tenant, 2)
	require.NoError(t, err)
	require.Len(t, best, 2)
	assert.Equal(t, "carol", best[0].UserID)
	assert.Equal(t, 4, best[0].Score)
	assert.Equal(t, "dave", best[1].UserID)
	assert.Equal(t, 0, best[1].Score)
}

func TestDepartmentComparison(t *testing.T) {
	f := newFixture(t,
		directory.User{ID: "a", DepartmentID: "eng"},
		directory.User{ID: "b", DepartmentID: "eng"},
		directory.User{ID: "c"},
	)
	campaign := f.launch(t, "a", "b", "c")
	f.record(t, "a", campaign, phishing.ActionClicked)
	f.record(t, "c", campaign, phishing.ActionReported)

	depts, err := f.tracker.DepartmentComparison(context.Background(), tenant)
	require.NoError(t, err)
	require.Len(t, depts, 2)

	assert.Equal(t, "eng", depts[0].DepartmentID)
	assert.Equal(t, 2, depts[0].Users)
	assert.Equal(t, 2, depts[0].Total)
	assert.Equal(t, 50.0, depts[0].ClickRate)

	assert.Equal(t, directory.UnassignedDepartment, depts[1].DepartmentID)
	assert.Equal(t, 100.0, depts[1].ReportRate)
}

func TestRecommendDifficulty(t *testing.T) {
	cases := []struct {
		name    string
		clicks  int
		reports int
		want    phishing.Difficulty
	}{
		{name: "vigilant", clicks: 0, reports: 8, want: phishing.DifficultyExpert},
		{name: "good", clicks: 1, reports: 6, want: phishing.DifficultyHard},
		{name: "struggling", clicks: 6, reports: 0, want: phishing.DifficultyEasy},
		{name: "average", clicks: 3, reports: 3, want: phishing.DifficultyMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, directory.User{ID: "u1"})
			for i := 0; i < 10; i++ {
				c := f.launch(t, "u1")
				if i < tc.clicks {
					f.record(t, "u1", c, phishing.ActionClicked)
				}
				if i >= 10-tc.reports {
					f.record(t, "u1", c, phishing.ActionReported)
				}
				f.clock.Advance(time.Minute)
			}
			got, err := f.tracker.RecommendDifficulty(context.Background(), tenant, "u1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRecommendDifficultyWithoutHistory(t *testing.T) {
	f := newFixture(t)
	got, err := f.tracker.RecommendDifficulty(context.Background(), tenant, "nobody")
	require.NoError(t, err)
	assert.Equal(t, phishing.DifficultyMedium, got)
}
