package risk

import (
	"math"
	"testing"
	"time"

	"awarerisk.org/internal/activity"
	"awarerisk.org/internal/phishing"
)

func TestPhishingScore(t *testing.T) {
	if got := phishingScore(nil); got != 50 {
		t.Fatalf("no events: got %v, want 50", got)
	}

	events := make([]phishing.Event, 10)
	for i := 0; i < 4; i++ {
		events[i].Clicked = true
	}
	for i := 5; i < 7; i++ {
		events[i].Reported = true
	}
	// 100 - 0.4*50 + 0.2*30
	if got := phishingScore(events); math.Abs(got-86) > 1e-9 {
		t.Fatalf("mixed events: got %v, want 86", got)
	}

	perfect := []phishing.Event{{Reported: true}, {Reported: true}}
	if got := phishingScore(perfect); got != 100 {
		t.Fatalf("all reported: got %v, want 100", got)
	}
}

func TestCompletionScore(t *testing.T) {
	done := activity.Enrollment{Status: activity.EnrollmentCompleted}
	open := activity.Enrollment{Status: activity.EnrollmentInProgress}
	cases := []struct {
		in   []activity.Enrollment
		want float64
	}{
		{nil, 0},
		{[]activity.Enrollment{done, done}, 100},
		{[]activity.Enrollment{done, open}, 50},
		{[]activity.Enrollment{open}, 0},
	}
	for i, tc := range cases {
		if got := completionScore(tc.in); got != tc.want {
			t.Fatalf("case %d: got %v, want %v", i, got, tc.want)
		}
	}
}

func TestRecencyScore(t *testing.T) {
	cases := []struct {
		days int
		want float64
	}{
		{0, 100},
		{30, 100},
		{45, 85},
		{90, 70},
		{135, 55},
		{180, 40},
		{365, 20},
		{547, 10.03},
		{730, 0},
		{2000, 0},
	}
	for _, tc := range cases {
		if got := recencyScore(tc.days); math.Abs(got-tc.want) > 0.01 {
			t.Fatalf("days=%d: got %v, want %v", tc.days, got, tc.want)
		}
	}
}

func TestQuizScore(t *testing.T) {
	if got := quizScore(nil); got != 50 {
		t.Fatalf("no attempts: got %v, want 50", got)
	}

	attempts := []activity.QuizAttempt{
		{Score: 90, Passed: true},
		{Score: 70, Passed: true},
		{Score: 40, Passed: false},
		{Score: 80, Passed: true},
	}
	// mean 70, pass rate 75
	if got := quizScore(attempts); got != 72.5 {
		t.Fatalf("got %v, want 72.5", got)
	}
}

func TestIncidentScore(t *testing.T) {
	for n, want := range map[int]float64{0: 100, 1: 85, 2: 70, 3: 60, 4: 50, 9: 0, 20: 0} {
		if got := incidentScore(n); got != want {
			t.Fatalf("incidents=%d: got %v, want %v", n, got, want)
		}
	}
}

func TestLoginScore(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	sessions := func(n, offHours, ips int) []activity.Session {
		out := make([]activity.Session, n)
		for i := range out {
			at := base.Add(time.Duration(i) * time.Minute)
			if i < offHours {
				at = time.Date(2026, 3, 2, 23, i%60, 0, 0, time.UTC)
			}
			out[i] = activity.Session{IPAddress: "10.0.0." + string(rune('a'+i%ips)), CreatedAt: at}
		}
		return out
	}

	cases := []struct {
		name             string
		n, offHours, ips int
		failed           int
		want             float64
	}{
		{"normal", 20, 0, 1, 0, 100},
		{"exactly 30% off-hours", 20, 6, 1, 0, 100},
		{"off-hours", 20, 7, 1, 0, 85},
		{"many addresses", 20, 0, 6, 0, 85},
		{"failed logins", 20, 0, 1, 4, 85},
		{"all anomalies", 20, 10, 8, 5, 55},
	}
	for _, tc := range cases {
		if got := loginScore(sessions(tc.n, tc.offHours, tc.ips), tc.failed, time.UTC); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLoginScoreUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// 15:00 UTC is 23:00 at UTC+8
	late := make([]activity.Session, 10)
	for i := range late {
		late[i] = activity.Session{IPAddress: "10.0.0.1", CreatedAt: time.Date(2026, 3, 2, 15, i, 0, 0, time.UTC)}
	}
	if got := loginScore(late, 0, time.UTC); got != 100 {
		t.Fatalf("in UTC: got %v, want 100", got)
	}
	if got := loginScore(late, 0, loc); got != 85 {
		t.Fatalf("in UTC+8: got %v, want 85", got)
	}
}
