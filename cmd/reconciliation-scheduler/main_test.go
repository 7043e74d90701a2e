package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type recordingRunner struct {
	dates   []time.Time
	periods [][2]int
}

func (r *recordingRunner) RunBatchForDate(ctx context.Context, date time.Time) (*models.DateBatchResult, error) {
	r.dates = append(r.dates, date)
	return &models.DateBatchResult{Date: date}, nil
}

func (r *recordingRunner) RunBatchForPeriod(ctx context.Context, year, month int) (*models.BatchResult, error) {
	r.periods = append(r.periods, [2]int{year, month})
	return &models.BatchResult{Year: year, Month: month}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPreviousDay(t *testing.T) {
	yangon, err := time.LoadLocation("Asia/Yangon")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{"utc", time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC), time.UTC, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"year boundary", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)},
		// 20:00 UTC is already the next day in Yangon (+06:30)
		{"local day", time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC), yangon, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := previousDay(tt.now, tt.loc); !got.Equal(tt.want) {
			t.Fatalf("%s: previousDay = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		now       time.Time
		wantYear  int
		wantMonth int
	}{
		{time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC), 2024, 2},
		{time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), 2023, 12},
		{time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC), 2024, 2},
	}
	for _, tt := range tests {
		y, m := previousMonth(tt.now, time.UTC)
		if y != tt.wantYear || m != tt.wantMonth {
			t.Fatalf("previousMonth(%s) = %d-%d, want %d-%d", tt.now, y, m, tt.wantYear, tt.wantMonth)
		}
	}
}

func TestJobsRunPreviousPeriods(t *testing.T) {
	runner := &recordingRunner{}
	j := &jobs{
		runner: runner,
		logger: quietLogger(),
		loc:    time.UTC,
		now:    func() time.Time { return time.Date(2024, 4, 1, 1, 30, 0, 0, time.UTC) },
	}
	j.daily(context.Background())
	j.monthly(context.Background())

	if len(runner.dates) != 1 || !runner.dates[0].Equal(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("daily dates = %v", runner.dates)
	}
	if len(runner.periods) != 1 || runner.periods[0] != [2]int{2024, 3} {
		t.Fatalf("monthly periods = %v", runner.periods)
	}
}

func TestScheduleRegistersJobs(t *testing.T) {
	j := &jobs{runner: &recordingRunner{}, logger: quietLogger(), loc: time.UTC, now: time.Now}

	c := cron.New()
	if err := j.schedule(context.Background(), c, defaultDailySchedule, defaultMonthlySchedule); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := len(c.Entries()); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}

	c = cron.New()
	if err := j.schedule(context.Background(), c, "", defaultMonthlySchedule); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := len(c.Entries()); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}

	if err := j.schedule(context.Background(), cron.New(), "not a spec", ""); err == nil {
		t.Fatalf("expected error for invalid spec")
	}
}
