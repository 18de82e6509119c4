package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mirek/vita/internal/adapters/repository"
	service "github.com/mirek/vita/internal/app"
	"github.com/mirek/vita/internal/domain/insight"
	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/internal/domain/stats"
	"github.com/mirek/vita/internal/domain/summary"
	"github.com/mirek/vita/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const garminCSV = `Date,Steps,Distance (km),Calories,Active Minutes,Resting Heart Rate,Sleep Duration (h),HRV (ms)
2025-08-01,10432,7.2,2310,42,52,7.5,68
2025-08-02,8211,5.4,2105,35,54,6.9,71
`

// gatedStore delays upserts until the gate opens, pinning jobs inside
// the persisting state.
type gatedStore struct {
	repository.Store
	gate chan struct{}
}

func (g *gatedStore) UpsertRecords(ctx context.Context, records []model.Record) (int, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return g.Store.UpsertRecords(ctx, records)
}

// waitForJob polls the submission until it reaches a terminal state.
func waitForJob(ctx context.Context, svc *service.Service, id uuid.UUID) (model.Job, bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Job(ctx, id)
		if err == nil && job.State.Terminal() {
			return job, true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return model.Job{}, false
}

// submitEventually retries a submission while the previous run's claim
// is still being released.
func submitEventually(ctx context.Context, svc *service.Service, userID, path string) (model.Job, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := svc.IngestFile(ctx, userID, path, model.ProviderGarmin, false)
		if err == nil || !errors.Is(err, service.ErrDuplicateSubmission) || time.Now().After(deadline) {
			return job, err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServiceLifecycle(t *testing.T) {
	convey.Convey("Given a service that has not started", t, func() {
		ctx := context.Background()
		svc := service.New()

		convey.Convey("Then every operation reports not started", func() {
			_, err := svc.IngestFile(ctx, "user-1", "export.csv", model.ProviderGarmin, false)
			convey.So(err, convey.ShouldEqual, service.ErrNotStarted)

			_, _, err = svc.RunInsightCycle(ctx, "user-1")
			convey.So(err, convey.ShouldEqual, service.ErrNotStarted)

			_, err = svc.Insights(ctx, "user-1")
			convey.So(err, convey.ShouldEqual, service.ErrNotStarted)

			convey.So(svc.DeleteUser(ctx, "user-1"), convey.ShouldEqual, service.ErrNotStarted)
			convey.So(svc.GetStats()["started"], convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given a running service", t, func() {
		ctx := context.Background()
		st, err := repository.New(ctx, repository.MemoryPath)
		convey.So(err, convey.ShouldBeNil)

		svc := service.New(
			service.WithStore(st),
			service.WithWorkerCount(2),
			service.WithQueueSize(16),
			service.WithInsightInterval(time.Hour),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)

		convey.Reset(func() {
			svc.Stop()
			_ = st.Close()
		})

		convey.Convey("Then starting again is a no-op", func() {
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
		})

		convey.Convey("Then stats reflect the running components", func() {
			got := svc.GetStats()
			convey.So(got["started"], convey.ShouldBeTrue)
			convey.So(got["worker_count"], convey.ShouldEqual, 2)
			convey.So(got["queue_length"], convey.ShouldEqual, 0)
			convey.So(got["total_records"], convey.ShouldEqual, 0)
			convey.So(got["pending_claims"], convey.ShouldEqual, 0)
		})

		convey.Convey("When the service stops", func() {
			svc.Stop()

			convey.Convey("Then operations report not started and a second stop is safe", func() {
				_, err := svc.Insights(ctx, "user-1")
				convey.So(err, convey.ShouldEqual, service.ErrNotStarted)
				svc.Stop()
			})
		})
	})
}

func TestServiceIngestion(t *testing.T) {
	convey.Convey("Given a running service", t, func() {
		ctx := context.Background()
		st, err := repository.New(ctx, repository.MemoryPath)
		convey.So(err, convey.ShouldBeNil)

		svc := service.New(
			service.WithStore(st),
			service.WithWorkerCount(2),
			service.WithInsightInterval(time.Hour),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)

		convey.Reset(func() {
			svc.Stop()
			_ = st.Close()
		})

		convey.Convey("When submitting a garmin export", func() {
			path := filepath.Join(t.TempDir(), "garmin.csv")
			convey.So(os.WriteFile(path, []byte(garminCSV), 0o600), convey.ShouldBeNil)

			job, err := svc.IngestFile(ctx, "user-1", path, model.ProviderGarmin, false)
			convey.So(err, convey.ShouldBeNil)
			convey.So(job.State, convey.ShouldEqual, model.JobQueued)
			convey.So(job.SourceHash, convey.ShouldNotBeEmpty)

			convey.Convey("Then the job runs to completion in the background", func() {
				done, ok := waitForJob(ctx, svc, job.ID)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(done.State, convey.ShouldEqual, model.JobCompleted)
				convey.So(done.PersistedCount, convey.ShouldEqual, 14)
				convey.So(done.Provider, convey.ShouldEqual, model.ProviderGarmin)
				convey.So(st.Count(ctx), convey.ShouldEqual, 14)

				history, err := svc.Jobs(ctx, "user-1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(history, convey.ShouldHaveLength, 1)

				convey.Convey("And the same export may be submitted again afterwards", func() {
					again, err := submitEventually(ctx, svc, "user-1", path)
					convey.So(err, convey.ShouldBeNil)

					redone, ok := waitForJob(ctx, svc, again.ID)
					convey.So(ok, convey.ShouldBeTrue)
					convey.So(redone.State, convey.ShouldEqual, model.JobCompleted)
					convey.So(st.Count(ctx), convey.ShouldEqual, 14)
				})
			})
		})

		convey.Convey("When the export is not a recognized format", func() {
			path := filepath.Join(t.TempDir(), "notes.txt")
			convey.So(os.WriteFile(path, []byte("hello world"), 0o600), convey.ShouldBeNil)

			job, err := svc.IngestFile(ctx, "user-1", path, "", false)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the job fails terminally", func() {
				done, ok := waitForJob(ctx, svc, job.ID)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(done.State, convey.ShouldEqual, model.JobFailed)
				convey.So(done.PersistedCount, convey.ShouldEqual, 0)
				convey.So(done.ErrorLog, convey.ShouldContainSubstring, "unsupported")
			})
		})

		convey.Convey("When the export path does not exist", func() {
			_, err := svc.IngestFile(ctx, "user-1", filepath.Join(t.TempDir(), "missing.csv"), "", false)

			convey.Convey("Then the submission is rejected up front", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "hashing export")
			})
		})

		convey.Convey("When running a dry run", func() {
			path := filepath.Join(t.TempDir(), "garmin.csv")
			convey.So(os.WriteFile(path, []byte(garminCSV), 0o600), convey.ShouldBeNil)

			job, err := svc.IngestFile(ctx, "user-2", path, model.ProviderGarmin, true)

			convey.Convey("Then counts come back without a single store write", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(job.State, convey.ShouldEqual, model.JobCompleted)
				convey.So(job.PersistedCount, convey.ShouldEqual, 14)
				convey.So(job.DryRun, convey.ShouldBeTrue)

				_, err = svc.Job(ctx, job.ID)
				convey.So(err, convey.ShouldEqual, repository.ErrNotFound)
				convey.So(st.Count(ctx), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestServiceDuplicateGuard(t *testing.T) {
	convey.Convey("Given a service whose store blocks persists until released", t, func() {
		ctx := context.Background()
		inner, err := repository.New(ctx, repository.MemoryPath)
		convey.So(err, convey.ShouldBeNil)

		gate := make(chan struct{})
		svc := service.New(
			service.WithStore(&gatedStore{Store: inner, gate: gate}),
			service.WithWorkerCount(1),
			service.WithInsightInterval(time.Hour),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)

		convey.Reset(func() {
			select {
			case <-gate:
			default:
				close(gate)
			}
			svc.Stop()
			_ = inner.Close()
		})

		path := filepath.Join(t.TempDir(), "garmin.csv")
		convey.So(os.WriteFile(path, []byte(garminCSV), 0o600), convey.ShouldBeNil)

		convey.Convey("When the same export is submitted twice while the first is in flight", func() {
			first, err := svc.IngestFile(ctx, "user-1", path, model.ProviderGarmin, false)
			convey.So(err, convey.ShouldBeNil)

			_, dup := svc.IngestFile(ctx, "user-1", path, model.ProviderGarmin, false)

			convey.Convey("Then the duplicate is rejected and the original still completes", func() {
				convey.So(errors.Is(dup, service.ErrDuplicateSubmission), convey.ShouldBeTrue)
				convey.So(svc.GetStats()["pending_claims"], convey.ShouldEqual, 1)

				close(gate)
				done, ok := waitForJob(ctx, svc, first.ID)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(done.State, convey.ShouldEqual, model.JobCompleted)
				convey.So(done.PersistedCount, convey.ShouldEqual, 14)
			})
		})

		convey.Convey("When a different user submits the same content", func() {
			_, err := svc.IngestFile(ctx, "user-1", path, model.ProviderGarmin, false)
			convey.So(err, convey.ShouldBeNil)

			_, other := svc.IngestFile(ctx, "user-2", path, model.ProviderGarmin, false)

			convey.Convey("Then the claim does not cross users", func() {
				convey.So(other, convey.ShouldBeNil)
			})
		})
	})
}

func TestServiceInsights(t *testing.T) {
	convey.Convey("Given a service with a month of correlated history", t, func() {
		ctx := context.Background()
		st, err := repository.New(ctx, repository.MemoryPath)
		convey.So(err, convey.ShouldBeNil)

		rule := insight.Rule{
			RuleID:                "sleep-rhr",
			PredicateMetric:       model.MetricSleepDuration,
			EffectMetric:          model.MetricRestingHeartRate,
			WindowDays:            28,
			MaxLagDays:            1,
			MinSamples:            14,
			SignificanceThreshold: 0.05,
		}
		svc := service.New(
			service.WithStore(st),
			service.WithWorkerCount(1),
			service.WithRules([]insight.Rule{rule}),
			service.WithInsightInterval(time.Hour),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)

		convey.Reset(func() {
			svc.Stop()
			_ = st.Close()
		})

		// Sleep drives the next day's resting heart rate exactly, so
		// the rule correlates at lag 1.
		today := stats.DayOf(time.Now())
		pattern := []float64{350, 470, 410, 385, 445, 500, 365}
		var records []model.Record
		for i := 29; i >= 1; i-- {
			day := today.AddDate(0, 0, -i)
			sleep := pattern[i%len(pattern)]
			records = append(records,
				model.Record{
					UserID:    "user-1",
					Metric:    model.MetricSleepDuration,
					Timestamp: day,
					Value:     sleep,
					Unit:      model.MetricSleepDuration.Unit(),
					Provider:  model.ProviderGarmin,
				},
				model.Record{
					UserID:    "user-1",
					Metric:    model.MetricRestingHeartRate,
					Timestamp: day.AddDate(0, 0, 1),
					Value:     100 - sleep/20,
					Unit:      model.MetricRestingHeartRate.Unit(),
					Provider:  model.ProviderGarmin,
				},
			)
		}
		n, err := st.UpsertRecords(ctx, records)
		convey.So(err, convey.ShouldBeNil)
		convey.So(n, convey.ShouldEqual, len(records))

		convey.Convey("When running an insight cycle", func() {
			res, anomalies, err := svc.RunInsightCycle(ctx, "user-1")

			convey.Convey("Then the correlation publishes to the feed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Evaluated, convey.ShouldEqual, 1)
				convey.So(res.Published, convey.ShouldHaveLength, 1)
				convey.So(res.Published[0].RuleID, convey.ShouldEqual, "sleep-rhr")
				convey.So(res.Published[0].LagDays, convey.ShouldEqual, 1)
				convey.So(res.Published[0].EffectSize, convey.ShouldBeLessThan, 0)
				convey.So(anomalies, convey.ShouldBeEmpty)

				feed, err := svc.Insights(ctx, "user-1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(feed, convey.ShouldHaveLength, 1)
				convey.So(feed[0].RenderedText, convey.ShouldNotBeEmpty)
			})
		})

		convey.Convey("When a metric collapses against its baseline", func() {
			var hrv []model.Record
			for i := 30; i >= 1; i-- {
				hrv = append(hrv, model.Record{
					UserID:    "user-2",
					Metric:    model.MetricHRV,
					Timestamp: today.AddDate(0, 0, -i),
					Value:     60,
					Unit:      model.MetricHRV.Unit(),
					Provider:  model.ProviderGarmin,
				})
			}
			hrv = append(hrv, model.Record{
				UserID:    "user-2",
				Metric:    model.MetricHRV,
				Timestamp: today,
				Value:     35,
				Unit:      model.MetricHRV.Unit(),
				Provider:  model.ProviderGarmin,
			})
			_, err := st.UpsertRecords(ctx, hrv)
			convey.So(err, convey.ShouldBeNil)

			_, anomalies, err := svc.RunInsightCycle(ctx, "user-2")

			convey.Convey("Then the drop is reported next to the cycle", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(anomalies, convey.ShouldHaveLength, 1)
				convey.So(anomalies[0].Kind, convey.ShouldEqual, summary.KindHRVDrop)
				convey.So(anomalies[0].Metric, convey.ShouldEqual, model.MetricHRV)
				convey.So(anomalies[0].Baseline, convey.ShouldAlmostEqual, 60, 0.01)
				convey.So(anomalies[0].Text, convey.ShouldContainSubstring, "HRV")
			})
		})

		convey.Convey("When building summaries", func() {
			daily, derr := svc.DailySummary(ctx, "user-1")
			weekly, werr := svc.WeeklyReport(ctx, "user-1")

			convey.Convey("Then they aggregate the stored series", func() {
				convey.So(derr, convey.ShouldBeNil)
				convey.So(daily.UserID, convey.ShouldEqual, "user-1")
				convey.So(daily.RestingHR, convey.ShouldNotBeNil)

				convey.So(werr, convey.ShouldBeNil)
				convey.So(weekly.Current.DaysWithData, convey.ShouldBeGreaterThan, 0)
				convey.So(weekly.Current.AvgRestingHR, convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When the user is forgotten", func() {
			_, _, err := svc.RunInsightCycle(ctx, "user-1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(svc.DeleteUser(ctx, "user-1"), convey.ShouldBeNil)

			convey.Convey("Then no trace of the user remains", func() {
				feed, err := svc.Insights(ctx, "user-1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(feed, convey.ShouldBeEmpty)

				history, err := svc.Jobs(ctx, "user-1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(history, convey.ShouldBeEmpty)

				convey.So(st.Count(ctx), convey.ShouldEqual, 0)
			})
		})
	})
}
