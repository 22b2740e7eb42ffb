package cron

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mtowater/waterbilling/internal/billing"
	"github.com/mtowater/waterbilling/internal/metrics"
	"github.com/mtowater/waterbilling/internal/notification"
	"github.com/mtowater/waterbilling/internal/storage"
)

const (
	jobName = "overdue_notices"
	// Advisory lock key for the overdue-notice job. With multiple replicas
	// only the lock holder sends notices for a given cycle.
	lockKey int64 = 77001
)

// Run starts the overdue-notice worker. Each cycle it finds unpaid bills past
// their due date and emails a notice to every customer with an address on
// file. The interval comes from the WORKER_INTERVAL environment variable or
// the overdue_notice_interval setting, as integer seconds or a cron
// expression.
func Run(ctx context.Context, driver, dsn string) error {
	st, err := storage.Open(ctx, storage.Config{Driver: driver, DSN: dsn})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	svc := billing.NewService(st)
	notifier := notification.NewService(st)

	intervalSetting := "86400"
	if raw := os.Getenv("WORKER_INTERVAL"); raw != "" {
		intervalSetting = raw
	}
	if val, err := st.GetSetting(ctx, "overdue_notice_interval"); err == nil && val != "" {
		intervalSetting = val
	}

	getNextRun := func(setting string, from time.Time) time.Time {
		if v, err := strconv.Atoi(setting); err == nil && v > 0 {
			return from.Add(time.Duration(v) * time.Second)
		}
		if sched, err := cron.ParseStandard(setting); err == nil {
			return sched.Next(from)
		}
		return from.Add(24 * time.Hour)
	}

	// Control loop ticker; each tick re-checks the configured interval so
	// operators can change it without a restart.
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	nextRun := time.Now()

	log.Printf("worker starting, interval=%q driver=%s", intervalSetting, driver)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if val, err := st.GetSetting(ctx, "overdue_notice_interval"); err == nil && val != "" && val != intervalSetting {
				log.Printf("worker: interval updated from %q to %q", intervalSetting, val)
				intervalSetting = val
				nextRun = getNextRun(intervalSetting, time.Now())
			}

			if time.Now().Before(nextRun) {
				continue
			}

			started := time.Now()

			gotLock, err := st.AcquireAdvisoryLock(ctx, lockKey)
			if err != nil {
				log.Printf("worker: acquire advisory lock failed: %v", err)
				metrics.UpdateJobMetrics(jobName, started, err)
				nextRun = getNextRun(intervalSetting, time.Now())
				continue
			}
			if !gotLock {
				log.Printf("worker: advisory lock held by another node, skipping cycle")
				nextRun = getNextRun(intervalSetting, time.Now())
				continue
			}

			var runErr error
			func() {
				defer func() {
					if _, err := st.ReleaseAdvisoryLock(ctx, lockKey); err != nil {
						log.Printf("worker: release advisory lock failed: %v", err)
					}
				}()
				runErr = sendOverdueNotices(ctx, svc, notifier)
			}()

			metrics.UpdateJobMetrics(jobName, started, runErr)
			dur := time.Since(started)
			errMsg := ""
			if runErr != nil {
				errMsg = runErr.Error()
			}
			if err := st.UpdateScheduledJob(ctx, jobName, started, dur, runErr == nil, errMsg); err != nil {
				log.Printf("worker: update scheduled_jobs failed: %v", err)
			}

			if runErr != nil {
				log.Printf("worker: job %s completed with error: %v (duration=%s)", jobName, runErr, dur)
			} else {
				log.Printf("worker: job %s completed successfully (duration=%s)", jobName, dur)
			}

			nextRun = getNextRun(intervalSetting, time.Now())
		}
	}
}

func sendOverdueNotices(ctx context.Context, svc *billing.Service, notifier *notification.Service) error {
	overdue, err := svc.ListOverdueBills(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("list overdue bills: %w", err)
	}

	var firstErr error
	sent := 0
	for _, ob := range overdue {
		if ob.Customer.Email == "" {
			continue
		}
		if err := notifier.SendOverdueNotice(ctx, ob.Customer.Email, ob.Customer, ob.Bill, ob.Surcharge); err != nil {
			log.Printf("worker: notice for bill %s failed: %v", ob.Bill.BillID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.OverdueNoticesTotal.Inc()
		sent++
	}

	log.Printf("worker: %d overdue bills, %d notices sent", len(overdue), sent)
	return firstErr
}
