package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
	"bitbucket.org/mmdatafocus/cfo_backend/workflow"
)

// Nightly sweep that recomputes every active company, for dashboards that
// must stay current even when a connector has not synced recently.
const defaultSchedule = "0 2 * * *"

const defaultConcurrency = 4

func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	logger := config.GetLogger()
	recomputer := workflow.NewRecomputer(db, logger)

	schedule := strings.TrimSpace(os.Getenv("RECOMPUTE_SCHEDULE"))
	if schedule == "" {
		schedule = defaultSchedule
	}
	concurrency := defaultConcurrency
	if v := strings.TrimSpace(os.Getenv("RECOMPUTE_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := sweepAllCompanies(sigCtx, logger, recomputer, concurrency); err != nil {
			config.LogError(logger, "main.go", "sweepAllCompanies", "Sweep", nil, err)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid schedule %q: %v\n", schedule, err)
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"schedule":    schedule,
		"concurrency": concurrency,
	}).Info("recompute.scheduler.started")

	c.Start()
	<-sigCtx.Done()

	// Let an in-flight sweep finish before exiting.
	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func sweepAllCompanies(ctx context.Context, logger *logrus.Logger, recomputer *workflow.Recomputer, concurrency int) error {
	db := config.GetDB()
	var companies []models.Company
	err := db.WithContext(utils.SetSkipCompanyScopeInContext(ctx, true)).
		Model(&models.Company{}).
		Where("is_active = ?", true).
		Find(&companies).Error
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, company := range companies {
		company := company
		g.Go(func() error {
			runCtx := utils.SetCompanyIdInContext(gctx, company.Id)
			result, err := recomputer.Recompute(runCtx, workflow.RecomputeOptions{
				CompanyId:    company.Id,
				SourceSystem: company.SourceSystem,
				JobKey:       "scheduled",
				SyncedAt:     time.Now().UTC(),
			})
			if err != nil {
				// One failing company must not cancel the sweep.
				config.LogError(logger, "main.go", "sweepAllCompanies", "Recompute", company.Id, err)
				return nil
			}
			if result.Skipped {
				logger.WithFields(logrus.Fields{
					"company_id": company.Id,
					"reason":     result.SkipReason,
				}).Info("recompute.scheduler.skipped")
			}
			return nil
		})
	}
	return g.Wait()
}
