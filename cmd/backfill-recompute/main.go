package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
	"bitbucket.org/mmdatafocus/cfo_backend/workflow"
)

func main() {
	companyID := flag.String("company-id", "", "Optional: backfill only one company. If empty, backfills all active companies.")
	fromMonth := flag.String("from-month", "", "Optional: earliest month to rebuild (YYYY-MM). Defaults to the standard rebuild window.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	models.MigrateTable()

	if *fromMonth != "" {
		if _, err := utils.NormalizeMonthKey(*fromMonth); err != nil {
			fmt.Fprintf(os.Stderr, "invalid from-month %q: %v\n", *fromMonth, err)
			os.Exit(1)
		}
	}

	var companies []models.Company
	query := db.WithContext(utils.SetSkipCompanyScopeInContext(ctx, true)).
		Model(&models.Company{}).
		Where("is_active = ?", true)
	if strings.TrimSpace(*companyID) != "" {
		query = query.Where("id = ?", strings.TrimSpace(*companyID))
	}
	if err := query.Find(&companies).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list companies: %v\n", err)
		os.Exit(1)
	}
	if len(companies) == 0 {
		fmt.Fprintln(os.Stderr, "no companies found to backfill")
		return
	}

	logger := config.GetLogger()
	recomputer := workflow.NewRecomputer(db, logger)

	failed := 0
	for _, company := range companies {
		runCtx := utils.SetCompanyIdInContext(ctx, company.Id)
		result, err := recomputer.Recompute(runCtx, workflow.RecomputeOptions{
			CompanyId:    company.Id,
			SourceSystem: company.SourceSystem,
			JobKey:       "backfill",
			SyncedAt:     time.Now().UTC(),
			AmendedMonth: *fromMonth,
		})
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "company %s: backfill failed: %v\n", company.Id, err)
			continue
		}
		if result.Skipped {
			fmt.Printf("company %s: skipped (%s)\n", company.Id, result.SkipReason)
			continue
		}
		fmt.Printf("company %s: rebuilt %d months, %d metrics written\n",
			company.Id, len(result.Months), result.Metrics.Written)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
