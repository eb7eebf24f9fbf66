package models

import (
	"log"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Company{},
		&MonthlySummary{}, &SnapshotBreakdown{}, &CounterpartyBreakdown{},
		&LedgerMonthlyBalance{},
		&CurrentBalance{}, &CurrentLiquidity{},
		&Metric{}, &MetricRun{},
		&RecomputeLock{},
		&Alert{},
		&TermMapping{},
		&BankTransaction{}, &BankBalanceRecord{},
		&RecomputeEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
