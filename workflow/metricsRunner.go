package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
)

// MetricFailure records one definition that errored or panicked. Failures
// never abort the run; every other definition still gets evaluated.
type MetricFailure struct {
	Key   string `json:"key"`
	Scope string `json:"scope"`
	Month string `json:"month,omitempty"`
	Error string `json:"error"`
}

// MetricRunSummary is the accounting of one runner pass.
type MetricRunSummary struct {
	Total           int
	Written         int
	Skipped         int
	MonthsProcessed int
	Failures        []MetricFailure
	MissingKeys     []string
}

// RunMetrics evaluates the whole catalog against the loaded reader and
// upserts the results. Month-scoped definitions are evaluated once per month
// in months; all other scopes once. Live-scoped definitions read the as-of-now
// balance rows and can be excluded for purely historical rebuilds. A nil
// computed value writes nothing and records the key as missing.
func RunMetrics(tx *gorm.DB, logger *logrus.Logger, reader *SnapshotReader, jobId string, months []string, includeLive bool) (*MetricRunSummary, error) {
	summary := &MetricRunSummary{MonthsProcessed: len(months)}
	computedAt := time.Now().UTC()
	missing := make(map[string]bool)

	for _, def := range MetricCatalog() {
		if def.Scope == models.MetricScopeLive && !includeLive {
			continue
		}
		if def.Scope == models.MetricScopeMonth {
			for _, month := range months {
				summary.Total++
				runOneMetric(tx, logger, reader, def, month, computedAt, summary, missing)
			}
			continue
		}
		summary.Total++
		runOneMetric(tx, logger, reader, def, "", computedAt, summary, missing)
	}

	for key := range missing {
		summary.MissingKeys = append(summary.MissingKeys, key)
	}
	sort.Strings(summary.MissingKeys)

	if err := persistMetricRun(tx, logger, reader.CompanyId(), jobId, summary); err != nil {
		return summary, err
	}

	logger.WithFields(logrus.Fields{
		"company_id": reader.CompanyId(),
		"job_id":     jobId,
		"total":      summary.Total,
		"written":    summary.Written,
		"skipped":    summary.Skipped,
		"failures":   len(summary.Failures),
	}).Info("recompute.metrics.completed")
	return summary, nil
}

func runOneMetric(tx *gorm.DB, logger *logrus.Logger, reader *SnapshotReader, def MetricDefinition, month string, computedAt time.Time, summary *MetricRunSummary, missing map[string]bool) {
	value, err := computeGuarded(def, reader, month)
	if err != nil {
		summary.Failures = append(summary.Failures, MetricFailure{
			Key:   def.Key,
			Scope: string(def.Scope),
			Month: month,
			Error: err.Error(),
		})
		config.LogError(logger, "metricsRunner.go", "runOneMetric", def.Key, month, err)
		return
	}
	if value == nil || !utils.IsFinite(*value) {
		summary.Skipped++
		if !def.AllowNull {
			missing[def.Key] = true
		}
		return
	}

	v := *value
	if def.ValueType == models.MetricValueTypeFlag {
		// Flags are stored strictly as 0 or 1.
		if v != 0 {
			v = 1
		}
	}

	row := models.Metric{
		CompanyId:  reader.CompanyId(),
		MetricKey:  def.Key,
		Scope:      def.Scope,
		Month:      month,
		Value:      decimal.NewFromFloat(v).Round(4),
		ValueType:  def.ValueType,
		ComputedAt: computedAt,
	}
	if def.Scope == models.MetricScopeMonth {
		row.ChangePct = monthChangePct(reader, def.Key, month)
	}
	if def.ValueType == models.MetricValueTypeFlag && v == 1 {
		sev := models.MetricSeverityWarn
		row.Severity = &sev
	}

	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "company_id"}, {Name: "metric_key"},
			{Name: "scope"}, {Name: "month"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "value_type", "value_text", "change_pct",
			"severity", "computed_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		summary.Failures = append(summary.Failures, MetricFailure{
			Key:   def.Key,
			Scope: string(def.Scope),
			Month: month,
			Error: err.Error(),
		})
		config.LogError(logger, "metricsRunner.go", "runOneMetric", "Upsert", row, err)
		return
	}
	summary.Written++
}

// computeGuarded converts a panicking definition into a failure instead of
// taking down the whole run.
func computeGuarded(def MetricDefinition, reader *SnapshotReader, month string) (value *float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("metric %s panicked: %v", def.Key, r)
		}
	}()
	return def.Compute(reader, month)
}

// monthChangePct is the MoM percent change for a month-series value, nil
// when the prior month is missing or zero.
func monthChangePct(reader *SnapshotReader, measure, month string) *decimal.Decimal {
	prevMonth, err := utils.AddMonths(month, -1)
	if err != nil {
		return nil
	}
	pct := PctChange(reader.Value(measure, month), reader.Value(measure, prevMonth))
	if pct == nil {
		return nil
	}
	d := decimal.NewFromFloat(*pct).Round(4)
	return &d
}

func persistMetricRun(tx *gorm.DB, logger *logrus.Logger, companyId, jobId string, summary *MetricRunSummary) error {
	failures, err := json.Marshal(summary.Failures)
	if err != nil {
		return err
	}
	missingKeys, err := json.Marshal(summary.MissingKeys)
	if err != nil {
		return err
	}
	run := models.MetricRun{
		CompanyId:        companyId,
		JobId:            jobId,
		TotalDefinitions: summary.Total,
		WrittenCount:     summary.Written,
		SkippedCount:     summary.Skipped,
		FailureCount:     len(summary.Failures),
		MonthsProcessed:  summary.MonthsProcessed,
		Failures:         failures,
		MissingKeys:      missingKeys,
	}
	if err := tx.Create(&run).Error; err != nil {
		config.LogError(logger, "metricsRunner.go", "persistMetricRun", "Insert", run, err)
		return err
	}
	return nil
}
