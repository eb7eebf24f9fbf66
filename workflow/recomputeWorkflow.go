package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
)

var tracer = otel.Tracer("cfo-backend")

// DefaultJobKey identifies the standard full-recomputation job in the lock
// table. Backfills use their own key so they never collide with sync-driven
// runs.
const DefaultJobKey = "recompute"

// Recomputer orchestrates one company recomputation end to end: ledger
// upsert, snapshots, current balances, liquidity, metrics, alerts and
// retention, all inside a single transaction guarded by the idempotency
// lock.
type Recomputer struct {
	db        *gorm.DB
	logger    *logrus.Logger
	termCache *TermMappingCache
}

// NewRecomputer accepts a nil db; the connection is then resolved lazily on
// each run, so the recomputer can be constructed before startup finishes
// connecting.
func NewRecomputer(db *gorm.DB, logger *logrus.Logger) *Recomputer {
	return &Recomputer{db: db, logger: logger, termCache: NewTermMappingCache()}
}

func (r *Recomputer) database() *gorm.DB {
	if r.db != nil {
		return r.db
	}
	return config.GetDB()
}

// RecomputeOptions carries one run's inputs. Chart and CurrentBalances are
// optional: a nil Chart skips the ledger write (LedgerSkipReason says why on
// the emitted event), a nil CurrentBalances derives balances from the latest
// ledger month.
type RecomputeOptions struct {
	CompanyId    string
	SourceSystem string
	JobKey       string
	// SyncedAt is the source sync timestamp; it scopes the idempotency
	// lock so a re-delivered message for the same sync is a no-op while a
	// newer sync recomputes again.
	SyncedAt time.Time
	// AmendedMonth widens the rebuild range backwards when the source
	// reports an amendment older than the default window.
	AmendedMonth string

	Chart            *ChartOfAccounts
	LedgerSkipReason string
	CurrentBalances  *CurrentBalancePayload

	// DebtorRows and CreditorRows are explicit per-month counterparty
	// balances from the connector. Months they cover skip the
	// ledger-derived breakdown source.
	DebtorRows   []CounterpartyRow
	CreditorRows []CounterpartyRow
}

type RecomputeResult struct {
	JobId      string
	Skipped    bool
	SkipReason string
	// FailOpen reports that the lock table was unreachable and the run
	// proceeded without idempotency protection.
	FailOpen bool

	Months        []string
	Metrics       *MetricRunSummary
	AlertsChanged bool
	Duration      time.Duration
}

// Recompute runs the full pipeline for one company.
func (r *Recomputer) Recompute(ctx context.Context, opts RecomputeOptions) (*RecomputeResult, error) {
	ctx, span := tracer.Start(ctx, "recompute")
	defer span.End()
	span.SetAttributes(attribute.String("company_id", opts.CompanyId))

	started := time.Now()
	jobId := jobIdFromContextOrNew(ctx)
	ctx = utils.SetJobIdInContext(ctx, jobId)

	jobKey := opts.JobKey
	if jobKey == "" {
		jobKey = DefaultJobKey
	}

	months, err := r.resolveMonths(opts)
	if err != nil {
		return nil, err
	}
	scopeKey := fmt.Sprintf("%s:%s:%d", months[0], months[len(months)-1], opts.SyncedAt.Unix())

	log := r.logger.WithFields(logrus.Fields{
		"company_id": opts.CompanyId,
		"job_id":     jobId,
		"scope_key":  scopeKey,
	})

	// Redis lock is a best-effort fast path; the DB lock below is the
	// authoritative guard. A Redis outage never blocks the run.
	redisLock := r.obtainRedisLock(ctx, opts.CompanyId)
	if redisLock != nil {
		defer redisLock.Release(ctx)
	}

	db := r.database()
	if db == nil {
		return nil, errors.New("database not ready")
	}

	decision, err := AcquireRecomputeLock(db, r.logger, opts.CompanyId, jobKey, scopeKey, jobId)
	if err != nil {
		return nil, err
	}
	if !decision.Proceed {
		log.WithField("reason", decision.SkipReason).Info("recompute.skipped")
		return &RecomputeResult{JobId: jobId, Skipped: true, SkipReason: decision.SkipReason}, nil
	}

	result := &RecomputeResult{JobId: jobId, Months: months, FailOpen: decision.FailOpen}

	txErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.runPipeline(ctx, tx, opts, months, jobId, result)
	})

	if !decision.FailOpen {
		if txErr != nil {
			if markErr := MarkRecomputeLockFailed(db, opts.CompanyId, jobKey, scopeKey, txErr); markErr != nil {
				config.LogError(r.logger, "recomputeWorkflow.go", "Recompute", "MarkFailed", scopeKey, markErr)
			}
		} else if markErr := MarkRecomputeLockCompleted(db, opts.CompanyId, jobKey, scopeKey); markErr != nil {
			config.LogError(r.logger, "recomputeWorkflow.go", "Recompute", "MarkCompleted", scopeKey, markErr)
		}
	}
	if txErr != nil {
		config.LogError(r.logger, "recomputeWorkflow.go", "Recompute", "Pipeline", opts.CompanyId, txErr)
		return nil, txErr
	}

	// Drop the cached latest run so the read API reflects this job.
	if err := config.RemoveRedisKey(config.MetricRunCacheKey(opts.CompanyId)); err != nil {
		config.LogError(r.logger, "recomputeWorkflow.go", "Recompute", "CacheInvalidate", opts.CompanyId, err)
	}

	result.Duration = time.Since(started)
	log.WithFields(logrus.Fields{
		"months":      len(months),
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("recompute.completed")
	return result, nil
}

func (r *Recomputer) runPipeline(ctx context.Context, tx *gorm.DB, opts RecomputeOptions, months []string, jobId string, result *RecomputeResult) error {
	if opts.Chart != nil {
		if err := UpsertLedgerMonthlyBalances(tx, r.logger, opts.CompanyId, *opts.Chart); err != nil {
			return err
		}
	} else if opts.LedgerSkipReason != "" {
		err := models.RecordRecomputeEvent(ctx, tx, opts.CompanyId, models.RecomputeEventTypeLedgerSkipped,
			map[string]string{"reason": opts.LedgerSkipReason})
		if err != nil {
			return err
		}
	}

	// Oldest first so MoM deltas and trailing averages see prior rows.
	r.termCache.Reset()
	for _, month := range months {
		if err := BuildMonthlySnapshot(tx, r.logger, r.termCache, opts.CompanyId, opts.SourceSystem, month, opts.DebtorRows, opts.CreditorRows); err != nil {
			return err
		}
	}

	if err := DeriveCurrentBalances(tx, r.logger, opts.CompanyId, opts.CurrentBalances); err != nil {
		return err
	}

	reader := NewSnapshotReader(tx, r.logger, opts.CompanyId, DefaultMonthsBack)
	if err := reader.Load(); err != nil {
		return err
	}

	if err := UpsertCurrentLiquidity(tx, r.logger, reader); err != nil {
		return err
	}

	metrics, err := RunMetrics(tx, r.logger, reader, jobId, months, true)
	if err != nil {
		return err
	}
	result.Metrics = metrics

	alertsChanged, err := RegenerateAlerts(tx, r.logger, reader)
	if err != nil {
		return err
	}
	result.AlertsChanged = alertsChanged
	if alertsChanged {
		err = models.RecordRecomputeEvent(ctx, tx, opts.CompanyId, models.RecomputeEventTypeAlertsChanged,
			map[string]interface{}{"job_id": jobId})
		if err != nil {
			return err
		}
	}

	if err := TrimRetention(tx, r.logger, opts.CompanyId); err != nil {
		return err
	}

	return models.RecordRecomputeEvent(ctx, tx, opts.CompanyId, models.RecomputeEventTypeCompleted,
		map[string]interface{}{
			"job_id":           jobId,
			"months_processed": len(months),
			"metrics_written":  metrics.Written,
			"metrics_skipped":  metrics.Skipped,
			"alerts_changed":   alertsChanged,
		})
}

// resolveMonths is the closed-month rebuild range: the last N closed months
// by default, widened backwards when an amendment predates the window.
func (r *Recomputer) resolveMonths(opts RecomputeOptions) ([]string, error) {
	latest := utils.LatestClosedMonthKey(time.Now().UTC())
	start, err := utils.AddMonths(latest, -(config.RecomputeDefaultMonthsBack() - 1))
	if err != nil {
		return nil, err
	}
	if opts.AmendedMonth != "" {
		amended, err := utils.NormalizeMonthKey(opts.AmendedMonth)
		if err != nil {
			return nil, err
		}
		if utils.CompareMonthKeys(amended, start) < 0 {
			start = amended
		}
	}
	return utils.MonthKeyRange(start, latest)
}

func (r *Recomputer) obtainRedisLock(ctx context.Context, companyId string) *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("recompute:%s", companyId), 2*time.Minute, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		r.logger.WithField("company_id", companyId).Info("recompute.redislock.busy")
		return nil
	}
	if err != nil {
		r.logger.WithField("company_id", companyId).Warn("recompute.redislock.unavailable")
		return nil
	}
	return lock
}

func jobIdFromContextOrNew(ctx context.Context) string {
	if v, ok := utils.GetJobIdFromContext(ctx); ok && v != "" {
		return v
	}
	return uuid.NewString()
}
