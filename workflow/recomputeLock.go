package workflow

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
)

// LockDecision tells the caller whether to proceed and, when skipping, why.
// A skip is a normal outcome, never an error.
type LockDecision struct {
	Proceed    bool
	SkipReason string
	// FailOpen is set when the lock table itself was unreachable and the
	// fail-open policy let the run proceed anyway.
	FailOpen bool
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// AcquireRecomputeLock claims the (company, jobKey, scopeKey) lock.
//
// State machine: absent -> RUNNING; COMPLETED -> skip; FAILED -> re-acquire;
// RUNNING -> skip unless stale, in which case the caller takes it over.
// Lock-table errors resolve per the fail-open policy: proceed without the
// lock when enabled, refuse the run when not.
func AcquireRecomputeLock(db *gorm.DB, logger *logrus.Logger, companyId, jobKey, scopeKey, jobId string) (LockDecision, error) {
	row := models.RecomputeLock{
		CompanyId: companyId,
		JobKey:    jobKey,
		ScopeKey:  scopeKey,
		Status:    models.RecomputeLockStatusRunning,
		LockedAt:  time.Now().UTC(),
		LastJobId: jobId,
	}
	err := db.Create(&row).Error
	if err == nil {
		return LockDecision{Proceed: true}, nil
	}
	if !isDuplicateKeyErr(err) {
		return resolveLockFailure(logger, companyId, jobKey, scopeKey, err)
	}

	var existing models.RecomputeLock
	err = db.Where("company_id = ? AND job_key = ? AND scope_key = ?", companyId, jobKey, scopeKey).
		First(&existing).Error
	if err != nil {
		return resolveLockFailure(logger, companyId, jobKey, scopeKey, err)
	}

	switch existing.Status {
	case models.RecomputeLockStatusCompleted:
		return LockDecision{SkipReason: models.LockSkipAlreadyCompleted}, nil
	case models.RecomputeLockStatusRunning:
		if time.Since(existing.LockedAt) < config.LockStaleAfter() {
			return LockDecision{SkipReason: models.LockSkipAlreadyRunning}, nil
		}
		logger.WithFields(logrus.Fields{
			"company_id":  companyId,
			"scope_key":   scopeKey,
			"stale_since": existing.LockedAt,
		}).Warn("recompute.lock.stale_takeover")
		return takeOverLock(db, logger, existing.ID, jobId, companyId, jobKey, scopeKey)
	default: // FAILED
		return takeOverLock(db, logger, existing.ID, jobId, companyId, jobKey, scopeKey)
	}
}

func takeOverLock(db *gorm.DB, logger *logrus.Logger, id int, jobId, companyId, jobKey, scopeKey string) (LockDecision, error) {
	err := db.Model(&models.RecomputeLock{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.RecomputeLockStatusRunning,
			"locked_at":   time.Now().UTC(),
			"last_job_id": jobId,
			"last_error":  nil,
		}).Error
	if err != nil {
		return resolveLockFailure(logger, companyId, jobKey, scopeKey, err)
	}
	return LockDecision{Proceed: true}, nil
}

// resolveLockFailure applies the fail-open policy when the lock table is
// unreachable. Fail-open runs without idempotency protection; fail-closed
// surfaces the error and the run does not start.
func resolveLockFailure(logger *logrus.Logger, companyId, jobKey, scopeKey string, cause error) (LockDecision, error) {
	if config.LockFailOpen() {
		config.LogError(logger, "recomputeLock.go", "AcquireRecomputeLock", "FailOpen",
			map[string]string{"company_id": companyId, "job_key": jobKey, "scope_key": scopeKey}, cause)
		return LockDecision{Proceed: true, FailOpen: true}, nil
	}
	return LockDecision{}, cause
}

// MarkRecomputeLockCompleted moves the claimed lock to COMPLETED.
func MarkRecomputeLockCompleted(db *gorm.DB, companyId, jobKey, scopeKey string) error {
	return db.Model(&models.RecomputeLock{}).
		Where("company_id = ? AND job_key = ? AND scope_key = ?", companyId, jobKey, scopeKey).
		Updates(map[string]interface{}{
			"status":     models.RecomputeLockStatusCompleted,
			"last_error": nil,
		}).Error
}

// MarkRecomputeLockFailed moves the claimed lock to FAILED with the error
// message, so a later run can re-acquire.
func MarkRecomputeLockFailed(db *gorm.DB, companyId, jobKey, scopeKey string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return db.Model(&models.RecomputeLock{}).
		Where("company_id = ? AND job_key = ? AND scope_key = ?", companyId, jobKey, scopeKey).
		Updates(map[string]interface{}{
			"status":     models.RecomputeLockStatusFailed,
			"last_error": &msg,
		}).Error
}
