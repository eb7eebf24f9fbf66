package workflow

import (
	"errors"
	"fmt"
	"testing"

	mysqlDriver "github.com/go-sql-driver/mysql"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	dup := &mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"}
	if !isDuplicateKeyErr(dup) {
		t.Fatal("1062 must be detected")
	}
	if !isDuplicateKeyErr(fmt.Errorf("create failed: %w", dup)) {
		t.Fatal("wrapped 1062 must be detected")
	}
	if isDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1213}) {
		t.Fatal("deadlock is not a duplicate key")
	}
	if isDuplicateKeyErr(errors.New("plain error")) {
		t.Fatal("non-mysql error is not a duplicate key")
	}
}

func TestLockFailOpen_DefaultsToOpen(t *testing.T) {
	t.Setenv("LOCK_FAIL_OPEN", "")
	if !config.LockFailOpen() {
		t.Fatal("fail-open must be the default")
	}
}

func TestResolveLockFailure_FailOpenProceeds(t *testing.T) {
	t.Setenv("LOCK_FAIL_OPEN", "true")
	logger := config.GetLogger()
	decision, err := resolveLockFailure(logger, "co-1", "recompute", "2026-01:2026-07:1", errors.New("lock table unreachable"))
	if err != nil {
		t.Fatalf("fail-open must swallow the error, got %v", err)
	}
	if !decision.Proceed || !decision.FailOpen {
		t.Fatalf("expected proceed with fail-open noted, got %+v", decision)
	}
}

func TestResolveLockFailure_FailClosedRefuses(t *testing.T) {
	t.Setenv("LOCK_FAIL_OPEN", "false")
	logger := config.GetLogger()
	cause := errors.New("lock table unreachable")
	decision, err := resolveLockFailure(logger, "co-1", "recompute", "2026-01:2026-07:1", cause)
	if err == nil {
		t.Fatal("fail-closed must surface the error")
	}
	if decision.Proceed {
		t.Fatalf("fail-closed must not proceed, got %+v", decision)
	}
}
