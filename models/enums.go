package models

// CfoCategory is the fixed bucket every chart-of-accounts ledger is
// classified into. Classification is authoritative: it may overwrite a
// category assigned at ingest time.
type CfoCategory string

const (
	CfoCategoryRevenue   CfoCategory = "revenue"
	CfoCategoryExpenses  CfoCategory = "expenses"
	CfoCategoryDebtors   CfoCategory = "debtors"
	CfoCategoryCreditors CfoCategory = "creditors"
	CfoCategoryCashBank  CfoCategory = "cash_bank"
	CfoCategoryLoans     CfoCategory = "loans"
	CfoCategoryInventory CfoCategory = "inventory"
	CfoCategoryUnknown   CfoCategory = ""
)

// BreakdownKind distinguishes the four breakdown tables' row families.
type BreakdownKind string

const (
	BreakdownKindRevenue  BreakdownKind = "revenue"
	BreakdownKindExpense  BreakdownKind = "expense"
	BreakdownKindDebtor   BreakdownKind = "debtor"
	BreakdownKindCreditor BreakdownKind = "creditor"
)

// CurrentBalanceKind is the entity family of an as-of-now balance row.
type CurrentBalanceKind string

const (
	CurrentBalanceKindCash     CurrentBalanceKind = "cash"
	CurrentBalanceKindDebtor   CurrentBalanceKind = "debtor"
	CurrentBalanceKindCreditor CurrentBalanceKind = "creditor"
	CurrentBalanceKindLoan     CurrentBalanceKind = "loan"
)

// CurrentBalanceSource records which derivation path produced the current
// balances, for auditability.
type CurrentBalanceSource string

const (
	CurrentBalanceSourcePayload CurrentBalanceSource = "PAYLOAD"
	CurrentBalanceSourceDerived CurrentBalanceSource = "DERIVED"
)

type TrendFlag string

const (
	TrendFlagUp     TrendFlag = "UP"
	TrendFlagDown   TrendFlag = "DOWN"
	TrendFlagStable TrendFlag = "STABLE"
)

// MetricScope is the time scope a metric value is computed over.
type MetricScope string

const (
	MetricScopeLive            MetricScope = "live"
	MetricScope3m              MetricScope = "3m"
	MetricScope6m              MetricScope = "6m"
	MetricScope9m              MetricScope = "9m"
	MetricScope12m             MetricScope = "12m"
	MetricScope18m             MetricScope = "18m"
	MetricScope24m             MetricScope = "24m"
	MetricScopeMoM             MetricScope = "mom"
	MetricScopeYoY             MetricScope = "yoy"
	MetricScopeLastClosedMonth MetricScope = "last_closed_month"
	MetricScopeMonth           MetricScope = "month"
)

type MetricValueType string

const (
	MetricValueTypeCurrency MetricValueType = "CURRENCY"
	MetricValueTypePercent  MetricValueType = "PERCENT"
	MetricValueTypeNumber   MetricValueType = "NUMBER"
	MetricValueTypeFlag     MetricValueType = "FLAG"
)

type MetricSeverity string

const (
	MetricSeverityInfo MetricSeverity = "INFO"
	MetricSeverityWarn MetricSeverity = "WARN"
	MetricSeverityHigh MetricSeverity = "HIGH"
)

// RecomputeLockStatus is the idempotency lock state machine:
// absent -> RUNNING -> {COMPLETED | FAILED}, with RUNNING -> RUNNING takeover
// permitted only for stale locks.
type RecomputeLockStatus string

const (
	RecomputeLockStatusRunning   RecomputeLockStatus = "RUNNING"
	RecomputeLockStatusCompleted RecomputeLockStatus = "COMPLETED"
	RecomputeLockStatusFailed    RecomputeLockStatus = "FAILED"
)

// Lock skip reasons surfaced to callers (never errors).
const (
	LockSkipAlreadyRunning   = "already_running"
	LockSkipAlreadyCompleted = "already_completed"
)

type RunwayStatus string

const (
	RunwayStatusGreen   RunwayStatus = "GREEN"
	RunwayStatusAmber   RunwayStatus = "AMBER"
	RunwayStatusRed     RunwayStatus = "RED"
	RunwayStatusGrowing RunwayStatus = "GROWING"
	RunwayStatusUnknown RunwayStatus = "UNKNOWN"
)

type AlertSeverity string

const (
	AlertSeverityInfo AlertSeverity = "INFO"
	AlertSeverityWarn AlertSeverity = "WARN"
	AlertSeverityHigh AlertSeverity = "HIGH"
)

// Alert rule keys (also the de-duplication key within one run).
const (
	AlertRuleDebtorsRisingRevenueFlat   = "DEBTORS_RISING_REVENUE_FLAT"
	AlertRuleExpenseOutpacingCash       = "EXPENSE_GROWTH_OUTPACING_CASH"
	AlertRuleTopDebtorConcentration     = "TOP2_DEBTOR_CONCENTRATION"
	AlertRuleCreditorsRisingExpenseFlat = "CREDITORS_RISING_EXPENSE_FLAT"
)

// BankTransactionType is the sign-normalized direction of a raw transaction.
type BankTransactionType string

const (
	BankTransactionTypeIncome  BankTransactionType = "INCOME"
	BankTransactionTypeExpense BankTransactionType = "EXPENSE"
)

// Outbox publish lifecycle for recompute events.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusPublished  = "PUBLISHED"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Recompute event types emitted through the outbox.
const (
	RecomputeEventTypeCompleted     = "RECOMPUTE_COMPLETED"
	RecomputeEventTypeAlertsChanged = "ALERTS_CHANGED"
	RecomputeEventTypeLedgerSkipped = "LEDGER_WRITE_SKIPPED"
)
