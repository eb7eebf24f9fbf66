package booksync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
	"bitbucket.org/mmdatafocus/cfo_backend/workflow"
)

// ProcessSyncMessage validates one connector message and runs the
// recomputation. A chart that fails validation skips the ledger write only;
// the rest of the pipeline still recomputes from stored data.
func ProcessSyncMessage(ctx context.Context, logger *logrus.Logger, recomputer *workflow.Recomputer, msg SyncMessage) (*workflow.RecomputeResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	ctx = utils.SetCompanyIdInContext(ctx, msg.CompanyId)
	if msg.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, msg.CorrelationId)
	}

	opts := workflow.RecomputeOptions{
		CompanyId:    msg.CompanyId,
		SourceSystem: msg.SourceSystem,
		SyncedAt:     time.Unix(msg.SyncedAt, 0).UTC(),
		AmendedMonth: msg.AmendedMonth,
	}

	if chartErr := msg.ValidateChart(); chartErr != nil {
		config.LogError(logger, "handlers.go", "ProcessSyncMessage", "InvalidChart", msg.CompanyId, chartErr)
		opts.LedgerSkipReason = chartErr.Error()
	} else if msg.Chart != nil {
		coa := msg.Chart.ToChartOfAccounts()
		opts.Chart = &coa
	}
	opts.CurrentBalances = msg.CurrentBalances.ToWorkflowPayload()
	opts.DebtorRows = ToCounterpartyRows(msg.DebtorRows)
	opts.CreditorRows = ToCounterpartyRows(msg.CreditorRows)

	return recomputer.Recompute(ctx, opts)
}
