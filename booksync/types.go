package booksync

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/cfo_backend/utils"
	"bitbucket.org/mmdatafocus/cfo_backend/workflow"
)

var validate = validator.New()

// SyncMessage is the payload a connector publishes after pushing fresh books
// data for a company. Receipt of this message triggers a recomputation.
type SyncMessage struct {
	CompanyId    string `json:"company_id" validate:"required"`
	SourceSystem string `json:"source_system" validate:"required"`
	SyncedAt     int64  `json:"synced_at" validate:"required"`
	// AmendedMonth, when set, widens the rebuild range back to that month.
	AmendedMonth  string `json:"amended_month,omitempty"`
	CorrelationId string `json:"correlation_id,omitempty"`

	Chart           *ChartPayload           `json:"chart,omitempty"`
	CurrentBalances *CurrentBalancesPayload `json:"current_balances,omitempty"`

	// Explicit per-month receivable/payable balances. Months they cover are
	// built from these rows instead of the classified ledger balances.
	DebtorRows   []CounterpartyRowPayload `json:"debtor_rows,omitempty" validate:"dive"`
	CreditorRows []CounterpartyRowPayload `json:"creditor_rows,omitempty" validate:"dive"`
}

type ChartPayload struct {
	Groups       []GroupPayload        `json:"groups"`
	Ledgers      []LedgerPayload       `json:"ledgers" validate:"required,min=1,dive"`
	ClosedMonths []MonthBalancePayload `json:"closed_months"`
	Current      *MonthBalancePayload  `json:"current,omitempty"`
}

type GroupPayload struct {
	Name   string `json:"name"`
	Parent string `json:"parent"`
}

type LedgerPayload struct {
	Guid   string `json:"guid" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Parent string `json:"parent" validate:"required"`
}

type MonthBalancePayload struct {
	Month    string               `json:"month"`
	AsOfDate time.Time            `json:"as_of_date"`
	Items    []BalanceItemPayload `json:"items"`
}

type BalanceItemPayload struct {
	LedgerGuid string  `json:"ledger_guid"`
	Balance    float64 `json:"balance"`
}

type CurrentBalancesPayload struct {
	Cash      []BalanceEntryPayload `json:"cash"`
	Debtors   []BalanceEntryPayload `json:"debtors"`
	Creditors []BalanceEntryPayload `json:"creditors"`
	Loans     []BalanceEntryPayload `json:"loans"`
}

type BalanceEntryPayload struct {
	Name    string  `json:"name"`
	Balance float64 `json:"balance"`
}

type CounterpartyRowPayload struct {
	Month   string  `json:"month" validate:"required"`
	Name    string  `json:"name" validate:"required"`
	Balance float64 `json:"balance"`
}

// Validate checks the envelope. Chart validation is separate: a bad chart
// skips the ledger write but never fails the whole message.
func (m *SyncMessage) Validate() error {
	return validate.Struct(m)
}

// ValidateChart reports why the chart payload cannot be written, or nil when
// it can. A nil chart is "not supplied" rather than invalid.
func (m *SyncMessage) ValidateChart() error {
	if m.Chart == nil {
		return nil
	}
	if err := validate.Struct(m.Chart); err != nil {
		return err
	}
	for i, cm := range m.Chart.ClosedMonths {
		if cm.Month == "" {
			return fmt.Errorf("closed_months[%d]: month is required", i)
		}
	}
	return nil
}

// ToChartOfAccounts converts the validated payload into the classification
// input.
func (p *ChartPayload) ToChartOfAccounts() workflow.ChartOfAccounts {
	coa := workflow.ChartOfAccounts{
		Groups:  make([]workflow.CoaGroup, 0, len(p.Groups)),
		Ledgers: make([]workflow.CoaLedger, 0, len(p.Ledgers)),
	}
	for _, g := range p.Groups {
		coa.Groups = append(coa.Groups, workflow.CoaGroup{Name: g.Name, Parent: g.Parent})
	}
	for _, l := range p.Ledgers {
		coa.Ledgers = append(coa.Ledgers, workflow.CoaLedger{Guid: l.Guid, Name: l.Name, Parent: l.Parent})
	}
	for _, cm := range p.ClosedMonths {
		coa.ClosedMonths = append(coa.ClosedMonths, toMonthBalances(cm))
	}
	if p.Current != nil {
		current := toMonthBalances(*p.Current)
		coa.Current = &current
	}
	return coa
}

func toMonthBalances(p MonthBalancePayload) workflow.CoaMonthBalances {
	mb := workflow.CoaMonthBalances{
		MonthKey: p.Month,
		AsOfDate: p.AsOfDate,
		Items:    make([]workflow.CoaBalanceItem, 0, len(p.Items)),
	}
	for _, item := range p.Items {
		mb.Items = append(mb.Items, workflow.CoaBalanceItem{
			LedgerGuid: item.LedgerGuid,
			Balance:    decimal.NewFromFloat(item.Balance),
		})
	}
	return mb
}

// ToCounterpartyRows converts explicit counterparty rows, normalizing each
// month key. Rows with an unparseable month are dropped rather than failing
// the message.
func ToCounterpartyRows(payloads []CounterpartyRowPayload) []workflow.CounterpartyRow {
	var rows []workflow.CounterpartyRow
	for _, p := range payloads {
		month, err := utils.NormalizeMonthKey(p.Month)
		if err != nil {
			continue
		}
		rows = append(rows, workflow.CounterpartyRow{
			Month:   month,
			Name:    p.Name,
			Balance: decimal.NewFromFloat(p.Balance),
		})
	}
	return rows
}

// ToWorkflowPayload converts the explicit current balances, or nil when the
// message carried none (the recompute then derives balances itself).
func (p *CurrentBalancesPayload) ToWorkflowPayload() *workflow.CurrentBalancePayload {
	if p == nil {
		return nil
	}
	convert := func(entries []BalanceEntryPayload) []workflow.CurrentBalanceEntry {
		out := make([]workflow.CurrentBalanceEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, workflow.CurrentBalanceEntry{
				Name:    e.Name,
				Balance: decimal.NewFromFloat(e.Balance),
			})
		}
		return out
	}
	return &workflow.CurrentBalancePayload{
		Cash:      convert(p.Cash),
		Debtors:   convert(p.Debtors),
		Creditors: convert(p.Creditors),
		Loans:     convert(p.Loans),
	}
}
