package booksync

import (
	"testing"

	"github.com/shopspring/decimal"
)

func validMessage() SyncMessage {
	return SyncMessage{
		CompanyId:    "co-1",
		SourceSystem: "tally",
		SyncedAt:     1756684800,
		Chart: &ChartPayload{
			Groups: []GroupPayload{{Name: "Sales Accounts", Parent: "Primary"}},
			Ledgers: []LedgerPayload{
				{Guid: "g-1", Name: "Local Sales", Parent: "Sales Accounts"},
			},
			ClosedMonths: []MonthBalancePayload{
				{Month: "2026-07", Items: []BalanceItemPayload{{LedgerGuid: "g-1", Balance: 1500.5}}},
			},
		},
	}
}

func TestSyncMessage_Validate(t *testing.T) {
	msg := validMessage()
	if err := msg.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	missingCompany := validMessage()
	missingCompany.CompanyId = ""
	if err := missingCompany.Validate(); err == nil {
		t.Fatal("missing company_id must be rejected")
	}

	missingSource := validMessage()
	missingSource.SourceSystem = ""
	if err := missingSource.Validate(); err == nil {
		t.Fatal("missing source_system must be rejected")
	}
}

func TestValidateChart_NilChartIsNotAnError(t *testing.T) {
	msg := validMessage()
	msg.Chart = nil
	if err := msg.ValidateChart(); err != nil {
		t.Fatalf("nil chart must validate, got %v", err)
	}
}

func TestValidateChart_RejectsBrokenLedgers(t *testing.T) {
	noLedgers := validMessage()
	noLedgers.Chart.Ledgers = nil
	if err := noLedgers.ValidateChart(); err == nil {
		t.Fatal("empty ledger list must be rejected")
	}

	missingGuid := validMessage()
	missingGuid.Chart.Ledgers[0].Guid = ""
	if err := missingGuid.ValidateChart(); err == nil {
		t.Fatal("ledger without guid must be rejected")
	}

	missingMonth := validMessage()
	missingMonth.Chart.ClosedMonths[0].Month = ""
	if err := missingMonth.ValidateChart(); err == nil {
		t.Fatal("closed month without a month key must be rejected")
	}
}

func TestValidateChart_EmptyGroupsAllowed(t *testing.T) {
	msg := validMessage()
	msg.Chart.Groups = nil
	if err := msg.ValidateChart(); err != nil {
		t.Fatalf("empty groups list must validate, got %v", err)
	}
}

func TestChartPayload_ToChartOfAccounts(t *testing.T) {
	msg := validMessage()
	coa := msg.Chart.ToChartOfAccounts()

	if len(coa.Groups) != 1 || coa.Groups[0].Name != "Sales Accounts" {
		t.Fatalf("group conversion broken: %+v", coa.Groups)
	}
	if len(coa.Ledgers) != 1 || coa.Ledgers[0].Guid != "g-1" {
		t.Fatalf("ledger conversion broken: %+v", coa.Ledgers)
	}
	if len(coa.ClosedMonths) != 1 || coa.ClosedMonths[0].MonthKey != "2026-07" {
		t.Fatalf("closed month conversion broken: %+v", coa.ClosedMonths)
	}
	got := coa.ClosedMonths[0].Items[0].Balance
	if !got.Equal(decimal.NewFromFloat(1500.5)) {
		t.Fatalf("balance conversion broken: %v", got)
	}
	if coa.Current != nil {
		t.Fatal("absent current month must convert to nil")
	}
}

func TestToCounterpartyRows_NormalizesMonthsAndDropsBadOnes(t *testing.T) {
	rows := ToCounterpartyRows([]CounterpartyRowPayload{
		{Month: " 2026-07 ", Name: "Acme", Balance: 120.5},
		{Month: "not-a-month", Name: "Broken", Balance: 10},
		{Month: "2026-08", Name: "Globex", Balance: -40},
	})
	if len(rows) != 2 {
		t.Fatalf("expected bad month dropped, got %d rows", len(rows))
	}
	if rows[0].Month != "2026-07" || rows[0].Name != "Acme" {
		t.Fatalf("first row broken: %+v", rows[0])
	}
	if !rows[0].Balance.Equal(decimal.NewFromFloat(120.5)) {
		t.Fatalf("balance conversion broken: %v", rows[0].Balance)
	}
	if rows[1].Month != "2026-08" || !rows[1].Balance.Equal(decimal.NewFromInt(-40)) {
		t.Fatalf("second row broken: %+v", rows[1])
	}
}

func TestCurrentBalancesPayload_NilConvertsToNil(t *testing.T) {
	var p *CurrentBalancesPayload
	if got := p.ToWorkflowPayload(); got != nil {
		t.Fatalf("nil payload must stay nil, got %+v", got)
	}
}

func TestCurrentBalancesPayload_Conversion(t *testing.T) {
	p := &CurrentBalancesPayload{
		Cash:    []BalanceEntryPayload{{Name: "Main", Balance: 1000}},
		Debtors: []BalanceEntryPayload{{Name: "Acme", Balance: 250.25}},
	}
	got := p.ToWorkflowPayload()
	if got == nil || len(got.Cash) != 1 || len(got.Debtors) != 1 {
		t.Fatalf("conversion broken: %+v", got)
	}
	if got.Debtors[0].Name != "Acme" || !got.Debtors[0].Balance.Equal(decimal.NewFromFloat(250.25)) {
		t.Fatalf("debtor entry broken: %+v", got.Debtors[0])
	}
	if len(got.Creditors) != 0 || len(got.Loans) != 0 {
		t.Fatalf("empty families must convert empty, got %+v", got)
	}
}
