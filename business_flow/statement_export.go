package businessflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wablast/blast-core/utils"
	"github.com/xuri/excelize/v2"
)

// maxStatementExportRows bounds a single export
const maxStatementExportRows = 50000

const statementSheet = "statement"

// ExportStatement writes every transaction matching query (newest first) to an xlsx
// workbook. query.Page is ignored.
func (l *LedgerFlowImpl) ExportStatement(ctx context.Context, klienID uint, query StatementQuery) (string, []byte, error) {
	query.Page = Page{Page: 1, PageSize: 100}

	first, err := l.Statement(ctx, klienID, query)
	if err != nil {
		return "", nil, err
	}
	if first.Total > maxStatementExportRows {
		return "", nil, NewBusinessError("STATEMENT_TOO_LARGE",
			fmt.Sprintf("Statement has %d rows, narrow the date range (max %d)", first.Total, maxStatementExportRows),
			ErrStatementTooLarge)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()
	xl.SetSheetName(xl.GetSheetName(0), statementSheet)

	header := []string{
		"id", "created_at", "kind", "amount", "campaign_id", "external_ref", "reason",
		"available_before", "held_before", "available_after", "held_after", "total_spent_after",
	}
	_ = xl.SetSheetRow(statementSheet, "A1", &header)

	loc := utils.JakartaLocation()
	row := 2
	page := first
	for {
		for _, tx := range page.Items {
			campaignID := ""
			if tx.CampaignID != nil {
				campaignID = strconv.FormatUint(uint64(*tx.CampaignID), 10)
			}
			record := []any{
				tx.ID,
				tx.CreatedAt.In(loc).Format(time.DateTime),
				string(tx.Kind),
				tx.Amount,
				campaignID,
				utils.Deref(tx.ExternalRef),
				tx.Reason,
				tx.BalanceBefore.Available,
				tx.BalanceBefore.Held,
				tx.BalanceAfter.Available,
				tx.BalanceAfter.Held,
				tx.BalanceAfter.TotalSpent,
			}
			cellRef, _ := excelize.CoordinatesToCellName(1, row)
			_ = xl.SetSheetRow(statementSheet, cellRef, &record)
			row++
		}
		if int64(query.Page.Page*query.Page.PageSize) >= page.Total || len(page.Items) == 0 {
			break
		}
		query.Page.Page++
		if page, err = l.Statement(ctx, klienID, query); err != nil {
			return "", nil, err
		}
	}

	summary := []any{"available", first.Wallet.Available, "held", first.Wallet.Held, "total_spent", first.Wallet.TotalSpent}
	summaryRef, _ := excelize.CoordinatesToCellName(1, row+1)
	_ = xl.SetSheetRow(statementSheet, summaryRef, &summary)

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("wallet_statement_%d_%s.xlsx", klienID, utils.UTCNow().In(loc).Format("20060102"))
	return filename, buf.Bytes(), nil
}
