package reports

import (
	"bytes"
	"fmt"

	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "Summary"
	recordsSheet  = "Records"
	XlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type ExcelExporter interface {
	GetCellValues() []interface{}
}

type batchRecordRow struct {
	category string
	record   *models.Reconciliation
}

func (r batchRecordRow) GetCellValues() []interface{} {
	rec := r.record
	return []interface{}{
		r.category,
		rec.ID,
		rec.ReconciliationDate.Format("2006-01-02"),
		rec.BranchCode,
		rec.BranchName,
		rec.ProductCode,
		rec.ProductName,
		rec.DocumentCode,
		rec.DocumentDescription,
		rec.PhysicalDifference.StringFixed(2),
		rec.ValueDifference.StringFixed(2),
		string(rec.StateCode),
		rec.StateDescription,
	}
}

var recordHeadings = []string{
	"Category", "ID", "Date", "Branch", "Branch Name", "Product", "Product Name",
	"Document", "Document Description", "Physical Difference", "Value Difference", "State", "State Description",
}

// BatchReportFileName is the object name used when archiving a period report.
func BatchReportFileName(result *models.BatchResult) string {
	return fmt.Sprintf("reconciliation-batch/%04d-%02d/%s.xlsx", result.Year, result.Month, result.RunId)
}

// BuildBatchReport renders a period result as an xlsx workbook with a summary
// sheet and one row per flagged record.
func BuildBatchReport(result *models.BatchResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	summary := [][]interface{}{
		{"Period", result.Period()},
		{"Run Time", result.FormattedRunTime()},
		{"Total Processed", result.TotalProcessed},
		{"Total Mismatched", result.TotalMismatched},
		{"Mismatch Percentage", result.MismatchPercentage().StringFixed(2)},
		{"Pending Correction", len(result.PendingCorrection)},
		{"Needs Review", len(result.NeedsReview)},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(recordsSheet); err != nil {
		return nil, err
	}
	rows := make([]ExcelExporter, 0, len(result.MismatchedRecords)+len(result.PendingCorrection)+len(result.NeedsReview))
	for _, rec := range result.MismatchedRecords {
		rows = append(rows, batchRecordRow{category: "Mismatched", record: rec})
	}
	for _, rec := range result.PendingCorrection {
		rows = append(rows, batchRecordRow{category: "Pending Correction", record: rec})
	}
	for _, rec := range result.NeedsReview {
		rows = append(rows, batchRecordRow{category: "Needs Review", record: rec})
	}
	if err := writeRows(f, recordsSheet, rows, recordHeadings...); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheetName string, data []ExcelExporter, headings ...string) error {
	header := make([]interface{}, len(headings))
	for i, h := range headings {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}
	for i, d := range data {
		values := d.GetCellValues()
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", i+2), &values); err != nil {
			return err
		}
	}
	return nil
}
