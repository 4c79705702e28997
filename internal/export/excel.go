package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"tonnage-service/internal/domain/tonnage"
)

const (
	summarySheet = "Summary"
	detailsSheet = "Details"
)

// Workbook renders analysis history as an xlsx report with a Summary sheet
// (verdict distribution) and a Details sheet (one row per record).
func Workbook(records []tonnage.HistoryRecord, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to rename summary sheet: %w", err)
	}
	if _, err := f.NewSheet(detailsSheet); err != nil {
		return nil, fmt.Errorf("failed to create details sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummary(f, records, generatedAt, headerStyle); err != nil {
		return nil, err
	}
	if err := writeDetails(f, records, headerStyle); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, records []tonnage.HistoryRecord, generatedAt time.Time, headerStyle int) error {
	if err := f.SetCellValue(summarySheet, "A1", "Tonnage Analysis Report"); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", headerStyle); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}

	verdictCounts := map[tonnage.Verdict]int{}
	cacheHits := 0
	for _, r := range records {
		verdictCounts[r.Verdict.Verdict]++
		if r.FromCache {
			cacheHits++
		}
	}

	rows := [][]interface{}{
		{"Generated At:", generatedAt.Format(time.RFC3339)},
		{"Total Records:", len(records)},
		{"Served From Cache:", cacheHits},
		{},
		{"Verdict Distribution"},
		{string(tonnage.VerdictPass), verdictCounts[tonnage.VerdictPass]},
		{string(tonnage.VerdictFail), verdictCounts[tonnage.VerdictFail]},
		{string(tonnage.VerdictUncertain), verdictCounts[tonnage.VerdictUncertain]},
	}
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+3)
			if err != nil {
				return fmt.Errorf("failed to address summary cell: %w", err)
			}
			if err := f.SetCellValue(summarySheet, cell, value); err != nil {
				return fmt.Errorf("failed to write summary: %w", err)
			}
		}
	}

	if err := f.SetColWidth(summarySheet, "A", "A", 24); err != nil {
		return fmt.Errorf("failed to size summary columns: %w", err)
	}
	return nil
}

func writeDetails(f *excelize.File, records []tonnage.HistoryRecord, headerStyle int) error {
	headers := []string{
		"Analyzed At",
		"Plate",
		"Normalized Plate",
		"Estimate (kg)",
		"Confidence",
		"Samples",
		"Disagreement (kg)",
		"Verdict",
		"Margin (kg)",
		"Load %",
		"Reason",
		"From Cache",
		"Fingerprint",
	}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("failed to address header cell: %w", err)
		}
		if err := f.SetCellValue(detailsSheet, cell, header); err != nil {
			return fmt.Errorf("failed to write details header: %w", err)
		}
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return fmt.Errorf("failed to address header range: %w", err)
	}
	if err := f.SetCellStyle(detailsSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style details header: %w", err)
	}

	for i, r := range records {
		values := []interface{}{
			r.CreatedAt.Format(time.RFC3339),
			r.Vehicle.RawPlate,
			r.Vehicle.NormalizedPlate,
			r.Estimation.PointEstimateKg,
			r.Estimation.Confidence,
			r.Estimation.SampleCount,
			r.Estimation.DisagreementKg,
			string(r.Verdict.Verdict),
			r.Verdict.MarginKg,
			r.Verdict.LoadRatioPercent,
			r.Verdict.Reason,
			r.FromCache,
			r.Fingerprint,
		}
		for j, value := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return fmt.Errorf("failed to address details cell: %w", err)
			}
			if err := f.SetCellValue(detailsSheet, cell, value); err != nil {
				return fmt.Errorf("failed to write details row: %w", err)
			}
		}
	}

	if err := f.SetColWidth(detailsSheet, "A", "C", 22); err != nil {
		return fmt.Errorf("failed to size details columns: %w", err)
	}
	if err := f.SetColWidth(detailsSheet, "K", "K", 40); err != nil {
		return fmt.Errorf("failed to size details columns: %w", err)
	}
	if err := f.SetColWidth(detailsSheet, "M", "M", 48); err != nil {
		return fmt.Errorf("failed to size details columns: %w", err)
	}
	return nil
}
