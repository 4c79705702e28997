package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tonnage-service/internal/domain/tonnage"
)

func sampleRecord(plate string, verdict tonnage.Verdict, fromCache bool) tonnage.HistoryRecord {
	return tonnage.HistoryRecord{
		ID:          uuid.New(),
		Fingerprint: "abc123",
		Vehicle:     tonnage.VehicleIdentity{RawPlate: plate, NormalizedPlate: plate},
		Estimation: tonnage.EstimationResult{
			PointEstimateKg: 9500,
			Confidence:      0.87,
			SampleCount:     3,
			DisagreementKg:  120,
			SourceTag:       "gemini-flash:ensemble(3)",
		},
		Verdict: tonnage.OverloadVerdict{
			Verdict:          verdict,
			MarginKg:         -500,
			Confidence:       0.87,
			LoadRatioPercent: 95,
		},
		FromCache: fromCache,
		CreatedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestWorkbook(t *testing.T) {
	records := []tonnage.HistoryRecord{
		sampleRecord("品川100あ1234", tonnage.VerdictPass, false),
		sampleRecord("品川100あ1234", tonnage.VerdictPass, true),
		sampleRecord("足立500か7788", tonnage.VerdictFail, false),
	}

	data, err := Workbook(records, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	require.ElementsMatch(t, []string{"Summary", "Details"}, f.GetSheetList())

	rows, err := f.GetRows("Details")
	require.NoError(t, err)
	require.Len(t, rows, 4, "header plus one row per record")
	require.Equal(t, "Analyzed At", rows[0][0])
	require.Equal(t, "品川100あ1234", rows[1][1])
	require.Equal(t, "FAIL", rows[3][7])

	total, err := f.GetCellValue("Summary", "B4")
	require.NoError(t, err)
	require.Equal(t, "3", total)
	cached, err := f.GetCellValue("Summary", "B5")
	require.NoError(t, err)
	require.Equal(t, "1", cached)
}

func TestWorkbookEmptyHistory(t *testing.T) {
	data, err := Workbook(nil, time.Now())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Details")
	require.NoError(t, err)
	require.Len(t, rows, 1, "header only")
}
