package services

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"consenthub/models"

	"github.com/xuri/excelize/v2"
)

const (
	registerSheet = "Register"
	summarySheet  = "Summary"
)

var registerHeaders = []string{
	"Request ID",
	"Submitted",
	"Due",
	"Requester",
	"Email",
	"Type",
	"Status",
	"Priority",
	"Assigned To",
	"Verification",
	"Days Remaining",
	"Processing Days",
	"Overdue",
	"Completed",
	"Jurisdiction",
	"Applicable Laws",
}

// BuildRegisterWorkbook renders the DSAR register used for regulator reporting
func BuildRegisterWorkbook(requests []models.DSARRequest, now time.Time) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", registerSheet)
	writeHeaderRow(f, registerSheet, registerHeaders)

	byStatus := map[models.DSARStatus]int{}
	overdue := 0

	for i := range requests {
		r := &requests[i]
		d := r.Deadline(now)
		byStatus[r.Status]++
		if d.IsOverdue {
			overdue++
		}

		assignee := ""
		if r.AssignedTo != nil {
			assignee = r.AssignedTo.Name
		}
		completed := ""
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format("2006-01-02")
		}

		row := []interface{}{
			r.RequestID,
			r.SubmittedAt.Format("2006-01-02"),
			r.DueDate.Format("2006-01-02"),
			r.RequesterName,
			r.RequesterEmail,
			string(r.RequestType),
			string(r.Status),
			string(r.Priority),
			assignee,
			string(r.VerificationStatus),
			d.DaysRemaining,
			d.ProcessingDays,
			yesNo(d.IsOverdue),
			completed,
			r.Jurisdiction,
			strings.Join(r.ApplicableLaws, ", "),
		}
		writeRow(f, registerSheet, i+2, row)
	}
	f.SetColWidth(registerSheet, "A", "A", 32)
	f.SetColWidth(registerSheet, "B", "P", 16)
	f.SetPanes(registerSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	// --- Summary Sheet ---
	f.NewSheet(summarySheet)
	f.SetCellValue(summarySheet, "A1", "DSAR register")
	f.SetCellValue(summarySheet, "A2", fmt.Sprintf("Generated %s", now.Format(time.RFC3339)))
	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	f.SetCellStyle(summarySheet, "A1", "A1", titleStyle)

	writeHeaderRow(f, summarySheet, []string{"Status", "Count"}, 4)
	row := 5
	for _, st := range models.DSARStatuses {
		writeRow(f, summarySheet, row, []interface{}{string(st), byStatus[st]})
		row++
	}
	writeRow(f, summarySheet, row, []interface{}{"overdue", overdue})
	writeRow(f, summarySheet, row+1, []interface{}{"total", len(requests)})
	f.SetColWidth(summarySheet, "A", "B", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write excel buffer: %w", err)
	}
	return buf, nil
}

// writeHeaderRow writes bold headers at row 1, or at the optional row given
func writeHeaderRow(f *excelize.File, sheet string, headers []string, atRow ...int) {
	rowNum := 1
	if len(atRow) > 0 {
		rowNum = atRow[0]
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, rowNum)
		f.SetCellValue(sheet, cell, header)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	first, _ := excelize.CoordinatesToCellName(1, rowNum)
	last, _ := excelize.CoordinatesToCellName(len(headers), rowNum)
	f.SetCellStyle(sheet, first, last, headerStyle)
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []interface{}) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, rowNum)
		f.SetCellValue(sheet, cell, v)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
