package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/generic"
)

type xlsxColumn struct {
	title string
	width float64
	value func(billing.ValidationResult) any
}

var xlsxColumns = []xlsxColumn{
	{"利用者ID", 14, func(r billing.ValidationResult) any { return string(r.UserID) }},
	{"氏名", 18, func(r billing.ValidationResult) any { return r.UserName }},
	{"利用日数", 10, func(r billing.ValidationResult) any { return r.UsageCount }},
	{"支給量", 10, func(r billing.ValidationResult) any { return r.LimitCount }},
	{"放課後", 10, func(r billing.ValidationResult) any { return r.AfterSchoolDays }},
	{"休校日", 10, func(r billing.ValidationResult) any { return r.HolidaySchoolDays }},
	{"延長1", 8, func(r billing.ValidationResult) any { return r.ExtensionDays.Class1 }},
	{"延長2", 8, func(r billing.ValidationResult) any { return r.ExtensionDays.Class2 }},
	{"延長3", 8, func(r billing.ValidationResult) any { return r.ExtensionDays.Class3 }},
	{"推定負担額", 12, func(r billing.ValidationResult) any { return r.EstimatedCost }},
	{"請求負担額", 12, func(r billing.ValidationResult) any { return r.FinalBurden }},
	{"判定", 48, func(r billing.ValidationResult) any {
		if r.Passed() {
			return "OK"
		}
		return strings.Join(r.Reasons(), " / ")
	}},
}

// WriteXLSX builds the monthly check sheet: a title row, a header row and
// one row per result. Rows with findings are highlighted.
func WriteXLSX(results []billing.ValidationResult, month generic.YearMonth) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := month.String()
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	flaggedStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FCE4D6"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("flagged style: %w", err)
	}

	last := colName(len(xlsxColumns) - 1)
	f.SetCellValue(sheet, "A1", fmt.Sprintf("%d年%d月 利用実績チェック", month.Year, int(month.Month)))
	f.MergeCell(sheet, "A1", cell(last, 1))

	for i, col := range xlsxColumns {
		name := colName(i)
		f.SetColWidth(sheet, name, name, col.width)
		f.SetCellValue(sheet, cell(name, 2), col.title)
	}
	f.SetCellStyle(sheet, "A2", cell(last, 2), headerStyle)

	row := 3
	for _, r := range results {
		for i, col := range xlsxColumns {
			f.SetCellValue(sheet, cell(colName(i), row), col.value(r))
		}
		if !r.Passed() {
			f.SetCellStyle(sheet, cell("A", row), cell(last, row), flaggedStyle)
		}
		row++
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

// XLSXFilename is the download name for a month's check sheet.
func XLSXFilename(month generic.YearMonth) string {
	return fmt.Sprintf("billing_%s.xlsx", month)
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
