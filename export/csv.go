/*
Package export renders billing reports for the office tools the facility
already uses: CSV for the claim software and XLSX for the check sheet.

CSV COLUMNS:
  The header row uses the ValidationResult JSON field names. They are the
  stable contract downstream importers are written against, so columns are
  only ever appended, never renamed or reordered.

ENCODING:
  Claim software at most facilities still expects Shift_JIS (CP932). Runes
  that Shift_JIS cannot represent are replaced rather than failing the file.
*/
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/kizuna/dayservice/billing"
)

// Encoding selects the byte encoding of a CSV export.
type Encoding string

const (
	EncodingUTF8     Encoding = "utf8"
	EncodingShiftJIS Encoding = "sjis"
)

// ParseEncoding accepts the names used in query strings. Empty means UTF-8.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf8", "utf-8":
		return EncodingUTF8, nil
	case "sjis", "shift_jis", "shift-jis", "cp932":
		return EncodingShiftJIS, nil
	}
	return "", fmt.Errorf("unsupported encoding %q", s)
}

// ContentType is the HTTP content type for a CSV in this encoding.
func (e Encoding) ContentType() string {
	if e == EncodingShiftJIS {
		return "text/csv; charset=Shift_JIS"
	}
	return "text/csv; charset=utf-8"
}

type Options struct {
	Encoding Encoding
}

// CSVHeader is the column order of WriteCSV.
var CSVHeader = []string{
	"userId",
	"userName",
	"month",
	"usageCount",
	"limitCount",
	"isOverLimit",
	"isExpired",
	"missingFields",
	"estimatedCost",
	"finalBurden",
	"afterSchoolDays",
	"holidaySchoolDays",
	"extensionClass1",
	"extensionClass2",
	"extensionClass3",
	"serviceUnits",
	"totalCost",
}

// WriteCSV writes a header row and one row per result.
func WriteCSV(w io.Writer, results []billing.ValidationResult, opts Options) error {
	out := w
	var closer io.Closer
	if opts.Encoding == EncodingShiftJIS {
		tw := transform.NewWriter(w, encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder()))
		out, closer = tw, tw
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range results {
		if err := cw.Write(csvRow(r)); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.UserID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("flush encoder: %w", err)
		}
	}
	return nil
}

func csvRow(r billing.ValidationResult) []string {
	return []string{
		string(r.UserID),
		r.UserName,
		r.Month.String(),
		strconv.Itoa(r.UsageCount),
		strconv.Itoa(r.LimitCount),
		strconv.FormatBool(r.IsOverLimit),
		strconv.FormatBool(r.IsExpired),
		strings.Join(r.MissingFields, ";"),
		strconv.FormatInt(r.EstimatedCost, 10),
		strconv.FormatInt(r.FinalBurden, 10),
		strconv.Itoa(r.AfterSchoolDays),
		strconv.Itoa(r.HolidaySchoolDays),
		strconv.Itoa(r.ExtensionDays.Class1),
		strconv.Itoa(r.ExtensionDays.Class2),
		strconv.Itoa(r.ExtensionDays.Class3),
		strconv.FormatInt(r.ServiceUnits, 10),
		strconv.FormatInt(r.TotalCost, 10),
	}
}
