package billing

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/generic"
)

// =============================================================================
// BILLING AGGREGATOR
// =============================================================================

// Aggregator builds the monthly report: one ValidationResult per user with
// usage in the month or an active profile, sorted by display name.
type Aggregator struct {
	Validator  *Validator
	Extensions attendance.ExtensionPolicy
	// Language drives name collation. Japanese by default.
	Language language.Tag
}

func NewAggregator(rates RateConfig, extensions attendance.ExtensionPolicy) *Aggregator {
	return &Aggregator{
		Validator:  NewValidator(rates),
		Extensions: extensions,
		Language:   language.Japanese,
	}
}

// Aggregate produces the report for month. Records outside month and
// records of unknown users are ignored. The order of users and records in
// the input does not affect the output.
func (a *Aggregator) Aggregate(users []UserEntitlement, records []attendance.AttendanceRecord, month generic.YearMonth) []ValidationResult {
	byUser := make(map[generic.UserID][]attendance.AttendanceRecord)
	for _, r := range records {
		if r.Date.YearMonth() == month {
			byUser[r.UserID] = append(byUser[r.UserID], r)
		}
	}

	monthEnd := month.End()
	results := make([]ValidationResult, 0, len(users))
	for _, u := range users {
		mine, hasRecords := byUser[u.UserID]
		if !hasRecords && !u.Active {
			continue
		}
		result := a.Validator.Validate(u, mine, monthEnd)
		result.ExtensionDays = a.extensionDays(mine)
		results = append(results, result)
	}

	a.sortResults(results)
	return results
}

// extensionDays counts days per extension tier over deduped countable
// records.
func (a *Aggregator) extensionDays(records []attendance.AttendanceRecord) ExtensionDays {
	var days ExtensionDays
	for _, r := range attendance.Dedupe(records) {
		switch a.Extensions.EffectiveClass(r) {
		case attendance.ExtensionClass1:
			days.Class1++
		case attendance.ExtensionClass2:
			days.Class2++
		case attendance.ExtensionClass3:
			days.Class3++
		}
	}
	return days
}

// sortResults orders by collated display name, then user ID. A Collator is
// not safe for concurrent use, so each call builds its own.
func (a *Aggregator) sortResults(results []ValidationResult) {
	tag := a.Language
	if tag == language.Und {
		tag = language.Japanese
	}
	c := collate.New(tag)
	sort.SliceStable(results, func(i, j int) bool {
		if cmp := c.CompareString(results[i].UserName, results[j].UserName); cmp != 0 {
			return cmp < 0
		}
		return results[i].UserID < results[j].UserID
	})
}

// =============================================================================
// MULTI-MONTH AGGREGATION
// =============================================================================

// MonthlyReport is the aggregate of a single month.
type MonthlyReport struct {
	Month   generic.YearMonth  `json:"month"`
	Results []ValidationResult `json:"results"`
}

// AggregateMonths aggregates several months concurrently with at most
// workers goroutines (workers <= 0 means one per month). Reports come back in
// ascending month order. The inputs are only read.
func (a *Aggregator) AggregateMonths(ctx context.Context, users []UserEntitlement, records []attendance.AttendanceRecord, months []generic.YearMonth, workers int) ([]MonthlyReport, error) {
	ordered := append([]generic.YearMonth(nil), months...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	reports := make([]MonthlyReport, len(ordered))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, month := range ordered {
		i, month := i, month
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("aggregate %s: %w", month, err)
			}
			reports[i] = MonthlyReport{
				Month:   month,
				Results: a.Aggregate(users, records, month),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
