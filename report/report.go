// Package report renders verification outcomes for review: a CSV
// export covering every application on file and compact summaries for
// CLI and log output.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/labelkit/labelkit/compliance"
	"github.com/labelkit/labelkit/pipeline"
)

// Row statuses in the CSV export.
const (
	StatusPassed    = "passed"
	StatusFailed    = "failed"
	StatusError     = "error"
	StatusUnscanned = "unscanned"
)

var csvHeader = []string{
	"application_num",
	"brand_name",
	"class",
	"fanciful_name",
	"bottler_name",
	"bottler_address",
	"status",
	"failures",
}

// WriteCSV exports one row per application record, in record order.
// verdicts maps application numbers to stored verdicts; errs maps
// application numbers to the message of a scan that could not complete.
// An error entry wins over a verdict, and its message lands in the
// failures column. Applications in neither map export as unscanned.
func WriteCSV(w io.Writer, records []compliance.Record, verdicts map[string]compliance.Verdict, errs map[string]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		status, failures := rowStatus(rec.ApplicationNum, verdicts, errs)
		row := []string{
			rec.ApplicationNum,
			rec.BrandName,
			rec.ClassType,
			rec.FancifulName,
			rec.BottlerName,
			rec.BottlerAddress,
			status,
			failures,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", rec.ApplicationNum, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func rowStatus(appNum string, verdicts map[string]compliance.Verdict, errs map[string]string) (status, failures string) {
	if msg, ok := errs[appNum]; ok {
		return StatusError, msg
	}
	v, ok := verdicts[appNum]
	if !ok {
		return StatusUnscanned, ""
	}
	if v.Compliant {
		return StatusPassed, ""
	}
	return StatusFailed, strings.Join(v.Failures(), "; ")
}

// Summarize renders a one-line account of a batch run.
func Summarize(res pipeline.BatchResult) string {
	s := res.Summary()
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d labels, %d compliant, %d non-compliant, %d unprocessable",
		res.RunID, s.Total, s.Compliant, s.NonCompliant, s.Unprocessable)
	if s.Degraded > 0 {
		fmt.Fprintf(&b, ", %d degraded", s.Degraded)
	}
	fmt.Fprintf(&b, " in %s", res.Elapsed().Round(time.Millisecond))
	return b.String()
}

// FormatOutcome renders a one-line account of a single label scan.
func FormatOutcome(o pipeline.LabelOutcome) string {
	var b strings.Builder
	b.WriteString(o.AppNum)
	switch {
	case o.Err != nil:
		fmt.Fprintf(&b, ": error: %v", o.Err)
	case o.Verdict == nil:
		b.WriteString(": unscanned")
	case o.Verdict.Compliant:
		fmt.Fprintf(&b, ": passed (%s)", o.Elapsed.Round(time.Millisecond))
	default:
		fmt.Fprintf(&b, ": failed [%s]", strings.Join(o.Verdict.Failures(), ", "))
	}
	if o.Err == nil && len(o.Degraded) > 0 {
		fmt.Fprintf(&b, " (degraded: %s)", strings.Join(o.Degraded, ", "))
	}
	return b.String()
}
