package reportconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

const (
	DefaultPeriodFormat   = "%b-%y"
	DefaultFileDateFormat = "%y-%m-%d"
)

// PreviousMonth steps back 31 days. Early in a month following a short month
// this lands two months back; report schedules account for that.
func PreviousMonth(t time.Time) time.Time {
	return t.AddDate(0, 0, -31)
}

// Period formats t with the step's date format (default "%b-%y") in upper case,
// e.g. "MAR-24".
func Period(step Step, t time.Time) (string, error) {
	format := step.DateFormat
	if format == "" {
		format = DefaultPeriodFormat
	}
	s, err := strftime.Format(format, t)
	if err != nil {
		return "", fmt.Errorf("%w: step %q date_format %q: %v", ErrInvalidConfig, step.Name, format, err)
	}
	return strings.ToUpper(s), nil
}

// FileName builds "<report>/<prefix><date><suffix>" from a "prefix,suffix"
// template and the step's date format (default "%y-%m-%d").
func FileName(report, template string, step Step, t time.Time) (string, error) {
	if template == "" {
		return "", fmt.Errorf("%w: no file name template for report %q", ErrInvalidConfig, report)
	}
	parts := strings.SplitN(template, ",", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: file name template %q for report %q must be \"prefix,suffix\"", ErrInvalidConfig, template, report)
	}

	format := step.DateFormat
	if format == "" {
		format = DefaultFileDateFormat
	}
	date, err := strftime.Format(format, t)
	if err != nil {
		return "", fmt.Errorf("%w: step %q date_format %q: %v", ErrInvalidConfig, step.Name, format, err)
	}
	return report + "/" + parts[0] + date + parts[1], nil
}
