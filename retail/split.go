package retail

import "time"

// DefaultCutoff separates training history from the validation window.
var DefaultCutoff = time.Date(2012, time.April, 1, 0, 0, 0, 0, time.UTC)

// Split is a partition of observations around a cutoff date.
type Split struct {
	Cutoff     time.Time
	Train      []Observation // Date < Cutoff
	Validation []Observation // Date >= Cutoff
}

// SplitAt partitions obs around cutoff. Relative order is preserved, so
// date-sorted input gives date-sorted halves. The comparison is on calendar
// dates, matching how the cutoff is specified.
func SplitAt(obs []Observation, cutoff time.Time) Split {
	cut := truncateDay(cutoff)
	s := Split{Cutoff: cut}
	for _, o := range obs {
		if truncateDay(o.Date).Before(cut) {
			s.Train = append(s.Train, o)
		} else {
			s.Validation = append(s.Validation, o)
		}
	}
	return s
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseCutoff accepts YYYY-MM-DD or the dataset's DD/MM/YYYY.
func ParseCutoff(s string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return t, nil
	}
	return ParseDate(s)
}
