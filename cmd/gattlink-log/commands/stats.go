package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/smartthermostat/gattlink/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	EventsByPhase     map[log.Phase]int
	Attributes        map[string]*AttributeStats
	Sessions          map[string]int
	StateChanges      int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// AttributeStats holds statistics for a single characteristic.
type AttributeStats struct {
	Transactions  int
	Retries       int
	Drops         int
	Notifications int
	Forwarded     int
	LastValue     *float64
}

// Collect reads every event of the log file into a Stats.
func Collect(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		EventsByPhase:     make(map[log.Phase]int),
		Attributes:        make(map[string]*AttributeStats),
		Sessions:          make(map[string]int),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++
	s.Sessions[event.SessionID]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	switch {
	case event.Transaction != nil:
		tx := event.Transaction
		s.EventsByPhase[tx.Phase]++
		a := s.attribute(tx.Attribute)
		switch tx.Phase {
		case log.PhaseEnqueued:
			a.Transactions++
		case log.PhaseRetried:
			a.Retries++
		case log.PhaseDropped:
			a.Drops++
		}
	case event.Notification != nil:
		n := event.Notification
		a := s.attribute(n.Attribute)
		a.Notifications++
		if n.Forwarded {
			a.Forwarded++
		}
		if n.Value != nil {
			v := *n.Value
			a.LastValue = &v
		}
	case event.StateChange != nil:
		s.StateChanges++
	case event.Error != nil:
		s.Errors++
	}
}

func (s *Stats) attribute(id string) *AttributeStats {
	a, ok := s.Attributes[id]
	if !ok {
		a = &AttributeStats{}
		s.Attributes[id] = a
	}
	return a
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== gattlink Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintf(w, "Sessions:     %d\n", len(stats.Sessions))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryTransaction, log.CategoryState, log.CategoryNotification, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.EventsByPhase) > 0 {
		fmt.Fprintln(w, "Transactions by Phase:")
		for p := log.PhaseEnqueued; p <= log.PhaseReset; p++ {
			if count := stats.EventsByPhase[p]; count > 0 {
				fmt.Fprintf(w, "  %-14s %d\n", p.String()+":", count)
			}
		}
		fmt.Fprintln(w)
	}

	if len(stats.Attributes) > 0 {
		ids := make([]string, 0, len(stats.Attributes))
		for id := range stats.Attributes {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Fprintln(w, "Attributes:")
		for _, id := range ids {
			a := stats.Attributes[id]
			fmt.Fprintf(w, "  %s\n", id)
			fmt.Fprintf(w, "    Transactions:  %d (retries %d, dropped %d)\n", a.Transactions, a.Retries, a.Drops)
			fmt.Fprintf(w, "    Notifications: %d (forwarded %d)\n", a.Notifications, a.Forwarded)
			if a.LastValue != nil {
				fmt.Fprintf(w, "    Last Value:    %.2f\n", *a.LastValue)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "State Changes: %d\n", stats.StateChanges)
	fmt.Fprintf(w, "Errors:        %d\n", stats.Errors)
}
