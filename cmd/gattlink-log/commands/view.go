// Package commands implements the gattlink-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/smartthermostat/gattlink/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	SessionID string
	Direction *log.Direction
	Category  *log.Category
	Attribute string
}

func (f ViewFilter) toLogFilter() log.Filter {
	return log.Filter{
		SessionID: f.SessionID,
		Direction: f.Direction,
		Category:  f.Category,
		Attribute: f.Attribute,
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session:id] DIRECTION CATEGORY Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.Transaction != nil:
		typeLabel = event.Transaction.Kind + " " + event.Transaction.Phase.String()
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Notification != nil:
		typeLabel = "Notification"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [session:%s] %-3s %s %s\n", ts, shortenSessionID(event.SessionID),
		event.Direction.String(), event.Category.String(), typeLabel)

	switch {
	case event.Transaction != nil:
		formatTransactionDetails(w, event.Transaction)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Notification != nil:
		formatNotificationDetails(w, event.Notification)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatTransactionDetails(w io.Writer, tx *log.TransactionEvent) {
	fmt.Fprintf(w, "  Transaction: %d\n", tx.ID)
	fmt.Fprintf(w, "  Attribute: %s\n", tx.Attribute)
	if tx.Attempt > 0 {
		fmt.Fprintf(w, "  Attempt: %d\n", tx.Attempt)
	}
	if tx.Status != nil {
		fmt.Fprintf(w, "  Status: %s\n", formatStatus(*tx.Status))
	}
	if len(tx.Payload) > 0 {
		fmt.Fprintf(w, "  Payload: %s\n", hex.EncodeToString(tx.Payload))
	}
	fmt.Fprintf(w, "  Queue Depth: %d\n", tx.QueueDepth)
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	old := sc.OldState
	if old == "" {
		old = "-"
	}
	fmt.Fprintf(w, "  %s -> %s\n", old, sc.NewState)
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatNotificationDetails(w io.Writer, n *log.NotificationEvent) {
	fmt.Fprintf(w, "  Attribute: %s\n", n.Attribute)
	if len(n.Payload) > 0 {
		fmt.Fprintf(w, "  Payload: %s\n", hex.EncodeToString(n.Payload))
	}
	if n.Value != nil {
		fmt.Fprintf(w, "  Value: %s\n", strconv.FormatFloat(*n.Value, 'f', 2, 64))
	}
	if n.Forwarded {
		fmt.Fprintln(w, "  Forwarded: yes")
	}
}

func formatErrorDetails(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Error: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
	if e.Attribute != "" {
		fmt.Fprintf(w, "  Attribute: %s\n", e.Attribute)
	}
}

// formatStatus renders a link status code as hex, naming the success code.
func formatStatus(s uint16) string {
	if s == 0 {
		return "0x00 (success)"
	}
	return fmt.Sprintf("0x%02X", s)
}

// ParseDirectionFlag parses a direction name (in, out).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("unknown direction: %s (valid: in, out)", s)
	}
}

// ParseCategoryFlag parses a category name.
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "transaction", "tx":
		return log.CategoryTransaction, nil
	case "state":
		return log.CategoryState, nil
	case "notification", "notify":
		return log.CategoryNotification, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("unknown category: %s (valid: transaction, state, notification, error)", s)
	}
}

// RunView reads the log file and writes every matching event to output.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.toLogFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}

	return nil
}
