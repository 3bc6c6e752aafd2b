package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/smartthermostat/gattlink/pkg/log"
)

// RunExport exports the log file to the specified format.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{"timestamp", "session_id", "direction", "category", "type", "attribute", "transaction_id", "attempt", "status", "payload", "value"}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := cw.Write(csvRow(event)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return cw.Error()
}

func csvRow(event log.Event) []string {
	var eventType, txID, attempt, status, payload, value string
	switch {
	case event.Transaction != nil:
		tx := event.Transaction
		eventType = tx.Phase.String()
		txID = strconv.FormatUint(tx.ID, 10)
		if tx.Attempt > 0 {
			attempt = strconv.Itoa(tx.Attempt)
		}
		if tx.Status != nil {
			status = strconv.Itoa(int(*tx.Status))
		}
		payload = hex.EncodeToString(tx.Payload)
	case event.StateChange != nil:
		eventType = "state"
		value = event.StateChange.NewState
	case event.Notification != nil:
		eventType = "notification"
		payload = hex.EncodeToString(event.Notification.Payload)
		if event.Notification.Value != nil {
			value = strconv.FormatFloat(*event.Notification.Value, 'f', -1, 64)
		}
	case event.Error != nil:
		eventType = "error"
		value = event.Error.Message
	default:
		eventType = "unknown"
	}

	return []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.SessionID,
		event.Direction.String(),
		event.Category.String(),
		eventType,
		log.EventAttribute(event),
		txID,
		attempt,
		status,
		payload,
		value,
	}
}
