package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/guardline/promptsentry/pkg/bus"
	"github.com/guardline/promptsentry/pkg/event"
)

// JSONLDisplay handles JSONL output formatting
type JSONLDisplay struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJSONLDisplay creates a new display handler for JSONL output with custom writer
func NewJSONLDisplay(writer io.Writer) *JSONLDisplay {
	return &JSONLDisplay{
		writer: writer,
	}
}

// PrintHeader does nothing for JSONL output (no header needed)
func (j *JSONLDisplay) PrintHeader() {
	// No header for JSONL output
}

// PrintStats does nothing for JSONL output (stats not applicable)
func (j *JSONLDisplay) PrintStats(stats map[string]interface{}) {
	// No stats output for JSONL format
}

// PrintInfo does nothing for JSONL output (info messages not applicable)
func (j *JSONLDisplay) PrintInfo(format string, args ...interface{}) {
	// No info messages for JSONL format
}

// PrintAlert outputs a single alert in JSON format
func (j *JSONLDisplay) PrintAlert(alert *event.SecurityAlertEvent) {
	data, err := json.Marshal(alert)
	if err != nil {
		logrus.WithError(err).Error("failed to marshal alert")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintf(j.writer, "%s\n", string(data))
}

// SubscribeTo wires the sink to the bus.
func (j *JSONLDisplay) SubscribeTo(eventBus bus.EventBus) error {
	return eventBus.Subscribe(event.EventTypeSecurityAlert, j.handleEvent)
}

func (j *JSONLDisplay) handleEvent(e event.Event) {
	if alert, ok := e.(*event.SecurityAlertEvent); ok {
		j.PrintAlert(alert)
	}
}
