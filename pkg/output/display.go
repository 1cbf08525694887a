package output

import "github.com/guardline/promptsentry/pkg/event"

// Handler defines the interface for different output formats
type Handler interface {
	PrintHeader()
	PrintAlert(alert *event.SecurityAlertEvent)
	PrintStats(stats map[string]interface{})
	PrintInfo(format string, args ...interface{})
}
