package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/guardline/promptsentry/pkg/bus"
	"github.com/guardline/promptsentry/pkg/event"
)

// ConsoleDisplay handles the CLI output formatting for console output
type ConsoleDisplay struct {
	writer io.Writer
}

// NewConsoleDisplay creates a new display handler for console output with custom writer
func NewConsoleDisplay(writer io.Writer) *ConsoleDisplay {
	return &ConsoleDisplay{
		writer: writer,
	}
}

// Colors for different elements
var (
	timestampColor = color.New(color.FgHiBlack)
	blockColor     = color.New(color.FgRed, color.Bold)
	warnColor      = color.New(color.FgYellow)
	allowColor     = color.New(color.FgGreen)
	severityColor  = color.New(color.FgHiRed)
	patternColor   = color.New(color.FgCyan)
	headerColor    = color.New(color.FgWhite, color.Bold)
	idColor        = color.New(color.FgHiBlack)
)

// PrintHeader prints the PromptSentry header
func (d *ConsoleDisplay) PrintHeader() {
	header := `
███████╗███████╗███╗   ██╗████████╗██████╗ ██╗   ██╗
██╔════╝██╔════╝████╗  ██║╚══██╔══╝██╔══██╗╚██╗ ██╔╝
███████╗█████╗  ██╔██╗ ██║   ██║   ██████╔╝ ╚████╔╝
╚════██║██╔══╝  ██║╚██╗██║   ██║   ██╔══██╗  ╚██╔╝
███████║███████╗██║ ╚████║   ██║   ██║  ██║   ██║
╚══════╝╚══════╝╚═╝  ╚═══╝   ╚═╝   ╚═╝  ╚═╝   ╚═╝
`
	headerColor.Fprintln(d.writer, header)
	fmt.Fprintln(d.writer, "PromptSentry - Secure Prompt Preprocessing Pipeline")
	fmt.Fprintln(d.writer, strings.Repeat("─", 80))
}

// PrintAlert prints a single security alert line
// Format: [timestamp] [action] [severity] [type] [score] [patterns] [sid]
func (d *ConsoleDisplay) PrintAlert(alert *event.SecurityAlertEvent) {
	ts := timestampColor.Sprint(alert.Timestamp.Format("15:04:05.000"))

	var action string
	switch alert.ActionTaken {
	case event.ActionBlock:
		action = blockColor.Sprint("BLOCK")
	case event.ActionWarn:
		action = warnColor.Sprint("WARN ")
	default:
		action = allowColor.Sprint("ALLOW")
	}

	fmt.Fprintf(d.writer, "%s %s %s %s score=%.2f %s %s\n",
		ts,
		action,
		severityColor.Sprint(strings.ToUpper(alert.Severity.String())),
		alert.InjectionType,
		alert.Score,
		patternColor.Sprint(strings.Join(alert.DetectedPatterns, ",")),
		idColor.Sprintf("[%s %s]", alert.SessionID, alert.InputFingerprint),
	)
}

// PrintSessionTerminated prints a session termination notice
func (d *ConsoleDisplay) PrintSessionTerminated(evt *event.SessionTerminatedEvent) {
	ts := timestampColor.Sprint(evt.Timestamp.Format("15:04:05.000"))
	fmt.Fprintf(d.writer, "%s %s session %s (%s)\n",
		ts,
		blockColor.Sprint("TERM "),
		evt.SessionID,
		evt.Reason,
	)
}

// PrintStats prints statistics table
func (d *ConsoleDisplay) PrintStats(stats map[string]interface{}) {
	fmt.Fprintln(d.writer, "\n"+strings.Repeat("─", 80))
	headerColor.Fprintln(d.writer, "Statistics:")

	table := tablewriter.NewWriter(d.writer)
	table.SetHeader([]string{"Metric", "Count"})
	table.SetBorder(false)
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		table.Append([]string{k, fmt.Sprintf("%v", stats[k])})
	}

	table.Render()
}

// PrintInfo prints an info message
func (d *ConsoleDisplay) PrintInfo(format string, args ...interface{}) {
	fmt.Fprintf(d.writer, format+"\n", args...)
}

// SubscribeTo wires the display to the bus so alerts and terminations are
// rendered as they are published.
func (d *ConsoleDisplay) SubscribeTo(eventBus bus.EventBus) error {
	if err := eventBus.Subscribe(event.EventTypeSecurityAlert, d.handleEvent); err != nil {
		return err
	}
	return eventBus.Subscribe(event.EventTypeSessionTerminated, d.handleEvent)
}

func (d *ConsoleDisplay) handleEvent(e event.Event) {
	switch evt := e.(type) {
	case *event.SecurityAlertEvent:
		d.PrintAlert(evt)
	case *event.SessionTerminatedEvent:
		d.PrintSessionTerminated(evt)
	}
}
