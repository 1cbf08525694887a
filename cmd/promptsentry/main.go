package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/guardline/promptsentry/pkg/audit"
	"github.com/guardline/promptsentry/pkg/bus"
	"github.com/guardline/promptsentry/pkg/eventlogger"
	"github.com/guardline/promptsentry/pkg/output"
	"github.com/guardline/promptsentry/pkg/preprocess"
	"github.com/guardline/promptsentry/pkg/promptfile"
	"github.com/guardline/promptsentry/pkg/sanitize"
	"github.com/guardline/promptsentry/pkg/session"
	"github.com/guardline/promptsentry/pkg/version"
)

// Command line flags
var (
	verbose        bool
	inputFile      string
	outputFile     string
	policyFile     string
	logLevel       string
	sessionID      string
	thresholdLow   float64
	thresholdMed   float64
	thresholdHigh  float64
	highConfidence float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "promptsentry",
		Short: "Scan prompts for injection attempts before they reach a model",
		Long: `PromptSentry runs prompts through a secure preprocessing pipeline:
heuristic injection detection, threshold-based decisions, conservative
sanitization, structured audit logging, and alerting on blocked prompts.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version.Version, version.Commit, version.Date),
		RunE:         run,
		SilenceUsage: true,
	}

	// Add flags
	rootCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file with JSONL prompt records (default: stdin)")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (audit records in JSONL format)")
	rootCmd.Flags().StringVarP(&policyFile, "policy-file", "p", "", "File holding the system policy wrapper text")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging (debug level)")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "warning", "Set log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id for records that don't carry one")
	rootCmd.Flags().Float64Var(&thresholdLow, "threshold-low", 0.25, "Score at which prompts are flagged")
	rootCmd.Flags().Float64Var(&thresholdMed, "threshold-medium", 0.60, "Score treated as medium risk")
	rootCmd.Flags().Float64Var(&thresholdHigh, "threshold-high", 0.85, "Score at which prompts are blocked")
	rootCmd.Flags().Float64Var(&highConfidence, "high-confidence", preprocess.DefaultHighConfidenceBar, "Score at which a batch stops and terminates its session")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Set up logging
	// Handle verbose flag as shortcut for debug level
	if verbose {
		logLevel = "debug"
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", logLevel, err)
	}
	logrus.SetLevel(level)

	// A publish/subscribe event bus for inter-component communication
	eventBus := bus.New()
	defer eventBus.Close()

	// Trace-level mirror of every bus event
	evLogger, err := eventlogger.New(eventBus)
	if err != nil {
		return fmt.Errorf("failed to create event logger: %w", err)
	}
	defer evLogger.Close()

	consoleDisplay := output.NewConsoleDisplay(os.Stdout)
	if err := consoleDisplay.SubscribeTo(eventBus); err != nil {
		return fmt.Errorf("failed to subscribe console display: %w", err)
	}
	consoleDisplay.PrintHeader()

	// Audit sinks: logrus always, JSONL file when requested
	auditors := audit.MultiLogger{audit.NewLogrusLogger(nil)}
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file '%s': %w", outputFile, err)
		}
		defer func() {
			if err := file.Close(); err != nil {
				logrus.WithError(err).Error("Failed to close output file")
			}
		}()
		auditors = append(auditors, audit.NewJSONLWriter(file))
	}

	var policy sanitize.PolicyProvider
	if policyFile != "" {
		data, err := os.ReadFile(policyFile)
		if err != nil {
			return fmt.Errorf("failed to read policy file '%s': %w", policyFile, err)
		}
		text := strings.TrimSpace(string(data))
		policy = func() string { return text }
	}

	sessions := session.NewManager(eventBus)

	pre, err := preprocess.New(
		preprocess.Config{
			Thresholds: preprocess.Thresholds{
				Low:    thresholdLow,
				Medium: thresholdMed,
				High:   thresholdHigh,
			},
			Policy: policy,
		},
		nil,
		auditors,
		preprocess.NewBusAlerter(eventBus),
		sessions,
	)
	if err != nil {
		return err
	}

	batch := preprocess.NewBatchProcessor(pre, nil, sessions, highConfidence)

	// Read prompt records
	in := os.Stdin
	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file '%s': %w", inputFile, err)
		}
		defer f.Close()
		in = f
	}

	records, err := promptfile.Load(in)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		consoleDisplay.PrintInfo("No prompts to process")
		return nil
	}

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	// Group prompts by session, preserving order within each
	order, groups := groupBySession(records)
	for _, sid := range order {
		if err := ctx.Err(); err != nil {
			break
		}

		sessions.Create(sid)
		result, err := batch.ProcessPrompts(ctx, sid, groups[sid])
		if err != nil {
			logrus.WithError(err).WithField("sid", sid).Error("Batch processing failed")
			continue
		}

		if result.HighConfidenceDetected {
			consoleDisplay.PrintInfo("Session %s: injection detected at prompt %d (%d/%d processed)",
				sid, result.DetectionIndex, result.TotalPromptsProcessed, len(groups[sid]))
		}
	}

	// Flush async alert handlers before printing the summary
	eventBus.WaitAsync()
	consoleDisplay.PrintStats(pre.Stats())

	return nil
}

// groupBySession splits records into per-session prompt lists, keeping first
// appearance order of sessions. Records without a session id use the
// --session flag value.
func groupBySession(records []promptfile.Record) ([]string, map[string][]string) {
	var order []string
	groups := make(map[string][]string)
	for _, r := range records {
		sid := r.SessionID
		if sid == "" {
			sid = sessionID
		}
		if sid == "" {
			sid = "default"
		}
		if _, ok := groups[sid]; !ok {
			order = append(order, sid)
		}
		groups[sid] = append(groups[sid], r.Prompt)
	}
	return order, groups
}
