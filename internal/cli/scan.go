package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/auditlog"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/config"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/emit"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/history"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/ingress"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/metrics"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/pipeline"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/policy"
)

// maxLineSize is the maximum NDJSON line length (10 MB).
const maxLineSize = 10 * 1024 * 1024

// verdict is the per-event JSON output line in --json mode.
type verdict struct {
	Line         int      `json:"line,omitempty"`
	RequestID    string   `json:"requestId,omitempty"`
	Action       string   `json:"action,omitempty"`
	Risk         string   `json:"risk,omitempty"`
	Findings     int      `json:"findings"`
	Reasons      []string `json:"reasons,omitempty"`
	EvidencePath string   `json:"evidencePath,omitempty"`
	RootHash     string   `json:"rootHash,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func scanCmd() *cobra.Command {
	var configFile string
	var rulesFile string
	var evidenceDir string
	var sessionID string
	var jsonOutput bool
	var metricsListen string

	cmd := &cobra.Command{
		Use:   "scan [event.json|-]",
		Short: "Audit one agent turn, or a stream of turns",
		Long: `Audit agent turns. The argument is a JSON file holding one ingress
event, or "-" to read newline-delimited events from stdin.

Events without a requestId are assigned a random one before validation.
Exit status is 1 when any turn decided challenge or block.

Examples:
  schnabel scan turn.json
  cat turns.ndjson | schnabel scan -
  schnabel scan turn.json --rules my-rules.json --json
  schnabel scan - --session interactive-7 --config schnabel.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configFile)
			if err != nil {
				return err
			}
			if rulesFile != "" {
				cfg.RulePack.Path = rulesFile
			}
			if evidenceDir != "" {
				cfg.Evidence.Enabled = true
				cfg.Evidence.Dir = evidenceDir
			}

			// Stdout belongs to verdict output here; structured logs only go
			// to a file when one is configured.
			logger := auditlog.NewNop()
			if cfg.Logging.Output == "file" || cfg.Logging.Output == "both" {
				fileLogger, err := auditlog.New(cfg.Logging.Format, "file",
					cfg.Logging.File, cfg.Logging.IncludeAllowed)
				if err != nil {
					return fmt.Errorf("creating logger: %w", err)
				}
				logger = fileLogger
			}
			defer logger.Close()

			opts := []pipeline.Option{pipeline.WithLogger(logger)}

			m := metrics.New()
			opts = append(opts, pipeline.WithMetrics(m))
			if metricsListen == "" {
				metricsListen = cfg.Metrics.Listen
			}
			if metricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", m.PrometheusHandler())
				mux.HandleFunc("/stats", m.StatsHandler())
				srv := &http.Server{Addr: metricsListen, Handler: mux}
				go func() { _ = srv.ListenAndServe() }()
				defer func() { _ = srv.Close() }()
			}

			if cfg.History.Enabled {
				store, err := history.Open(cfg.History.Path)
				if err != nil {
					return err
				}
				defer store.Close() //nolint:errcheck // shutdown
				opts = append(opts, pipeline.WithHistory(store))
			}

			if url := cfg.Emit.Webhook.URL; url != "" {
				sink := emit.NewWebhookSink(url,
					emit.WithBearerToken(cfg.Emit.Webhook.Token),
					emit.WithMinSeverity(emit.ParseSeverity(cfg.Emit.Webhook.MinSeverity)))
				opts = append(opts, pipeline.WithEmitter(sink))
			}

			auditor, err := pipeline.New(cfg, opts...)
			if err != nil {
				return err
			}
			defer auditor.Close() //nolint:errcheck // shutdown

			if args[0] == "-" {
				return scanStream(cmd, auditor, sessionID, jsonOutput)
			}
			return scanFile(cmd, auditor, args[0], sessionID, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "rule pack path (overrides config)")
	cmd.Flags().StringVar(&evidenceDir, "evidence-dir", "", "persist evidence packages to this directory")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id for the history trail")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit one JSON verdict per event")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve /metrics and /stats on this address")

	return cmd
}

func loadConfigOrDefault(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func scanFile(cmd *cobra.Command, auditor *pipeline.Auditor, path, sessionID string, jsonOutput bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: CLI argument
	if err != nil {
		return fmt.Errorf("reading event: %w", err)
	}

	v := auditOne(cmd.Context(), auditor, data, sessionID)
	if jsonOutput {
		if err := writeJSONVerdict(cmd.OutOrStdout(), v); err != nil {
			return err
		}
	} else {
		writeTextVerdict(cmd, v)
	}
	if v.Error != "" {
		return fmt.Errorf("%s", v.Error)
	}
	if blocking(v.Action) {
		cmd.SilenceErrors = true
		return fmt.Errorf("decision: %s", v.Action)
	}
	return nil
}

func scanStream(cmd *cobra.Command, auditor *pipeline.Auditor, sessionID string, jsonOutput bool) error {
	sc := bufio.NewScanner(cmd.InOrStdin())
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	anyBlocking := false
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		v := auditOne(cmd.Context(), auditor, []byte(line), sessionID)
		v.Line = lineNum
		if blocking(v.Action) {
			anyBlocking = true
		}

		if jsonOutput {
			if err := writeJSONVerdict(cmd.OutOrStdout(), v); err != nil {
				return err
			}
		} else {
			writeTextVerdict(cmd, v)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	if anyBlocking {
		cmd.SilenceErrors = true
		return fmt.Errorf("one or more turns decided challenge or block")
	}
	return nil
}

// auditOne parses, defaults, and audits a single event payload. Failures
// are reported in the verdict, never panics.
func auditOne(ctx context.Context, auditor *pipeline.Auditor, data []byte, sessionID string) verdict {
	ev, err := ingress.ParseEvent(data)
	if err != nil {
		return verdict{Error: err.Error()}
	}
	if ev.RequestID == "" {
		ev.RequestID = uuid.NewString()
	}

	out, err := auditor.AuditEvent(ctx, ev, sessionID)
	if err != nil {
		return verdict{RequestID: ev.RequestID, Error: err.Error()}
	}

	return verdict{
		RequestID:    ev.RequestID,
		Action:       string(out.Decision.Action),
		Risk:         string(out.Decision.Risk),
		Findings:     len(out.Findings),
		Reasons:      out.Decision.Reasons,
		EvidencePath: out.EvidencePath,
		RootHash:     out.Evidence.Integrity.RootHash,
	}
}

func blocking(action string) bool {
	return action == string(policy.ActionChallenge) || action == string(policy.ActionBlock)
}

func writeJSONVerdict(w io.Writer, v verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling verdict: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing verdict: %w", err)
	}
	return nil
}

func writeTextVerdict(cmd *cobra.Command, v verdict) {
	prefix := ""
	if v.Line > 0 {
		prefix = fmt.Sprintf("line %d: ", v.Line)
	}
	if v.Error != "" {
		cmd.PrintErrf("%s[ERROR] %s\n", prefix, v.Error)
		return
	}
	cmd.Printf("%s%s %s (risk=%s, findings=%d)\n", prefix, v.RequestID, v.Action, v.Risk, v.Findings)
	for _, r := range v.Reasons {
		cmd.Printf("  - %s\n", r)
	}
	if v.EvidencePath != "" {
		cmd.Printf("  evidence: %s\n", v.EvidencePath)
	}
}
