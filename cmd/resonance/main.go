package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/resonance/internal/config"
	"github.com/stellarlinkco/resonance/internal/daemon"
	"github.com/stellarlinkco/resonance/internal/event"
	"github.com/stellarlinkco/resonance/internal/logging"
	"github.com/stellarlinkco/resonance/internal/scheduler"
	"github.com/stellarlinkco/resonance/internal/translog"
	"github.com/stellarlinkco/resonance/internal/voice"
)

// DaemonFactory opens a daemon for a command (allows injection for testing)
type DaemonFactory func(cfg *config.Config) (*daemon.Daemon, error)

// DefaultDaemonFactory builds a daemon with the configured logger.
func DefaultDaemonFactory(cfg *config.Config) (*daemon.Daemon, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return daemon.NewWithOptions(cfg, daemon.Options{Logger: logger})
}

var openDaemon DaemonFactory = DefaultDaemonFactory

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "resonance",
		Short:         "resonance - voices that speak up when your patterns change",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		return cfg, nil
	}
	withDaemon := func(fn func(d *daemon.Daemon) error) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		d, err := openDaemon(cfg)
		if err != nil {
			return fmt.Errorf("create daemon: %w", err)
		}
		runErr := fn(d)
		if err := d.Shutdown(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and sweep on its timer until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			d, err := openDaemon(cfg)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			return d.Run(cmd.Context())
		},
	}

	var force, overrideCooldown bool
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if overrideCooldown && !force {
				return errors.New("--override-cooldown requires --force")
			}
			return withDaemon(func(d *daemon.Daemon) error {
				res, err := d.Sweep(cmd.Context(), scheduler.SweepOptions{Force: force, OverrideCooldown: overrideCooldown})
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				printSweep(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	sweepCmd.Flags().BoolVar(&force, "force", false, "Ignore the global interval, weekly quota and probability roll")
	sweepCmd.Flags().BoolVar(&overrideCooldown, "override-cooldown", false, "With --force, also ignore per-voice cooldowns")

	var offset, limit int
	var unreadOnly bool
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "List transmissions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(d *daemon.Daemon) error {
				tl := d.Scheduler().Log()
				items := tl.List(offset, limit)
				if unreadOnly {
					items = tl.ListUnread(offset, limit)
				}
				printTransmissions(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
	logCmd.Flags().IntVar(&offset, "offset", 0, "Skip this many transmissions")
	logCmd.Flags().IntVar(&limit, "limit", 20, "Show at most this many transmissions (0 for all)")
	logCmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only show unread transmissions")

	var readAll bool
	readCmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a transmission read",
		Args: func(cmd *cobra.Command, args []string) error {
			if readAll && len(args) > 0 {
				return errors.New("pass an id or --all, not both")
			}
			if !readAll && len(args) != 1 {
				return errors.New("expected one transmission id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(d *daemon.Daemon) error {
				out := cmd.OutOrStdout()
				if readAll {
					n, err := d.Scheduler().Log().MarkAllRead()
					if err != nil {
						return fmt.Errorf("mark all read: %w", err)
					}
					fmt.Fprintf(out, "Marked %d transmissions read\n", n)
					return nil
				}
				if err := d.Scheduler().Log().MarkRead(args[0]); err != nil {
					if errors.Is(err, translog.ErrNotFound) {
						return fmt.Errorf("transmission %s not found", args[0])
					}
					return fmt.Errorf("mark read: %w", err)
				}
				fmt.Fprintf(out, "Marked %s read\n", args[0])
				return nil
			})
		},
	}
	readCmd.Flags().BoolVar(&readAll, "all", false, "Mark every transmission read")

	unreadCmd := &cobra.Command{
		Use:   "unread",
		Short: "Print the number of unread transmissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(d *daemon.Daemon) error {
				fmt.Fprintln(cmd.OutOrStdout(), d.Scheduler().Log().UnreadCount())
				return nil
			})
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest <file.json>",
		Short: "Import log entries and anchor completions from a JSON file",
		Long: `Import log entries and anchor completions from a JSON file of the form

  {"entries": [{"entityName": "coffee", "timestamp": 1767225600000, "reflection": "..."}],
   "anchors": [{"anchorId": "a1", "anchorName": "walk", "timestamp": "2026-01-01T08:00:00Z"}]}

Timestamps are epoch milliseconds or RFC3339 strings. timeBucket (morning,
afternoon, evening, late) is derived from the timestamp when omitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := readBatch(args[0])
			if err != nil {
				return err
			}
			return withDaemon(func(d *daemon.Daemon) error {
				for i, e := range batch.Entries {
					if _, err := d.Store().AddEntry(e.entry()); err != nil {
						return fmt.Errorf("entry %d: %w", i, err)
					}
				}
				for i, a := range batch.Anchors {
					if err := d.Store().AddAnchorCompletion(a.completion()); err != nil {
						return fmt.Errorf("anchor %d: %w", i, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d entries, %d anchor completions\n",
					len(batch.Entries), len(batch.Anchors))
				return nil
			})
		},
	}

	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "List voice profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(d *daemon.Daemon) error {
				enabled := map[string]bool{}
				for _, v := range d.Scheduler().Voices() {
					enabled[v.ID] = true
				}
				printVoices(cmd.OutOrStdout(), d.Registry().All(), enabled)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show resonance status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := load()
			if err != nil {
				fmt.Fprintf(out, "Config: error (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
			fmt.Fprintf(out, "Model: %s\n", cfg.Model.Name)
			fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
			fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
			fmt.Fprintf(out, "Schedule: %s\n", cfg.Scheduler.Schedule)
			fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Telegram.Enabled)
			fmt.Fprintf(out, "Database: %s\n", cfg.Store.DBPath)

			d, err := openDaemon(cfg)
			if err != nil {
				fmt.Fprintf(out, "Daemon: error (%v)\n", err)
				return nil
			}
			defer d.Shutdown()
			if stats, err := d.Store().Stats(); err == nil {
				fmt.Fprintf(out, "Entries: %d\nAnchor completions: %d\n", stats.Entries, stats.AnchorCompletions)
			}
			l := d.Scheduler().Log()
			fmt.Fprintf(out, "Transmissions: %d/%d (%d unread)\n", l.Len(), l.Capacity(), l.UnreadCount())
			if last, ok := d.Scheduler().LastGlobalCheck(); ok {
				fmt.Fprintf(out, "Last sweep: %s\n", last.Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "Last sweep: never")
			}
			return nil
		},
	}

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Initialize config and an editable copy of the built-in voices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(cmd.OutOrStdout())
		},
	}

	root.AddCommand(runCmd, sweepCmd, logCmd, readCmd, unreadCmd, ingestCmd, voicesCmd, statusCmd, onboardCmd)
	return root
}

// batch is the ingest file format.
type batch struct {
	Entries []batchEntry  `json:"entries"`
	Anchors []batchAnchor `json:"anchors"`
}

type batchEntry struct {
	ID         string           `json:"id,omitempty"`
	EntityName string           `json:"entityName"`
	Timestamp  stamp            `json:"timestamp"`
	Intention  string           `json:"intention,omitempty"`
	Sensation  string           `json:"sensation,omitempty"`
	Reflection string           `json:"reflection,omitempty"`
	TimeBucket event.TimeBucket `json:"timeBucket,omitempty"`
}

func (e batchEntry) entry() event.Entry {
	return event.Entry{
		ID:         e.ID,
		EntityName: e.EntityName,
		Timestamp:  e.Timestamp.Time,
		Intention:  e.Intention,
		Sensation:  e.Sensation,
		Reflection: e.Reflection,
		TimeBucket: e.TimeBucket,
	}
}

type batchAnchor struct {
	AnchorID   string           `json:"anchorId"`
	AnchorName string           `json:"anchorName,omitempty"`
	Timestamp  stamp            `json:"timestamp"`
	TimeBucket event.TimeBucket `json:"timeBucket,omitempty"`
}

func (a batchAnchor) completion() event.AnchorCompletion {
	return event.AnchorCompletion{
		AnchorID:   a.AnchorID,
		AnchorName: a.AnchorName,
		Timestamp:  a.Timestamp.Time,
		TimeBucket: a.TimeBucket,
	}
}

// stamp decodes epoch milliseconds or an RFC3339 string.
type stamp struct{ time.Time }

func (s *stamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] != '"' {
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		s.Time = time.UnixMilli(ms)
		return nil
	}
	return s.Time.UnmarshalJSON(data)
}

func readBatch(path string) (batch, error) {
	var b batch
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return b, fmt.Errorf("parse %s: %w", path, err)
	}
	return b, nil
}

func runOnboard(out io.Writer) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()
	voicesPath := filepath.Join(cfgDir, "voices.yaml")

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		cfg.Voices.Path = voicesPath
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}
	writeIfNotExists(out, voicesPath, voice.BuiltinYAML())

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set RESONANCE_API_KEY environment variable")
	fmt.Fprintln(out, "  3. Run 'resonance ingest entries.json' then 'resonance sweep --force'")
	return nil
}

func writeIfNotExists(out io.Writer, path string, content []byte) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, content, 0644)
		fmt.Fprintf(out, "  Created: %s\n", path)
	}
}

func printSweep(out io.Writer, res scheduler.SweepResult) {
	if res.Skipped {
		fmt.Fprintln(out, "Skipped: global check interval has not elapsed (use --force)")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "VOICE\tDECISION\tPROBABILITY\tSIGNALS")
	for _, o := range res.Outcomes {
		decision := string(o.Decision.Reason)
		if o.Decision.Admit && !o.Selected {
			decision += " (not selected)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", o.Voice, decision, o.Decision.Probability, strings.Join(o.Signal.Fired(), ","))
	}
	_ = tw.Flush()
	if len(res.Emitted) > 0 {
		fmt.Fprintln(out)
		printTransmissions(out, res.Emitted)
	}
	for _, err := range res.Errors {
		fmt.Fprintf(out, "warning: %v\n", err)
	}
}

func printTransmissions(out io.Writer, items []translog.Transmission) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No transmissions")
		return
	}
	for _, t := range items {
		marker := " "
		if !t.Read {
			marker = unreadStyle.Render("*")
		}
		fmt.Fprintf(out, "%s %s  %s  %s %s\n", marker, t.ID, t.Timestamp.Local().Format("2006-01-02 15:04"),
			nameStyle.Render(t.DisplayName), modeStyle.Render("["+t.Mode+"]"))
		fmt.Fprintf(out, "    %s\n", t.Content)
		if t.PatternContext != "" {
			fmt.Fprintf(out, "    %s\n", contextStyle.Render("("+t.PatternContext+")"))
		}
	}
}

func printVoices(out io.Writer, voices []*voice.Voice, enabled map[string]bool) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tDETECTORS\tMODES\tENABLED")
	for _, v := range voices {
		modes := make([]string, 0, len(v.Modes))
		for _, m := range v.Modes {
			modes = append(modes, m.Name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%v\n", v.ID, v.Name(), v.Type,
			len(v.Analyzer.Config().Rules), strings.Join(modes, ","), enabled[v.ID])
	}
	_ = tw.Flush()
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}
