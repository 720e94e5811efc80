package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/reasonloop/agentloop"
	"github.com/martinemde/reasonloop/internal/history"
	"github.com/martinemde/reasonloop/llm"
)

type runOptions struct {
	domain      string
	user        string
	role        string
	provider    string
	historyFile string
	sessionID   string
	synthStyle  string
	jsonOut     bool
	showEvents  bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Answer a single query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), root, opts, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.domain, "domain", "d", "", "domain ID scoping tool data access")
	f.StringVarP(&opts.user, "user", "u", "", "user ID")
	f.StringVar(&opts.role, "role", "", "user role, used for role-based provider selection")
	f.StringVarP(&opts.provider, "provider", "p", "", "provider override")
	f.StringVar(&opts.historyFile, "history", "", "YAML file of prior conversation turns")
	f.StringVarP(&opts.sessionID, "session", "s", "", "session ID for cross-turn memory")
	f.StringVar(&opts.synthStyle, "reword", "", "reword the final answer with this style instruction")
	f.BoolVar(&opts.jsonOut, "json", false, "print the full result as JSON")
	f.BoolVar(&opts.showEvents, "events", false, "stream loop events to stderr")
	return cmd
}

func runQuery(ctx context.Context, root *rootOptions, opts *runOptions, query string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	a, err := newApp(root.configPath)
	if err != nil {
		return err
	}
	defer a.close()

	var msgs []llm.Message
	if opts.historyFile != "" {
		msgs, err = history.LoadFile(opts.historyFile)
		if err != nil {
			return err
		}
	}

	var extra []agentloop.Option
	var emitter *agentloop.EventEmitter
	done := make(chan struct{})
	if opts.showEvents {
		emitter = agentloop.NewEventEmitter(256)
		extra = append(extra, agentloop.WithEvents(emitter))
		go func() {
			defer close(done)
			enc := json.NewEncoder(stderr)
			for ev := range emitter.Events() {
				_ = enc.Encode(ev)
			}
		}()
	} else {
		close(done)
	}
	if opts.synthStyle != "" {
		extra = append(extra, agentloop.WithSynthesizer(&agentloop.LLMSynthesizer{
			Client: a.client,
			Style:  opts.synthStyle,
		}))
	}

	ctrl, err := a.controller(extra...)
	if err != nil {
		return err
	}

	result := ctrl.Run(ctx, agentloop.RunInput{
		Query:            query,
		History:          msgs,
		User:             agentloop.Identity{ID: opts.user, Role: opts.role},
		DomainID:         opts.domain,
		ProviderOverride: opts.provider,
		SessionID:        opts.sessionID,
	})
	if emitter != nil {
		emitter.Close()
	}
	<-done

	if opts.sessionID != "" {
		if err := a.sessions.Record(ctx, opts.sessionID, result.RecentCalls(), nil); err != nil {
			a.logger.Warn("record session", zap.String("session_id", opts.sessionID), zap.Error(err))
		}
	}

	if a.registry != nil {
		if err := writeMetrics(a, stderr); err != nil {
			a.logger.Warn("write metrics", zap.Error(err))
		}
	}

	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintln(stdout, result.FinalText)
	return nil
}

func writeMetrics(a *app, w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
