// ABOUTME: "kiwi send": runs one prompt through the orchestrator and prints stage progress until the exchange ends.
// ABOUTME: Interrupting the command cancels the running exchange on the backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/2389-research/kiwi/apps"
	"github.com/2389-research/kiwi/exchange"
	"github.com/2389-research/kiwi/orchestrator"
	"github.com/spf13/cobra"
)

type sendFlags struct {
	appID       string
	attachments []string
	skipPages   bool
}

func newSendCmd(flags *rootFlags) *cobra.Command {
	sf := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send [--app id] <prompt...>",
		Short: "Send one prompt and stream its progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return errors.New("prompt is empty")
			}
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			o, err := s.newOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()
			if err := s.selectApp(cmd, o, sf.appID); err != nil {
				return err
			}

			out := &syncWriter{w: cmd.OutOrStdout()}
			s.apps.OnSelect(func(app *exchange.Application, opts apps.SelectOptions) {
				if opts.IsNew && app != nil {
					fmt.Fprintf(out, "  created application %s\n", app.ID)
				}
			})

			var opts []orchestrator.SendOption
			if len(sf.attachments) > 0 {
				opts = append(opts, orchestrator.WithAttachments(sf.attachments...))
			}
			if sf.skipPages {
				opts = append(opts, orchestrator.WithSkipPageGeneration())
			}
			return runSend(cmd.Context(), o, prompt, opts, out)
		},
	}
	cmd.Flags().StringVar(&sf.appID, "app", "", "Application id to continue (default: create a new application)")
	cmd.Flags().StringSliceVar(&sf.attachments, "attach", nil, "Attachment URL (repeatable)")
	cmd.Flags().BoolVar(&sf.skipPages, "skip-pages", false, "Skip frontend page generation")
	return cmd
}

// syncWriter serializes writes from the selection observer and the progress loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// runSend sends prompt and blocks until the exchange reaches a terminal
// status, printing every stage transition on the way.
func runSend(ctx context.Context, o *orchestrator.Orchestrator, prompt string, opts []orchestrator.SendOption, out io.Writer) error {
	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()

	o.SendMessage(prompt, opts...)
	fmt.Fprintf(out, "› %s\n", prompt)

	progress := newProgressPrinter(out)
	started := false
	for {
		select {
		case <-ctx.Done():
			if active := o.State().ActiveExchange; active != nil && !active.IsPlaceholder() {
				cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				o.CancelGeneration(cancelCtx, active.ID)
				cancel()
			}
			return ctx.Err()

		case s, ok := <-updates:
			if !ok {
				return errors.New("orchestrator closed")
			}
			if s.Generating {
				started = true
			}
			if s.ActiveExchange != nil {
				progress.print(*s.ActiveExchange)
			}
			if s.Err != "" {
				return errors.New(s.Err)
			}
			if !started || s.Generating || s.ActiveExchange != nil || len(s.History) == 0 {
				continue
			}
			last := s.History[len(s.History)-1]
			if !last.Status.IsTerminal() {
				continue
			}
			progress.print(last)
			return reportOutcome(out, last, s)
		}
	}
}

func reportOutcome(out io.Writer, ex exchange.Exchange, s orchestrator.State) error {
	switch ex.Status {
	case exchange.StatusSuccessful:
		fmt.Fprintf(out, "✓ %s %s\n", ex.Status, ex.ID)
		if s.ProductURL != "" {
			fmt.Fprintf(out, "  preview: %s\n", s.ProductURL)
		}
		if s.ManagementURL != "" {
			fmt.Fprintf(out, "  manage:  %s\n", s.ManagementURL)
		}
		if ex.AppID != "" {
			fmt.Fprintf(out, "  app:     %s\n", ex.AppID)
		}
		return nil
	case exchange.StatusFailed:
		return fmt.Errorf("exchange %s failed: %s", ex.ID, exchange.Deref(ex.ErrorMessage))
	default:
		return fmt.Errorf("exchange %s ended as %s", ex.ID, ex.Status)
	}
}

// progressPrinter prints exchange and stage status lines once per change.
type progressPrinter struct {
	out    io.Writer
	status exchange.Status
	stages map[string]string
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, stages: make(map[string]string)}
}

func (p *progressPrinter) print(ex exchange.Exchange) {
	if ex.Status != p.status && ex.Status.IsRunning() {
		fmt.Fprintf(p.out, "  %s\n", strings.ToLower(string(ex.Status)))
	}
	p.status = ex.Status
	for _, st := range ex.Stages {
		line := string(st.Status)
		if n := len(st.Attempts); n > 1 {
			line += fmt.Sprintf(" (attempt %d)", n)
		}
		if p.stages[st.Type] == line {
			continue
		}
		p.stages[st.Type] = line
		fmt.Fprintf(p.out, "    %-9s %s\n", strings.ToLower(st.Type), line)
	}
}
