// ABOUTME: "kiwi chat": the interactive Bubble Tea chat over one orchestrator.
// ABOUTME: Logs go to the rotating log file so the terminal belongs to the UI.
package main

import (
	"errors"
	"fmt"

	"github.com/2389-research/kiwi/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newChatCmd(flags *rootFlags) *cobra.Command {
	var appID string
	cmd := &cobra.Command{
		Use:   "chat [--app id]",
		Short: "Open the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the UI owns the terminal; keep log lines in the file only
			flags.verbose = false
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

			if err := s.selectApp(cmd, o, appID); err != nil {
				return err
			}

			updates, unsubscribe := o.Subscribe()
			defer unsubscribe()

			model := tui.NewChatModel(cmd.Context(), o, s.apps, updates)
			p := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("chat: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "Application id to continue (default: a new application)")
	return cmd
}
