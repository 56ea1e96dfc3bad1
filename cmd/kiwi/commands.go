// ABOUTME: Non-interactive subcommands: history, apps, cancel, revert, login, logout and preview.
// ABOUTME: Each opens a session, performs one backend call and prints a plain-text result.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/2389-research/kiwi/api"
	"github.com/2389-research/kiwi/exchange"
	"github.com/spf13/cobra"
)

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "history <app-id>",
		Short: "List the exchanges of an application, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			page, err := s.client.FetchHistory(cmd.Context(), api.HistoryQuery{
				AppID:    args[0],
				Prompt:   prompt,
				Page:     1,
				PageSize: s.cfg.HistoryPageSize,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(page.Items) == 0 {
				fmt.Fprintln(out, "No exchanges.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPROMPT")
			for i := len(page.Items) - 1; i >= 0; i-- {
				ex := page.Items[i]
				fmt.Fprintf(w, "%s\t%s\t%s\n", ex.ID, ex.Status, oneLine(ex.Prompt, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "Only exchanges whose prompt contains this text")
	return cmd
}

func newAppsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List, rename and delete applications",
	}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List applications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.apps.Refresh(cmd.Context(), s.client, api.AppQuery{Name: search})
			if err != nil {
				return err
			}
			printApps(cmd.OutOrStdout(), list)
			return nil
		},
	}
	list.Flags().StringVar(&search, "search", "", "Only applications whose name contains this text")

	rename := &cobra.Command{
		Use:   "rename <app-id> <name...>",
		Short: "Rename an application",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			name := strings.TrimSpace(strings.Join(args[1:], " "))
			if name == "" {
				return errors.New("name is empty")
			}
			id, err := s.client.SaveApplication(cmd.Context(), exchange.Application{ID: args[0], Name: name})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q.\n", id, name)
			list, err := s.apps.Refresh(cmd.Context(), s.client, api.AppQuery{NewlyChangedID: id})
			if err != nil {
				return err
			}
			printApps(cmd.OutOrStdout(), list)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <app-id>",
		Short: "Delete an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.apps.Delete(cmd.Context(), s.client, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, rename, del)
	return cmd
}

func printApps(out io.Writer, list []exchange.Application) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No applications.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, app := range list {
		name := app.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\n", app.ID, name)
	}
	_ = w.Flush()
}

func newCancelCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <exchange-id>",
		Short: "Cancel a running exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s.\n", args[0])
			return nil
		},
	}
}

func newRevertCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <exchange-id>",
		Short: "Revert the latest successful exchange of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.Revert(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reverted %s.\n", args[0])
			return nil
		},
	}
}

func newLoginCmd(flags *rootFlags) *cobra.Command {
	var user, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if user == "" {
				user = s.cfg.User
			}
			if password == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				password, err = readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			if _, err := s.client.Login(cmd.Context(), user, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s.\n", user)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User name (default: KIWI_USER or $USER)")
	cmd.Flags().StringVar(&password, "password", "", "Password (default: read from stdin)")
	return cmd
}

func newLogoutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.creds.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func newPreviewCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "preview [on|off]",
		Short:     "Show or set whether previews are shown after a generation",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.preferences()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := p.SetPreviewEnabled(args[0] == "on"); err != nil {
					return err
				}
			}
			state := "off"
			if p.PreviewEnabled() {
				state = "on"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preview: %s\n", state)
			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// oneLine collapses whitespace and cuts s to at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
