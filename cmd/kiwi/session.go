// ABOUTME: Per-invocation wiring: config, rotating log file, credential store, REST client and preferences.
// ABOUTME: The login boundary's redirect hook tells the user to run "kiwi login".
package main

import (
	"fmt"
	"io"

	"github.com/2389-research/kiwi/api"
	"github.com/2389-research/kiwi/apps"
	"github.com/2389-research/kiwi/auth"
	"github.com/2389-research/kiwi/config"
	"github.com/2389-research/kiwi/logging"
	"github.com/2389-research/kiwi/orchestrator"
	"github.com/2389-research/kiwi/prefs"
	"github.com/spf13/cobra"
)

// session holds everything a subcommand needs. Close releases it.
type session struct {
	cfg    *config.Config
	logger *logging.Logger
	creds  auth.Store
	client *api.Client
	apps   *apps.Collection

	prefs *prefs.Store
}

func openSession(cmd *cobra.Command, flags *rootFlags) (*session, error) {
	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureHome(); err != nil {
		return nil, fmt.Errorf("creating %s: %w", cfg.Home, err)
	}

	var also io.Writer
	if flags.verbose {
		also = cmd.ErrOrStderr()
	}
	logger, err := logging.New(cfg.LogFile, also)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	var creds auth.Store
	switch cfg.CredentialBackend {
	case config.CredentialMemory:
		creds = auth.NewMemoryStore("")
	default:
		creds = auth.NewKeyringStore(cfg.User)
	}

	errOut := cmd.ErrOrStderr()
	boundary := auth.NewBoundary(creds, func() {
		fmt.Fprintln(errOut, "Your session has expired or is missing. Run `kiwi login` to sign in.")
	}, logger.Logger)

	client := api.New(cfg.APIBaseURL, boundary,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithRevertTimeout(cfg.RevertTimeout),
		api.WithLogger(logger.Logger),
	)

	return &session{
		cfg:    cfg,
		logger: logger,
		creds:  creds,
		client: client,
		apps:   apps.NewCollection(),
	}, nil
}

// preferences opens the preference database on first use.
func (s *session) preferences() (*prefs.Store, error) {
	if s.prefs != nil {
		return s.prefs, nil
	}
	p, err := prefs.Open(s.cfg.PrefsPath())
	if err != nil {
		return nil, err
	}
	s.prefs = p
	return p, nil
}

// newOrchestrator builds an orchestrator over this session. The caller closes it.
func (s *session) newOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	p, err := s.preferences()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Options{
		Backend:         s.client,
		Apps:            s.apps,
		Prefs:           p,
		Logger:          s.logger.Logger,
		Context:         cmd.Context(),
		HistoryPageSize: s.cfg.HistoryPageSize,
	}), nil
}

// selectApp makes id the selected application. It refreshes the list first
// and only fetches id directly when it is not on the first page.
func (s *session) selectApp(cmd *cobra.Command, o *orchestrator.Orchestrator, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.apps.Refresh(cmd.Context(), s.client, api.AppQuery{NewlyChangedID: id}); err != nil {
		return fmt.Errorf("listing applications: %w", err)
	}
	app, ok := s.apps.Lookup(id)
	if !ok {
		fetched, err := s.client.GetApplication(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("loading application %s: %w", id, err)
		}
		s.apps.Add(fetched)
		app = fetched
	}
	return o.SwitchApplication(cmd.Context(), &app)
}

func (s *session) Close() {
	if s.prefs != nil {
		if err := s.prefs.Close(); err != nil {
			s.logger.Printf("component=cli action=close_prefs err=%v", err)
		}
	}
	_ = s.logger.Close()
}
