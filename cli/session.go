package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/config"
	"github.com/javanhut/evees/internal/documents"
	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/merge"
	"github.com/javanhut/evees/internal/proposals"
	"github.com/javanhut/evees/internal/remote"
	"github.com/javanhut/evees/internal/store"
	"github.com/javanhut/evees/internal/wikis"
	"github.com/javanhut/evees/internal/workspace"
)

var errNoEveesDir = errors.New("not an evees directory (or any parent): run 'evees init'")

// session is everything a command needs, opened from the nearest .evees directory.
type session struct {
	root    string
	cfg     *config.Config
	userID  string
	remote  evees.Remote
	client  *evees.Client
	merger  *merge.Merger
	store   *proposals.Store
	owner   *proposals.OwnerProvider
	council *proposals.CouncilProvider
	closers []func() error
	logger  *slog.Logger
}

// findRoot walks up from the working directory to the first directory holding .evees.
func findRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, config.Dir)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errNoEveesDir
		}
		dir = parent
	}
}

func openSession(ctx context.Context) (*session, error) {
	root, err := findRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cidCfg, err := cfg.CidConfig()
	if err != nil {
		return nil, err
	}

	s := &session{root: root, cfg: cfg, logger: slog.Default()}
	s.userID = userFlag
	if s.userID == "" {
		s.userID = cfg.User.Name
	}

	eveesDir := filepath.Join(root, config.Dir)
	var base *remote.Base
	switch cfg.Core.Backend {
	case config.BackendMemory:
		r := remote.NewMemoryRemote(cfg.Core.Remote, s.userID, cas.NewMemoryStore(cidCfg))
		base, s.remote = r.Base, r
	case config.BackendRedis:
		r, err := remote.NewRedisRemote(cfg.Core.Remote, s.userID, cfg.Core.RedisURL, cidCfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, r.Close)
		base, s.remote = r.Base, r
	default:
		r, err := remote.OpenBoltRemote(cfg.Core.Remote, s.userID, eveesDir, cidCfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, r.Close)
		base, s.remote = r.Base, r
	}
	base.SetLogger(s.logger)

	if err := s.remote.Ready(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("remote %s not ready: %w", cfg.Core.Remote, err)
	}
	if s.userID != "" {
		if err := s.remote.Login(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	// Proposals always live in the local database, whatever the backend.
	db, err := store.GetSharedDB(eveesDir)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, db.Close)
	s.store = proposals.NewStore(db.DB)

	s.client = evees.NewClient(evees.NewRemoteRegistry(s.remote))
	s.client.Logger = s.logger

	s.merger = merge.NewMerger(merge.NewRegistry(documents.Behaviour{}, wikis.Behaviour{}))
	s.merger.SetLogger(s.logger)

	s.owner = proposals.NewOwnerProvider(s.client, s.store)
	if cfg.Council.Enabled {
		rules, err := cfg.CouncilRules(root)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.council = proposals.NewCouncilProvider(s.client, s.store, rules)
	}
	return s, nil
}

// Close releases backends in reverse order of opening.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *session) newWorkspace() *workspace.Workspace {
	return workspace.New(s.client)
}

// provider returns the provider new proposals are created with.
func (s *session) provider() proposals.Provider {
	if s.council != nil {
		return s.council
	}
	return s.owner
}

// providerFor returns the provider that governs the stored proposal id.
func (s *session) providerFor(id string) (proposals.Provider, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.Kind == proposals.KindCouncil {
		if s.council == nil {
			return nil, fmt.Errorf("proposal %s is council governed but council.enabled is false", id)
		}
		return s.council, nil
	}
	return s.owner, nil
}

// requireUser fails commands that write when no user is configured.
func (s *session) requireUser() error {
	if s.userID == "" {
		return errors.New(`no user configured: run 'evees config user.name "<name>"' or pass --user`)
	}
	return nil
}
