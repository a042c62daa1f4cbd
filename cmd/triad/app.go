package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/triad/internal/agent"
	"github.com/ShayCichocki/triad/internal/config"
	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/planner"
	"github.com/ShayCichocki/triad/internal/store"
)

// app bundles what every command needs: configuration, the debug
// logger and the open store.
type app struct {
	cfg *config.Config
	log *logging.Logger
	db  *store.DB
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromPath(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.stateDir != "" {
		cfg.StateDir = opts.stateDir
	}
	return cfg, nil
}

// openApp loads configuration, starts the debug log and opens the
// store. Callers must Close it.
func openApp(opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log.Path)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		if cfg.Log.Path == "" {
			log = logging.NewWriter(opts.errOut)
		} else {
			log.Mirror(opts.errOut)
		}
	}

	db, err := store.OpenDriver(cfg.Store.Driver, cfg.StorePath())
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("open store %s: %w", cfg.StorePath(), err)
	}
	log.Log("store %s (%s) opened", db.Path(), db.Driver())
	return &app{cfg: cfg, log: log, db: db}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.log.Close()
}

// newPlanner applies role profile overrides from the state directory.
func (a *app) newPlanner() (*planner.Planner, error) {
	profiles, err := config.LoadRoleProfiles(a.cfg.RolesPath())
	if err != nil {
		return nil, err
	}
	return planner.New(a.db, a.log, planner.WithProfiles(profiles)), nil
}

// newExecutor builds the worker backend selected by executor.backend.
func (a *app) newExecutor(backend string, briefings agent.BriefingSource) (agent.Executor, error) {
	switch backend {
	case config.BackendSimulate:
		return agent.NewSimulatedExecutor(briefings), nil

	case config.BackendAPI:
		key, _, err := config.APIKey(a.cfg)
		if err != nil && !a.cfg.Anthropic.Bedrock {
			return nil, err
		}
		return agent.NewAPIExecutor(agent.APIConfig{
			Model:         anthropic.Model(a.cfg.Executor.Model),
			APIKey:        key,
			MaxTokens:     a.cfg.Anthropic.MaxTokens,
			UseAWSBedrock: a.cfg.Anthropic.Bedrock,
			AWSRegion:     a.cfg.Anthropic.AWSRegion,
			AWSProfile:    a.cfg.Anthropic.AWSProfile,
		}, briefings, a.log)

	default:
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		exec := agent.NewProcessExecutor(agent.ProcessConfig{
			Binary:  a.cfg.Executor.ClaudeBin,
			Model:   a.cfg.Executor.Model,
			WorkDir: cwd,
		}, briefings, a.log)
		if err := exec.CheckBinary(); err != nil {
			return nil, err
		}
		return exec, nil
	}
}

func (a *app) monitorConfig() agent.MonitorConfig {
	return agent.MonitorConfig{
		PollInterval: a.cfg.Executor.PollInterval,
		GracePeriod:  a.cfg.Executor.GracePeriod,
		TaskTimeout:  a.cfg.Executor.TaskTimeout,
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// defaultProjectID names the project after the working directory.
func defaultProjectID() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "default"
	}
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(filepath.Base(cwd)), "-"), "-")
	if slug == "" {
		return "default"
	}
	return slug
}
