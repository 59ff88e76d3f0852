package main

import (
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/pttracker/pttracker/accounting"
	httpfrontend "github.com/pttracker/pttracker/frontend/http"
	"github.com/pttracker/pttracker/middleware"
	"github.com/pttracker/pttracker/middleware/hitandrun"
	"github.com/pttracker/pttracker/swarm"

	// Imports to register middleware drivers.
	_ "github.com/pttracker/pttracker/middleware/clientapproval"

	// Imports to register storage drivers.
	_ "github.com/pttracker/pttracker/storage/memory"
	_ "github.com/pttracker/pttracker/storage/redis"
)

type storageConfig struct {
	Name   string      `yaml:"name"`
	Config interface{} `yaml:"config"`
}

// Config represents the configuration used for executing pttracker.
type Config struct {
	MetricsAddr string              `yaml:"metrics_addr"`
	HTTPConfig  httpfrontend.Config `yaml:"http"`
	Storage     storageConfig       `yaml:"storage"`
	Swarm       swarm.Config        `yaml:"swarm"`
	Announce    middleware.Config   `yaml:"announce"`
	HitAndRun   hitandrun.Config    `yaml:"hit_and_run"`

	accounting.Config `yaml:",inline"`

	PreHooks []middleware.HookConfig `yaml:"prehooks"`

	// Seed names a file of users and torrents loaded into the store on
	// startup.
	Seed string `yaml:"seed"`
}

// HookConfigs returns the configured middleware, giving each the site domain
// of the announce config unless its options set one.
func (cfg Config) HookConfigs() []middleware.HookConfig {
	hooks := make([]middleware.HookConfig, 0, len(cfg.PreHooks))
	for _, hook := range cfg.PreHooks {
		options := make(map[string]interface{}, len(hook.Options)+1)
		for k, v := range hook.Options {
			options[k] = v
		}
		if _, ok := options["site_domain"]; !ok {
			options["site_domain"] = cfg.Announce.SiteDomain
		}
		hooks = append(hooks, middleware.HookConfig{Name: hook.Name, Options: options})
	}
	return hooks
}

// PreHookNames returns only the names of the configured middleware.
func (cfg Config) PreHookNames() (names []string) {
	for _, hook := range cfg.PreHooks {
		names = append(names, hook.Name)
	}

	return
}

// ConfigFile represents a namespaced YAML configation file.
type ConfigFile struct {
	Tracker Config `yaml:"pttracker"`
}

// ParseConfigFile returns a new ConfigFile given the path to a YAML
// configuration file.
//
// It supports relative and absolute paths and environment variables.
func ParseConfigFile(path string) (*ConfigFile, error) {
	if path == "" {
		return nil, errors.New("no config path specified")
	}

	f, err := os.Open(os.ExpandEnv(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	contents, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var cfgFile ConfigFile
	err = yaml.Unmarshal(contents, &cfgFile)
	if err != nil {
		return nil, errors.Wrap(err, "malformed config")
	}

	return &cfgFile, nil
}
