package main

import (
	"os"
	"time"

	"github.com/drone/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/grafana/rcptr/pkg/rcptr"
)

type vultureConfiguration struct {
	Workers  int           `yaml:"workers"`
	Duration time.Duration `yaml:"duration"`
	KeySpace int           `yaml:"key_space"`

	Domain rcptr.Config `yaml:"domain"`
}

// loadConfig starts from the flag values and, when -config is given, overlays
// the yaml file with environment variables expanded.
func loadConfig() (vultureConfiguration, error) {
	cfg := vultureConfiguration{
		Workers:  vultureWorkers,
		Duration: vultureDuration,
		KeySpace: vultureKeySpace,
		Domain: rcptr.Config{
			Backend: rcptr.Backend(vultureBackend),
		},
	}

	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return cfg, errors.Wrap(err, "reading config file")
		}
		expanded, err := envsubst.EvalEnv(string(raw))
		if err != nil {
			return cfg, errors.Wrap(err, "expanding config file")
		}
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, errors.Wrap(err, "parsing config file")
		}
	}

	if cfg.Workers <= 0 || cfg.KeySpace <= 0 || cfg.Duration <= 0 {
		return cfg, errors.New("workers, key_space and duration must be positive")
	}
	if cfg.Domain.MaxHandles == 0 {
		cfg.Domain.MaxHandles = cfg.Workers + 1
	}
	if err := cfg.Domain.Validate(); err != nil {
		return cfg, errors.Wrap(err, "validating domain config")
	}
	return cfg, nil
}
