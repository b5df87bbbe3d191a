/*
Copyright 2017 Caicloud authors. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultListenAddress   = ":9876"
	defaultWorkers         = 5
	defaultProvider        = "noop"
	defaultProviderTimeout = 10 * time.Minute
	defaultStoreBackend    = "memory"
)

type flavorBindings map[string]string

func (f *flavorBindings) Set(value string) error {
	if *f == nil {
		*f = make(map[string]string)
	}
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return fmt.Errorf("bad flavor binding %q, want flavor=provider", pair)
		}
		(*f)[kv[0]] = kv[1]
	}
	return nil
}

func (f *flavorBindings) String() string {
	pairs := make([]string, 0, len(*f))
	for k, v := range *f {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (f *flavorBindings) Type() string {
	return "flavorBindings"
}

// Configuration contains the global config of the control plane.
type Configuration struct {
	// ListenAddress is the HTTP bind address
	ListenAddress string `mapstructure:"listen-address"`
	// Workers is the number of reconciliation workers
	Workers int `mapstructure:"workers"`

	// DefaultProvider backs load balancers created without a flavor or
	// an explicit provider
	DefaultProvider string `mapstructure:"default-provider"`
	// FlavorBindings maps a flavor name to its bound provider
	FlavorBindings flavorBindings `mapstructure:"flavor-bindings"`
	// ProviderTimeout bounds driver silence after dispatch; on expiry
	// the pending resource is moved to ERROR
	ProviderTimeout time.Duration `mapstructure:"provider-timeout"`
	// StatsAllowError serves last-known counters for load balancers in
	// ERROR instead of failing the stats request
	StatsAllowError bool `mapstructure:"stats-allow-error"`

	// StoreBackend selects the repository implementation: memory, mysql
	StoreBackend string `mapstructure:"store-backend"`
	// MySQLDSN is the data source for the mysql backend
	MySQLDSN string `mapstructure:"mysql-dsn"`

	// AmphoraBootDelay is how long a simulated amphora takes to boot
	AmphoraBootDelay time.Duration `mapstructure:"amphora-boot-delay"`
}

// New returns a Configuration with defaults applied.
func New() Configuration {
	return Configuration{
		ListenAddress:   defaultListenAddress,
		Workers:         defaultWorkers,
		DefaultProvider: defaultProvider,
		FlavorBindings:  flavorBindings{},
		ProviderTimeout: defaultProviderTimeout,
		StatsAllowError: true,
		StoreBackend:    defaultStoreBackend,
	}
}

// AddFlags registers all configuration flags.
func (c *Configuration) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ListenAddress, "listen-address", c.ListenAddress, "Address the HTTP API listens on")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Number of reconciliation workers")
	fs.StringVar(&c.DefaultProvider, "default-provider", c.DefaultProvider, "Provider used when a request sets neither flavor nor provider")
	fs.Var(&c.FlavorBindings, "flavor-bindings", "A comma separated list of flavor=provider bindings")
	fs.DurationVar(&c.ProviderTimeout, "provider-timeout", c.ProviderTimeout, "Driver silence beyond this bound fails the pending resource")
	fs.BoolVar(&c.StatsAllowError, "stats-allow-error", c.StatsAllowError, "Serve last-known stats for load balancers in ERROR")
	fs.StringVar(&c.StoreBackend, "store-backend", c.StoreBackend, "Repository backend, one of: memory, mysql")
	fs.StringVar(&c.MySQLDSN, "mysql-dsn", c.MySQLDSN, "MySQL DSN for the mysql store backend")
	fs.DurationVar(&c.AmphoraBootDelay, "amphora-boot-delay", c.AmphoraBootDelay, "Simulated amphora boot delay")
}

// LoadFile merges values from a config file over the current values.
// Flags parsed after the merge still win, the caller decides the order.
func (c *Configuration) LoadFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if err := v.Unmarshal(c); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// Validate rejects configurations the control plane cannot run with.
func (c *Configuration) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.DefaultProvider == "" {
		return fmt.Errorf("default-provider must not be empty")
	}
	switch c.StoreBackend {
	case "memory":
	case "mysql":
		if c.MySQLDSN == "" {
			return fmt.Errorf("mysql-dsn is required with the mysql store backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	return nil
}
