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

package app

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/caicloud/lbaas/cmd/controlplane/app/config"
	"github.com/caicloud/lbaas/cmd/controlplane/app/options"
	"github.com/caicloud/lbaas/pkg/network"
	netfake "github.com/caicloud/lbaas/pkg/network/fake"
	"github.com/caicloud/lbaas/pkg/orchestrator"
	"github.com/caicloud/lbaas/pkg/provider"
	"github.com/caicloud/lbaas/pkg/provider/providers/amphora"
	"github.com/caicloud/lbaas/pkg/provider/providers/noop"
	"github.com/caicloud/lbaas/pkg/server"
	"github.com/caicloud/lbaas/pkg/stats"
	"github.com/caicloud/lbaas/pkg/status"
	"github.com/caicloud/lbaas/pkg/store"
	"github.com/caicloud/lbaas/pkg/store/memory"
	"github.com/caicloud/lbaas/pkg/store/mysql"
	"github.com/caicloud/lbaas/pkg/version"
)

// NewCommand creates a *cobra.Command object with default parameters
func NewCommand() *cobra.Command {
	s := options.NewOptions()

	cmd := &cobra.Command{
		Use:  "lbaas-controlplane",
		Long: `load balancer provisioning and status-tracking control plane`,
		Run: func(cmd *cobra.Command, args []string) {
			c, err := s.Config()
			if err != nil {
				klog.Exitln(err)
			}
			if err := Run(c, SetupStopSignalHandler()); err != nil {
				klog.Exitln(err)
			}
		},
	}

	fs := cmd.Flags()
	fs.AddFlagSet(s.Flags())

	fs.Set("logtostderr", "true")

	return cmd
}

// Run wires the control plane together and serves until stopCh closes.
func Run(c *config.Config, stopCh <-chan struct{}) error {
	klog.Info(version.Get().Pretty())

	repo, err := newRepository(c)
	if err != nil {
		return err
	}

	net := newNetworkDriver()

	provider.RegisterDriver(noop.Name, noop.New(0))
	provider.RegisterDriver(amphora.Name, amphora.New(amphora.NewSimCompute(c.Cfg.AmphoraBootDelay), c.Cfg.ProviderTimeout))
	klog.Infof("Enabled providers: %v, default %q", provider.Drivers(), c.Cfg.DefaultProvider)

	orch := orchestrator.New(c.Cfg, repo, net)
	srv := server.New(repo, orch,
		status.NewAggregator(repo),
		stats.NewCollector(repo, c.Cfg.StatsAllowError),
		server.ProjectAuthorizer{})

	var group errgroup.Group
	group.Go(func() error {
		orch.Run(c.Cfg.Workers, stopCh)
		return nil
	})
	group.Go(func() error {
		return srv.ListenAndServe(c.Cfg.ListenAddress, stopCh)
	})
	return group.Wait()
}

func newRepository(c *config.Config) (store.Repository, error) {
	switch c.Cfg.StoreBackend {
	case "mysql":
		klog.Infof("Using mysql repository")
		return mysql.Open(c.Cfg.MySQLDSN)
	default:
		klog.Infof("Using in-memory repository, state is lost on restart")
		return memory.New(), nil
	}
}

// newNetworkDriver returns the built-in network driver seeded with a
// development network. A production deployment replaces this with a
// driver wrapping the site's network service.
func newNetworkDriver() network.Driver {
	d := netfake.NewDriver()
	d.AddSubnet("default-v4", "default", "10.0.0.0/24")
	d.AddSubnet("default-v6", "default", "fd00::/64")
	return d
}
