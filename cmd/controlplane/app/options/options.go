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

package options

import (
	goflag "flag"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	appconfig "github.com/caicloud/lbaas/cmd/controlplane/app/config"
	lbconfig "github.com/caicloud/lbaas/pkg/config"
)

// Options is the main context object for the control plane command.
type Options struct {
	ConfigFile string
	Cfg        lbconfig.Configuration
}

// NewOptions creates Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		Cfg: lbconfig.New(),
	}
}

// Flags returns the command's flag set.
func (s *Options) Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("options", pflag.ExitOnError)

	s.Cfg.AddFlags(fs)
	fs.StringVar(&s.ConfigFile, "config", s.ConfigFile, "Path to an optional config file, flags take precedence.")

	// init log
	gofs := goflag.NewFlagSet("klog", goflag.ExitOnError)
	klog.InitFlags(gofs)

	fs.AddGoFlagSet(gofs)

	return fs
}

// Config returns the validated runtime config.
func (s *Options) Config() (*appconfig.Config, error) {
	if s.ConfigFile != "" {
		if err := s.Cfg.LoadFile(s.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := s.Cfg.Validate(); err != nil {
		return nil, err
	}
	return &appconfig.Config{Cfg: s.Cfg}, nil
}
