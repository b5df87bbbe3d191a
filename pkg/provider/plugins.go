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

package provider

import (
	"sort"
	"sync"

	"github.com/caicloud/lbaas/pkg/api"
)

var (
	driversLock sync.RWMutex
	drivers     = make(map[string]Driver)
)

// RegisterDriver registers a Driver by name.
// Register does not allow user to override an existing Driver.
// This is expected to happen during app startup.
func RegisterDriver(name string, driver Driver) {
	driversLock.Lock()
	defer driversLock.Unlock()
	if _, found := drivers[name]; found {
		panic("provider: driver " + name + " registered twice")
	}
	drivers[name] = driver
}

// GetDriver returns a registered Driver, or false if not found.
func GetDriver(name string) (Driver, bool) {
	driversLock.RLock()
	defer driversLock.RUnlock()
	d, found := drivers[name]
	return d, found
}

// IsDriver returns true if name corresponds to an already registered Driver.
func IsDriver(name string) bool {
	driversLock.RLock()
	defer driversLock.RUnlock()
	_, found := drivers[name]
	return found
}

// Drivers returns the names of all registered drivers in a string slice.
func Drivers() []string {
	driversLock.RLock()
	defer driversLock.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves the driver name for a create request. A flavor binds its
// own driver; an explicit provider that conflicts with the flavor's bound
// driver is rejected, never silently overridden. With neither set the
// configured default applies.
func Select(flavorBindings map[string]string, flavor, explicit, def string) (string, error) {
	if flavor != "" {
		bound, ok := flavorBindings[flavor]
		if !ok {
			return "", api.NewInvalid("unknown flavor %q", flavor)
		}
		if explicit != "" && explicit != bound {
			return "", api.NewInvalid("provider %q conflicts with flavor %q bound to %q", explicit, flavor, bound)
		}
		return bound, nil
	}
	if explicit != "" {
		return explicit, nil
	}
	return def, nil
}
