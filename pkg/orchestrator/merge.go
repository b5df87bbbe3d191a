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

package orchestrator

import (
	"encoding/json"

	"github.com/InVisionApp/conjungo"

	"github.com/caicloud/lbaas/pkg/api"
)

// applyUpdate merges a partial update spec over a stored load balancer.
// Both sides go through their JSON form so absent fields (omitempty)
// never touch the stored value, and the merged map round-trips back into
// a typed resource. Immutable fields cannot appear in an update spec by
// construction.
func applyUpdate(lb *api.LoadBalancer, spec *api.LoadBalancerUpdate) (*api.LoadBalancer, error) {
	base, err := toMap(lb)
	if err != nil {
		return nil, err
	}
	patch, err := toMap(spec)
	if err != nil {
		return nil, err
	}

	opts := conjungo.NewOptions()
	opts.Overwrite = true
	if err := conjungo.Merge(&base, patch, opts); err != nil {
		return nil, api.NewInternal("merge update spec: %v", err)
	}

	raw, err := json.Marshal(base)
	if err != nil {
		return nil, api.NewInternal("encode merged resource: %v", err)
	}
	merged := &api.LoadBalancer{}
	if err := json.Unmarshal(raw, merged); err != nil {
		return nil, api.NewInvalid("bad update spec: %v", err)
	}
	// json round-trips drop fields hidden from the wire
	merged.AdoptedPort = lb.AdoptedPort
	return merged, nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, api.NewInternal("encode resource: %v", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, api.NewInternal("decode resource: %v", err)
	}
	return out, nil
}
