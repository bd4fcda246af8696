/*
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
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/multierr"
)

func (o *Options) Validate() error {
	return multierr.Combine(
		o.validateRequiredFields(),
		o.validateElectionWindow(),
		o.validatePeers(),
		o.validateDiscoveryURL(),
		o.validateBounds(),
	)
}

func (o *Options) validateRequiredFields() error {
	if o.NodeID == "" {
		return fmt.Errorf("missing field, node-id")
	}
	return nil
}

func (o *Options) validateElectionWindow() error {
	if o.ElectionTimeoutMin <= 0 || o.ElectionTimeoutMax <= o.ElectionTimeoutMin {
		return fmt.Errorf("election timeout window [%s, %s] is not a valid interval", o.ElectionTimeoutMin, o.ElectionTimeoutMax)
	}
	if o.HeartbeatInterval <= 0 || o.HeartbeatInterval >= o.ElectionTimeoutMin {
		return fmt.Errorf("heartbeat interval %s must be positive and below the election timeout minimum", o.HeartbeatInterval)
	}
	return nil
}

func (o *Options) validatePeers() (err error) {
	for _, pair := range o.PeerPairs() {
		id, addr, ok := strings.Cut(pair, "=")
		if !ok || id == "" {
			err = multierr.Append(err, fmt.Errorf("peer %q is not of the form id=url", pair))
			continue
		}
		err = multierr.Append(err, validateURL("peer "+id, addr))
	}
	for _, region := range o.File.Regions {
		err = multierr.Append(err, validateURL("region "+region.Name, region.Endpoint))
	}
	return err
}

func (o *Options) validateDiscoveryURL() error {
	if o.DiscoveryURL == "" {
		return nil
	}
	return validateURL("discovery-url", o.DiscoveryURL)
}

func (o *Options) validateBounds() (err error) {
	if o.RPCRetries < 1 {
		err = multierr.Append(err, fmt.Errorf("rpc-retries must be at least 1"))
	}
	if o.AutoscaleMin < 1 || o.AutoscaleMax < o.AutoscaleMin {
		err = multierr.Append(err, fmt.Errorf("autoscale bounds [%d, %d] are not a valid range", o.AutoscaleMin, o.AutoscaleMax))
	}
	if o.BroadcastQueueSize < 1 || o.MaxSubscribers < 1 {
		err = multierr.Append(err, fmt.Errorf("broadcast queue size and max subscribers must be positive"))
	}
	return err
}

func validateURL(field, raw string) error {
	// url.Parse() will accept a lot of input without error; make
	// sure it's a real URL
	parsed, err := url.Parse(raw)
	if err != nil || !parsed.IsAbs() || parsed.Hostname() == "" {
		return fmt.Errorf("%q is not a valid %s URL", raw, field)
	}
	return nil
}
