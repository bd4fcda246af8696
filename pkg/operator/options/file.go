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
	"os"

	"gopkg.in/yaml.v3"
)

// PeerEntry is one consensus peer in the config file.
type PeerEntry struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// RegionEntry is one cross-region sync target.
type RegionEntry struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Priority int    `yaml:"priority,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// FileConfig is the YAML file layout for list-shaped configuration.
type FileConfig struct {
	Peers   []PeerEntry   `yaml:"peers,omitempty"`
	Regions []RegionEntry `yaml:"regions,omitempty"`
}

func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}
