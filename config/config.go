// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package config loads the YAML configuration of the asebytes tools.
package config

import (
	"os"
	"strconv"

	"github.com/zincware/asebytes/common"
	"github.com/zincware/asebytes/compress"
	"github.com/zincware/asebytes/database"
	"github.com/zincware/asebytes/sequence"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type StoreConfig struct {
	Variant       string `yaml:"variant"`     // leveldb, memory or sqlite
	Directory     string `yaml:"directory"`
	Prefix        string `yaml:"prefix"`
	Compression   string `yaml:"compression"` // empty to adopt the persisted one
	ReadOnly      bool   `yaml:"read_only"`
	ReindexWindow int    `yaml:"reindex_window"`
	// Properties are passed on to the store, e.g. WriteBufferSize.
	Properties map[string]string `yaml:"properties"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // e.g. :9100, empty to disable
}

// searchPaths are consulted in order if no configuration file is given.
var searchPaths = []string{"configs/asebytes.yaml", "asebytes.yaml"}

// Load reads the configuration from the given file. Without a path the
// default locations are searched and, if no file is found, the defaults
// are used.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			Variant:       string(database.LevelDbVariant),
			Directory:     "asebytes_data",
			ReindexWindow: sequence.DefaultReindexWindow,
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if configPath == "" {
		for _, p := range searchPaths {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Variant == "" {
		cfg.Store.Variant = string(database.LevelDbVariant)
	}
	if cfg.Store.ReindexWindow <= 0 {
		cfg.Store.ReindexWindow = sequence.DefaultReindexWindow
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Parameters converts the store section into parameters for opening the
// configured sequence.
func (c *StoreConfig) Parameters() database.Parameters {
	properties := common.Properties{}
	for name, value := range c.Properties {
		properties[common.Property(name)] = value
	}
	if _, found := properties[database.ReindexMinWindow]; !found {
		properties[database.ReindexMinWindow] = strconv.Itoa(c.ReindexWindow)
	}
	return database.Parameters{
		Variant:     database.Variant(c.Variant),
		Compression: compress.Kind(c.Compression),
		Directory:   c.Directory,
		Prefix:      c.Prefix,
		ReadOnly:    c.ReadOnly,
		Properties:  properties,
	}
}
