// Package config loads PISA's TOML configuration file, grounded on the
// teacher's cmd/ranger/config.go tomlSettings (verbatim field-name
// mapping, file-line-numbered load errors) applied to
// github.com/naoina/toml.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"
)

var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// ChainConfig describes how to reach the chain a responder watches and
// sends transactions to (SPEC_FULL.md §4.8's Chain Notifier adapter).
type ChainConfig struct {
	RPCEndpoint string
	ChainID     *big.Int
	RPCTimeout  time.Duration
}

// StoreConfig selects and configures a kvstore.Database backend
// (spec.md §6, SPEC_FULL.md §4.7).
type StoreConfig struct {
	Backend string // "leveldb" or "badger"
	Path    string
}

// GasPriceConfig configures the gas price oracle (SPEC_FULL.md §4.9).
type GasPriceConfig struct {
	Window     uint64
	Percentile int
}

// ResponderConfig is one signer's set of queue and balance parameters,
// mirroring spec.md §6's enumerated configuration knobs.
type ResponderConfig struct {
	SignerKeyFile          string
	EmptyNonce             uint64
	MaxQueueDepth          uint64
	ReplacementRatePercent uint64
	LowBalanceThreshold    *big.Int
	ConfirmationsRequired  uint64
}

// Config is PISA's top-level configuration.
type Config struct {
	Chain                   ChainConfig
	Store                   StoreConfig
	GasPrice                GasPriceConfig
	Responders              []ResponderConfig
	MaxReorgDepth           uint64
	BlockCacheInitialHeight uint64
	MaxBackfillBlocks       uint64
}

// Default returns a Config populated with conservative defaults, the
// way the teacher's defaultRangerConfig seeds a node.Config before any
// file or flag override is applied.
func Default() Config {
	return Config{
		GasPrice: GasPriceConfig{
			Window:     20,
			Percentile: 60,
		},
		MaxReorgDepth:           256,
		BlockCacheInitialHeight: 0,
		MaxBackfillBlocks:       1000,
		Store: StoreConfig{
			Backend: "leveldb",
			Path:    "pisa-data",
		},
	}
}

// Load reads and decodes a TOML file at path into cfg, starting from
// Default(). Errors carrying a line number are annotated with the file
// name, matching the teacher's loadConfig.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		if _, ok := err.(*toml.LineError); ok {
			return cfg, errors.New(path + ", " + err.Error())
		}
		return cfg, err
	}
	return cfg, nil
}
