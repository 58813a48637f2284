// Package config loads the indexer's JSON configuration file and applies
// the environment-variable overrides of spec.md section 6, in the
// documented order: APP_CONFIG (full replace), APP_MONGO_URI,
// APP_MONGO_DB, APP_CONNECTION_URI.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type AddressesConfig struct {
	Multicall2    string   `json:"Multicall2" mapstructure:"Multicall2"`
	Moc           string   `json:"Moc" mapstructure:"Moc"`
	MocQueue      string   `json:"MocQueue" mapstructure:"MocQueue"`
	TC            string   `json:"TC" mapstructure:"TC"`
	TP            []string `json:"TP" mapstructure:"TP"`
	CA            []string `json:"CA" mapstructure:"CA"`
	FeeToken      string   `json:"FeeToken" mapstructure:"FeeToken"`
	FastBtcBridge string   `json:"FastBtcBridge" mapstructure:"FastBtcBridge"`
	IRegistry     string   `json:"IRegistry" mapstructure:"IRegistry"`
	IncentiveV2   string   `json:"IncentiveV2" mapstructure:"IncentiveV2"`
}

type ScanRawTransactionsConfig struct {
	FromBlock          int64 `json:"from_block" mapstructure:"from_block"`
	ToBlock            int64 `json:"to_block" mapstructure:"to_block"`
	BlocksRecession    int64 `json:"blocks_recession" mapstructure:"blocks_recession"`
	MaxBlocksToProcess int64 `json:"max_blocks_to_process" mapstructure:"max_blocks_to_process"`
}

type ScanRawTransactionsConfirmingConfig struct {
	FromBlock          int64 `json:"from_block" mapstructure:"from_block"`
	ToBlock            int64 `json:"to_block" mapstructure:"to_block"`
	BlocksRecession    int64 `json:"blocks_recession" mapstructure:"blocks_recession"`
	ConfirmBlocks      int64 `json:"confirm_blocks" mapstructure:"confirm_blocks"`
	MaxBlocksToProcess int64 `json:"max_blocks_to_process" mapstructure:"max_blocks_to_process"`
}

type ScanLogsConfig struct {
	ConfirmBlocks int64 `json:"confirm_blocks" mapstructure:"confirm_blocks"`
}

type ScanTxStatusConfig struct {
	ConfirmBlocks          int64 `json:"confirm_blocks" mapstructure:"confirm_blocks"`
	SecondsNotInChainError int64 `json:"seconds_not_in_chain_error" mapstructure:"seconds_not_in_chain_error"`
}

type TaskConfig struct {
	IntervalSeconds int64 `json:"interval_seconds" mapstructure:"interval_seconds"`
	TimeoutSeconds  int64 `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type MongoConfig struct {
	URI string `json:"uri" mapstructure:"uri"`
	DB  string `json:"db" mapstructure:"db"`
}

type Config struct {
	URI                         []string                            `json:"uri" mapstructure:"uri"`
	Mongo                       MongoConfig                         `json:"mongo" mapstructure:"mongo"`
	AppProject                  string                              `json:"app_project" mapstructure:"app_project"`
	Addresses                   AddressesConfig                     `json:"addresses" mapstructure:"addresses"`
	Collateral                  string                              `json:"collateral" mapstructure:"collateral"`
	ScanRawTransactions         ScanRawTransactionsConfig           `json:"scan_raw_transactions" mapstructure:"scan_raw_transactions"`
	ScanRawTransactionsConfirm  ScanRawTransactionsConfirmingConfig `json:"scan_raw_transactions_confirming" mapstructure:"scan_raw_transactions_confirming"`
	ScanLogs                    ScanLogsConfig                      `json:"scan_logs" mapstructure:"scan_logs"`
	ScanTxStatus                ScanTxStatusConfig                  `json:"scan_tx_status" mapstructure:"scan_tx_status"`
	Tasks                       map[string]TaskConfig               `json:"tasks" mapstructure:"tasks"`
	Debug                       bool                                `json:"debug" mapstructure:"debug"`

	// MaxWorkers governs the scheduler's concurrency model, spec.md
	// section 5. 1 (the default when unset) means single-worker
	// cooperative scheduling.
	MaxWorkers int `json:"max_workers" mapstructure:"max_workers"`
}

// NodeURI returns the first configured RPC endpoint; the rest are reserved
// for failover per spec.md section 6.
func (c *Config) NodeURI() string {
	if len(c.URI) == 0 {
		return ""
	}
	return c.URI[0]
}

// Load reads the JSON config file at path, then applies the environment
// overrides in the order spec.md section 6 requires, then validates
// required fields.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides implements the ordered override chain of spec.md
// section 6: APP_CONFIG replaces the whole document first, then the three
// scalar overrides are applied on top of whatever is left.
func applyEnvOverrides(cfg *Config) error {
	if full, ok := os.LookupEnv("APP_CONFIG"); ok && full != "" {
		replaced := &Config{}
		if err := json.Unmarshal([]byte(full), replaced); err != nil {
			return errors.Wrap(err, "parsing APP_CONFIG")
		}
		*cfg = *replaced
	}
	if uri, ok := os.LookupEnv("APP_MONGO_URI"); ok && uri != "" {
		cfg.Mongo.URI = uri
	}
	if db, ok := os.LookupEnv("APP_MONGO_DB"); ok && db != "" {
		cfg.Mongo.DB = db
	}
	if conn, ok := os.LookupEnv("APP_CONNECTION_URI"); ok && conn != "" {
		cfg.URI = []string{conn}
	}
	return nil
}

// Validate fails fast on missing required fields, per spec.md section 7:
// "Configuration missing required field at startup: fatal, process exits."
func (c *Config) Validate() error {
	var missing []string
	if c.NodeURI() == "" {
		missing = append(missing, "uri")
	}
	if c.Mongo.URI == "" {
		missing = append(missing, "mongo.uri")
	}
	if c.Mongo.DB == "" {
		missing = append(missing, "mongo.db")
	}
	if c.Addresses.Moc == "" {
		missing = append(missing, "addresses.Moc")
	}
	if c.Addresses.MocQueue == "" {
		missing = append(missing, "addresses.MocQueue")
	}
	if c.Addresses.TC == "" {
		missing = append(missing, "addresses.TC")
	}
	if len(c.Addresses.TP) == 0 {
		missing = append(missing, "addresses.TP")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration fields: %v", missing)
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 1
	}
	return nil
}

// TaskEnabled reports whether a task is present in the configuration and
// therefore should run, spec.md section 6: "task runs iff present."
func (c *Config) TaskEnabled(name string) (TaskConfig, bool) {
	t, ok := c.Tasks[name]
	return t, ok
}
