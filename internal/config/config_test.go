package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir string, cfg Config) string {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshaling test config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func baseConfig() Config {
	return Config{
		URI: []string{"http://node:8545"},
		Mongo: MongoConfig{
			URI: "mongodb://localhost:27017",
			DB:  "indexer",
		},
		Addresses: AddressesConfig{
			Moc:      "0x0000000000000000000000000000000000000a",
			MocQueue: "0x0000000000000000000000000000000000000b",
			TC:       "0x0000000000000000000000000000000000000c",
			TP:       []string{"0x0000000000000000000000000000000000000d"},
		},
	}
}

func TestLoadAppliesRequiredDefaults(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), baseConfig())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeURI() != "http://node:8545" {
		t.Fatalf("unexpected node uri: %s", cfg.NodeURI())
	}
	if cfg.MaxWorkers != 1 {
		t.Fatalf("expected MaxWorkers to default to 1, got %d", cfg.MaxWorkers)
	}
}

func TestLoadFailsOnMissingRequiredFields(t *testing.T) {
	cfg := Config{}
	path := writeConfigFile(t, t.TempDir(), cfg)

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to fail validation on an empty configuration")
	}
}

func TestEnvOverrideOrder(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), baseConfig())

	t.Setenv("APP_MONGO_URI", "mongodb://override:27017")
	t.Setenv("APP_MONGO_DB", "override-db")
	t.Setenv("APP_CONNECTION_URI", "http://override-node:8545")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mongo.URI != "mongodb://override:27017" {
		t.Fatalf("expected APP_MONGO_URI to override mongo.uri, got %s", cfg.Mongo.URI)
	}
	if cfg.Mongo.DB != "override-db" {
		t.Fatalf("expected APP_MONGO_DB to override mongo.db, got %s", cfg.Mongo.DB)
	}
	if cfg.NodeURI() != "http://override-node:8545" {
		t.Fatalf("expected APP_CONNECTION_URI to override uri, got %s", cfg.NodeURI())
	}
}

func TestAppConfigFullReplaceAppliesBeforeScalarOverrides(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), baseConfig())

	replacement := baseConfig()
	replacement.Mongo.DB = "replaced-db"
	raw, err := json.Marshal(replacement)
	if err != nil {
		t.Fatalf("marshaling replacement config: %v", err)
	}
	t.Setenv("APP_CONFIG", string(raw))
	t.Setenv("APP_MONGO_DB", "scalar-override-db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mongo.DB != "scalar-override-db" {
		t.Fatalf("expected the scalar APP_MONGO_DB override to win over APP_CONFIG's replacement, got %s", cfg.Mongo.DB)
	}
}

func TestTaskEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.Tasks = map[string]TaskConfig{
		"RawBlockWalker": {IntervalSeconds: 10},
	}
	if _, ok := cfg.TaskEnabled("RawBlockWalker"); !ok {
		t.Fatal("expected RawBlockWalker to be enabled")
	}
	if _, ok := cfg.TaskEnabled("EventDispatcher"); ok {
		t.Fatal("expected EventDispatcher to be disabled when absent from tasks")
	}
}
