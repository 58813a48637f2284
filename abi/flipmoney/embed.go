// Package flipmoney embeds the flipmoney ABI variant's contract ABI files.
// cmd/indexer always loads contract ABIs from this package;
// config.app_project is not consulted, and no other variant directory or
// on-disk ABI path is read.
package flipmoney

import "embed"

//go:embed *.json
var FS embed.FS

// Load returns the raw ABI JSON for the named contract, e.g. "MocQueue"
// loads MocQueue.json.
func Load(contractName string) (string, error) {
	b, err := FS.ReadFile(contractName + ".json")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
