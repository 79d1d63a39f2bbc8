package validation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cloudx-io/escrowauction/enclaveapi"
)

// DefaultPCRConfigPath returns the pcrs.json shipped next to this package. It only
// lists the all-zero measurements a debug-mode enclave reports; production
// deployments pass their own file.
func DefaultPCRConfigPath() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "pcrs.json")
}

// LoadPCRsFromFile loads known PCR sets from a JSON file
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}

	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file %s", path)
	}

	return config.PCRSets, nil
}

// ValidatePCRs checks PCR0-2 against every known set. Hex case is ignored.
// Returns the index of the matched set, or -1.
func ValidatePCRs(pcrs enclaveapi.PCRs, knownSets []PCRSet) (bool, int) {
	for i, known := range knownSets {
		if strings.EqualFold(pcrs.ImageFileHash, known.PCR0) &&
			strings.EqualFold(pcrs.KernelHash, known.PCR1) &&
			strings.EqualFold(pcrs.ApplicationHash, known.PCR2) {
			return true, i
		}
	}
	return false, -1
}
