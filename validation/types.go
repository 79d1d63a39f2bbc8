package validation

// BaseValidationResult contains the platform checks common to every attestation
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// SettlementValidationResult contains validation results for a settle_asset or
// teardown attestation
type SettlementValidationResult struct {
	BaseValidationResult
	OperationValid   bool
	StateHashValid   bool
	IntentsHashValid bool
	WinnerValid      bool
	AssetValid       bool
	DeliveryValid    bool
}

// IsValid returns true if all settlement validation checks passed
func (r *SettlementValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid &&
		r.OperationValid && r.StateHashValid && r.IntentsHashValid && r.WinnerValid && r.AssetValid && r.DeliveryValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // repo commit used to build the enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
