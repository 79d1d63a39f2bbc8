package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cloudx-io/escrowauction/enclaveapi"
	"github.com/cloudx-io/escrowauction/validation"
)

func main() {
	var (
		responseInput = flag.String("response", "", "Enclave response JSON (file path or inline JSON)")
		operation     = flag.String("operation", "", "Attested operation: settle_asset or teardown")
		pcrsPath      = flag.String("pcrs", "", "Known PCR sets JSON file (default: validation/pcrs.json)")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *responseInput == "" || *operation == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --response and --operation are required\n")
		os.Exit(1)
	}

	data, err := readJSONInput(*responseInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(2)
	}

	var response enclaveapi.AuctionResponse
	if err := json.Unmarshal(data, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing response: %v\n", err)
		os.Exit(2)
	}
	if !response.Success {
		fmt.Fprintf(os.Stderr, "Response reports a failed operation (%s): nothing to validate\n", response.ErrorCode)
		os.Exit(2)
	}

	input, err := validation.NewSettlementValidationInput(*operation, &response)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error extracting validation data: %v\n", err)
		os.Exit(2)
	}
	input.PCRConfigPath = *pcrsPath

	result, err := validation.ValidateSettlementAttestation(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Escrow Auction Settlement Validator")
	fmt.Println()
	fmt.Println("Validates the TEE attestation returned with a settle_asset or teardown response.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  settlement-validator --response <json> --operation <settle_asset|teardown> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --response <json>                 Enclave response (intents, state, attestation_cose_base64)")
	fmt.Println("  --operation <name>                settle_asset or teardown")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --pcrs <path>                     Known PCR sets (default: validation/pcrs.json)")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  settlement-validator --response settle_response.json --operation settle_asset")
	fmt.Println("  settlement-validator --response teardown.json --operation teardown --pcrs prod_pcrs.json --format json")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readJSONInput(input string) ([]byte, error) {
	// Try reading as file first
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	// Treat as inline JSON
	return []byte(input), nil
}

func outputText(result *validation.SettlementValidationResult) {
	fmt.Println("Escrow Auction Settlement Validator")
	fmt.Println("===================================")
	fmt.Println()

	fmt.Println("Summary:")
	fmt.Printf("  PCRs Valid:              %v\n", result.PCRsValid)
	fmt.Printf("  Certificate Valid:       %v\n", result.CertificateValid)
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Operation Valid:         %v\n", result.OperationValid)
	fmt.Printf("  State Hash Valid:        %v\n", result.StateHashValid)
	fmt.Printf("  Intents Hash Valid:      %v\n", result.IntentsHashValid)
	fmt.Printf("  Winner Valid:            %v\n", result.WinnerValid)
	fmt.Printf("  Asset Valid:             %v\n", result.AssetValid)
	fmt.Printf("  Delivery Valid:          %v\n", result.DeliveryValid)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("===================================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *validation.SettlementValidationResult) {
	output := map[string]any{
		"valid":              result.IsValid(),
		"pcrs_valid":         result.PCRsValid,
		"certificate_valid":  result.CertificateValid,
		"signature_valid":    result.SignatureValid,
		"operation_valid":    result.OperationValid,
		"state_hash_valid":   result.StateHashValid,
		"intents_hash_valid": result.IntentsHashValid,
		"winner_valid":       result.WinnerValid,
		"asset_valid":        result.AssetValid,
		"delivery_valid":     result.DeliveryValid,
		"details":            result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
