package core

import "fmt"

// IntentKind tags the variant of a transfer intent.
type IntentKind uint8

const (
	// IntentOptIn lets the application receive future transfers of Asset.
	IntentOptIn IntentKind = iota + 1
	// IntentPay pays Amount of funds to To.
	IntentPay
	// IntentTransferAsset moves Amount of Asset to To, closing any remaining holding to CloseTo.
	IntentTransferAsset
	// IntentCloseOut closes the application's whole remaining balance to To.
	IntentCloseOut
)

func (k IntentKind) String() string {
	switch k {
	case IntentOptIn:
		return "opt_in"
	case IntentPay:
		return "pay"
	case IntentTransferAsset:
		return "transfer_asset"
	case IntentCloseOut:
		return "close_out"
	default:
		return fmt.Sprintf("intent(%d)", uint8(k))
	}
}

func ParseIntentKind(s string) (IntentKind, error) {
	for k := IntentOptIn; k <= IntentCloseOut; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown intent kind %q", s)
}

// Intent is an outbound transfer the auction authorizes. It must be committed together
// with the state change that produced it and executed exactly once.
type Intent struct {
	Kind    IntentKind `json:"kind"`
	To      Account    `json:"to"`
	Asset   AssetID    `json:"asset,omitempty"`
	Amount  Amount     `json:"amount"`
	CloseTo Account    `json:"close_to,omitempty"`
}

func OptInAsset(application Account, asset AssetID) Intent {
	return Intent{Kind: IntentOptIn, To: application, Asset: asset}
}

func Pay(to Account, amount Amount) Intent {
	return Intent{Kind: IntentPay, To: to, Amount: amount}
}

func TransferAsset(to Account, asset AssetID, amount Amount, closeTo Account) Intent {
	return Intent{Kind: IntentTransferAsset, To: to, Asset: asset, Amount: amount, CloseTo: closeTo}
}

func CloseOut(to Account) Intent {
	return Intent{Kind: IntentCloseOut, To: to, CloseTo: to}
}

func (i Intent) String() string {
	switch i.Kind {
	case IntentOptIn:
		return fmt.Sprintf("opt_in(asset=%d)", i.Asset)
	case IntentPay:
		return fmt.Sprintf("pay(%s, %s)", i.To, FormatAmount(i.Amount))
	case IntentTransferAsset:
		return fmt.Sprintf("transfer_asset(%s, asset=%d, amount=%d, close_to=%s)", i.To, i.Asset, i.Amount, i.CloseTo)
	case IntentCloseOut:
		return fmt.Sprintf("close_out(%s)", i.To)
	default:
		return i.Kind.String()
	}
}
