package application

// BankDetails is the static transfer destination handed out for
// bank_transfer payments.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BranchCode    string `json:"branch_code"`
	SwiftCode     string `json:"swift_code"`
	Paybill       string `json:"paybill"`
}

var bankCatalog = map[string]BankDetails{
	"kcb": {
		BankName:      "Kenya Commercial Bank (KCB)",
		AccountName:   "Palsa POS Business Account",
		AccountNumber: "1234567890",
		BranchCode:    "01001",
		SwiftCode:     "KCBLKENX",
		Paybill:       "522522",
	},
	"equity": {
		BankName:      "Equity Bank Kenya",
		AccountName:   "Palsa POS Business Account",
		AccountNumber: "0987654321",
		BranchCode:    "68000",
		SwiftCode:     "EQBLKENA",
		Paybill:       "247247",
	},
	"coop": {
		BankName:      "Co-operative Bank of Kenya",
		AccountName:   "Palsa POS Business Account",
		AccountNumber: "01129123456789",
		BranchCode:    "01129",
		SwiftCode:     "COOPKENX",
		Paybill:       "400200",
	},
}

// bankDetailsFor falls back to KCB for unknown bank codes, matching the
// storefront's historical behavior.
func bankDetailsFor(bankCode string) BankDetails {
	if d, ok := bankCatalog[bankCode]; ok {
		return d
	}
	return bankCatalog["kcb"]
}
