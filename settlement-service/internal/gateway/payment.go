package gateway

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// PaymentRequest is what the purchase flow hands an adapter to start a payment.
// OrderID may be empty, in which case the adapter generates one.
type PaymentRequest struct {
	Amount    decimal.Decimal
	OrderID   string
	OrderInfo string
	BankCode  string
	Locale    string
	CallerIP  string
	ReturnURL string
	ExtraData string
}

// PaymentURL is where the buyer must be redirected to pay.
type PaymentURL struct {
	URL       string
	OrderID   string
	RequestID string
}

// FlexString decodes a JSON string or number into its string form. Gateways
// are inconsistent about quoting numeric fields.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

func (f FlexString) Int64() (int64, error) {
	return strconv.ParseInt(string(f), 10, 64)
}
