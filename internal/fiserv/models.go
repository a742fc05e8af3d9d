package fiserv

import (
	"net/url"

	"github.com/shopspring/decimal"
)

// Form field names used by Fiserv Connect.
const (
	FieldTxnType               = "txntype"
	FieldTimezone              = "timezone"
	FieldTxnDateTime           = "txndatetime"
	FieldHashAlgorithm         = "hash_algorithm"
	FieldHashExtended          = "hashExtended"
	FieldHash                  = "hash"
	FieldMode                  = "mode"
	FieldStoreName             = "storename"
	FieldChargeTotal           = "chargetotal"
	FieldCurrency              = "currency"
	FieldResponseFailURL       = "responseFailURL"
	FieldResponseSuccessURL    = "responseSuccessURL"
	FieldNotificationURL       = "transactionNotificationURL"
	FieldOrderID               = "oid"
	FieldMerchantTransactionID = "merchantTransactionId"
	FieldCheckoutOption        = "checkoutoption"

	FieldApprovalCode     = "approval_code"
	FieldNotificationHash = "notification_hash"
	FieldResponseHash     = "response_hash"
	FieldIPGTransactionID = "ipgTransactionId"
	FieldStatus           = "status"
	FieldFailReason       = "fail_reason"
)

// Protocol constants the gateway requires on every request.
const (
	TxnTypeSale          = "sale"
	ModePayOnly          = "payonly"
	CheckoutCombinedPage = "combinedpage"
)

// PaymentParams is the exact field set to POST to the gateway, hashExtended included.
type PaymentParams map[string]string

// BuildInput is what a caller supplies to build a hosted-checkout request.
type BuildInput struct {
	Amount                     decimal.Decimal
	Currency                   string
	ResponseSuccessURL         string
	ResponseFailURL            string
	TransactionNotificationURL string
	OrderID                    string
	MerchantTransactionID      string
}

// Notification is the server-to-server notification after parsing.
type Notification struct {
	OrderID          string
	ChargeTotal      string
	Currency         string
	TxnDateTime      string
	StoreName        string
	ApprovalCode     string
	Signature        string
	IPGTransactionID string
	Raw              url.Values
}

// ParseNotification reads the notification form. Repeated fields keep their
// first value.
func ParseNotification(form url.Values) Notification {
	return Notification{
		OrderID:          firstOf(form, FieldOrderID, FieldMerchantTransactionID),
		ChargeTotal:      first(form, FieldChargeTotal),
		Currency:         first(form, FieldCurrency),
		TxnDateTime:      first(form, FieldTxnDateTime),
		StoreName:        first(form, FieldStoreName),
		ApprovalCode:     first(form, FieldApprovalCode),
		Signature:        firstOf(form, FieldNotificationHash, FieldHash),
		IPGTransactionID: first(form, FieldIPGTransactionID),
		Raw:              form,
	}
}

// Verify checks the notification signature against secret.
func (n Notification) Verify(secret string) bool {
	return VerifyNotificationSignature(n.ChargeTotal, n.Currency, n.TxnDateTime, n.StoreName, n.ApprovalCode, n.Signature, secret)
}

// Redirect holds the query parameters of the browser return URL.
type Redirect struct {
	OrderID      string
	ApprovalCode string
	ChargeTotal  string
	Currency     string
	TxnDateTime  string
	StoreName    string
	Status       string
	FailReason   string
	Signature    string
}

func ParseRedirect(query url.Values) Redirect {
	return Redirect{
		OrderID:      firstOf(query, FieldOrderID, FieldMerchantTransactionID),
		ApprovalCode: first(query, FieldApprovalCode),
		ChargeTotal:  first(query, FieldChargeTotal),
		Currency:     first(query, FieldCurrency),
		TxnDateTime:  first(query, FieldTxnDateTime),
		StoreName:    first(query, FieldStoreName),
		Status:       first(query, FieldStatus),
		FailReason:   first(query, FieldFailReason),
		Signature:    first(query, FieldResponseHash),
	}
}

// Verify checks the response_hash of the redirect against secret.
func (r Redirect) Verify(secret string) bool {
	return VerifyResponseSignature(r.ApprovalCode, r.ChargeTotal, r.Currency, r.TxnDateTime, r.StoreName, r.Signature, secret)
}

func first(v url.Values, key string) string {
	vals := v[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func firstOf(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := first(v, k); s != "" {
			return s
		}
	}
	return ""
}
