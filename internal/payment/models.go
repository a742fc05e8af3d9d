package payment

import (
	"github.com/shopspring/decimal"

	"triple-impacto/internal/fiserv"
)

const defaultCurrency = "ARS"

type CreateTransactionRequest struct {
	Amount                     decimal.Decimal `json:"amount"`
	Currency                   string          `json:"currency,omitempty"`
	OrganizationID             string          `json:"organizacion_id,omitempty"`
	ResponseSuccessURL         string          `json:"responseSuccessURL"`
	ResponseFailURL            string          `json:"responseFailURL"`
	TransactionNotificationURL string          `json:"transactionNotificationURL,omitempty"`
}

// CreateTransactionResponse is what the browser needs to POST the hosted
// checkout form.
type CreateTransactionResponse struct {
	GatewayURL string               `json:"gatewayUrl"`
	FormParams fiserv.PaymentParams `json:"formParams"`
	OrderID    string               `json:"orderId"`
}

const (
	ReturnSuccess = "success"
	ReturnFailed  = "failed"
)

// ReturnView describes a browser redirect back from the gateway. It is for
// display only.
type ReturnView struct {
	Status            string `json:"status"`
	OrderID           string `json:"orderId,omitempty"`
	ApprovalCode      string `json:"approvalCode,omitempty"`
	ChargeTotal       string `json:"chargeTotal,omitempty"`
	Currency          string `json:"currency,omitempty"`
	FailReason        string `json:"failReason,omitempty"`
	AttemptStatus     string `json:"attemptStatus,omitempty"`
	SignatureVerified *bool  `json:"signatureVerified,omitempty"`
}
