package webhook

import (
	"context"
	"net/url"

	"github.com/fjod/studenthub/settlement-service/internal/gateway/bank"
)

// Bank acknowledgement codes. The bank always receives HTTP 200.
const (
	BankCodeSuccess          = "00"
	BankCodeNotFound         = "01"
	BankCodeAlreadyProcessed = "02"
	BankCodeAmountMismatch   = "04"
	BankCodeChecksumFailed   = "97"
	BankCodeUnknown          = "99"
)

type BankAck struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var bankAcks = map[result]BankAck{
	resultSuccess:          {Code: BankCodeSuccess, Message: "Confirm Success"},
	resultNotFound:         {Code: BankCodeNotFound, Message: "Order not found"},
	resultAlreadyProcessed: {Code: BankCodeAlreadyProcessed, Message: "Order already confirmed"},
	resultAmountMismatch:   {Code: BankCodeAmountMismatch, Message: "Invalid amount"},
	resultBadSignature:     {Code: BankCodeChecksumFailed, Message: "Invalid signature"},
	resultUnknown:          {Code: BankCodeUnknown, Message: "Unknown error"},
}

// Bank processes a bank IPN or return redirect.
func (p *Processor) Bank(ctx context.Context, params url.Values) (ack BankAck) {
	defer func() {
		p.metrics.IPNOutcomes.WithLabelValues(bank.Name, ack.Code).Inc()
	}()
	defer p.recoverPanic(bank.Name, func() { ack = bankAcks[resultUnknown] })

	log := p.log.With("gateway", bank.Name, "order_id", params.Get("vnp_TxnRef"))

	if !p.bank.VerifyInbound(params) {
		log.Warn("bank callback failed signature check")
		return bankAcks[resultBadSignature]
	}

	n, err := bank.ParseInbound(params)
	if err != nil {
		log.Warn("malformed bank callback", "error", err)
		return bankAcks[resultUnknown]
	}

	res := p.apply(ctx, log, callback{
		orderID:       n.TxnRef,
		amount:        n.Amount,
		succeeded:     n.Succeeded(),
		transactionID: n.TransactionNo,
		failCode:      n.ResponseCode,
		failMessage:   "bank response code " + n.ResponseCode,
	})
	return bankAcks[res]
}
