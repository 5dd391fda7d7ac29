package webhook

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fjod/studenthub/settlement-service/internal/gateway/wallet"
)

// Wallet acknowledgement result codes. Failures also carry a
// non-2xx HTTP status.
const (
	WalletCodeSuccess          = 0
	WalletCodeNotFound         = 1
	WalletCodeAlreadyProcessed = 2
	WalletCodeAmountMismatch   = 4
	WalletCodeBadSignature     = 97
	WalletCodeUnknown          = 99
)

type WalletAck struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

var walletAcks = map[result]WalletAck{
	resultSuccess:          {ResultCode: WalletCodeSuccess, Message: "success", HTTPStatus: http.StatusOK},
	resultAlreadyProcessed: {ResultCode: WalletCodeAlreadyProcessed, Message: "order already processed", HTTPStatus: http.StatusOK},
	resultNotFound:         {ResultCode: WalletCodeNotFound, Message: "order not found", HTTPStatus: http.StatusNotFound},
	resultAmountMismatch:   {ResultCode: WalletCodeAmountMismatch, Message: "amount mismatch", HTTPStatus: http.StatusBadRequest},
	resultBadSignature:     {ResultCode: WalletCodeBadSignature, Message: "invalid signature", HTTPStatus: http.StatusBadRequest},
	resultUnknown:          {ResultCode: WalletCodeUnknown, Message: "unknown error", HTTPStatus: http.StatusInternalServerError},
}

// Wallet processes a wallet IPN body.
func (p *Processor) Wallet(ctx context.Context, body []byte) (ack WalletAck) {
	defer p.countWallet(&ack)
	defer p.recoverPanic(wallet.Name, func() { ack = walletAcks[resultUnknown] })

	n, err := wallet.ParseNotification(body)
	if err != nil {
		p.log.Warn("malformed wallet callback", "gateway", wallet.Name, "error", err)
		return WalletAck{ResultCode: WalletCodeUnknown, Message: "invalid request", HTTPStatus: http.StatusBadRequest}
	}
	return p.walletNotification(ctx, n)
}

// WalletReturn processes the buyer's return redirect, which carries the same
// signed fields as the IPN.
func (p *Processor) WalletReturn(ctx context.Context, query url.Values) (ack WalletAck) {
	defer p.countWallet(&ack)
	defer p.recoverPanic(wallet.Name, func() { ack = walletAcks[resultUnknown] })

	return p.walletNotification(ctx, wallet.NotificationFromQuery(query))
}

func (p *Processor) walletNotification(ctx context.Context, n *wallet.Notification) WalletAck {
	log := p.log.With("gateway", wallet.Name, "order_id", n.OrderID)

	if !p.wallet.VerifyNotification(n) {
		log.Warn("wallet callback failed signature check")
		return walletAcks[resultBadSignature]
	}

	amount, err := n.AmountValue()
	if err != nil {
		log.Warn("wallet callback amount is not numeric", "amount", n.Amount.String())
		return walletAcks[resultAmountMismatch]
	}

	res := p.apply(ctx, log, callback{
		orderID:       n.OrderID,
		amount:        amount,
		succeeded:     n.Succeeded(),
		transactionID: n.TransID.String(),
		failCode:      n.ResultCode.String(),
		failMessage:   n.Message,
	})
	return walletAcks[res]
}

func (p *Processor) countWallet(ack *WalletAck) {
	p.metrics.IPNOutcomes.WithLabelValues(wallet.Name, strconv.Itoa(ack.ResultCode)).Inc()
}
