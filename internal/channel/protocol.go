// Package channel carries ledger commands between the gateway and the core
// over a local Unix socket. Each connection holds exactly one request line and
// one reply line.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"coinledger/internal/services"

	"github.com/google/uuid"
)

const Version = 1

// Requests are small and come from untrusted parsing; replies carry whole
// transaction histories and get a much larger bound.
const (
	maxRequestFrame = 4 << 20
	maxReplyFrame   = 256 << 20

	// replyOverhead covers the envelope around a result, including an echoed
	// message id of up to a full request frame.
	replyOverhead = maxRequestFrame + 1<<10
)

const (
	CmdCreateAccount     = "CreateAccount"
	CmdGetAccount        = "GetAccount"
	CmdListAccounts      = "ListAccounts"
	CmdCreateTransaction = "CreateTransaction"
	CmdGetTransaction    = "GetTransaction"
	CmdListTransactions  = "ListTransactions"
	CmdReconcile         = "Reconcile"
)

var (
	ErrChannelUnavailable = errors.New("command channel unavailable")
	ErrBadRequest         = errors.New("bad request")
	ErrReplyTooLarge      = errors.New("reply too large")
)

type Request struct {
	V         int             `json:"v"`
	MessageID string          `json:"message_id"`
	Command   string          `json:"command"`
	Args      json.RawMessage `json:"args,omitempty"`
}

type Reply struct {
	V         int             `json:"v"`
	MessageID string          `json:"message_id"`
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AccountArgs struct {
	AccountID uuid.UUID `json:"account_id"`
}

type CreateTransactionArgs struct {
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	SenderID      uuid.UUID  `json:"sender_id"`
	ReceiverID    uuid.UUID  `json:"receiver_id"`
	Amount        int64      `json:"amount"`
}

type GetTransactionArgs struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	AccountID     *uuid.UUID `json:"account_id,omitempty"`
}

type ListTransactionsArgs struct {
	AccountID uuid.UUID `json:"account_id"`
	Start     string    `json:"start,omitempty"`
	End       string    `json:"end,omitempty"`
}

const (
	CodeAccountNotFound     = "AccountNotFound"
	CodeTransactionNotFound = "TransactionNotFound"
	CodeInvalidAmount       = "InvalidAmount"
	CodeInvalidTransaction  = "InvalidTransaction"
	CodeInsufficientFunds   = "InsufficientFunds"
	CodeInvalidQuery        = "InvalidQuery"
	CodeDatabase            = "DatabaseError"
	CodeBadRequest          = "BadRequest"
	CodeReplyTooLarge       = "ReplyTooLarge"
	CodeInternal            = "Internal"
)

var codes = []struct {
	code string
	err  error
}{
	{CodeAccountNotFound, services.ErrAccountNotFound},
	{CodeTransactionNotFound, services.ErrTransactionNotFound},
	{CodeInvalidAmount, services.ErrInvalidAmount},
	{CodeInvalidTransaction, services.ErrInvalidTransaction},
	{CodeInsufficientFunds, services.ErrInsufficientFunds},
	{CodeInvalidQuery, services.ErrInvalidQuery},
	{CodeDatabase, services.ErrDatabase},
	{CodeBadRequest, ErrBadRequest},
	{CodeReplyTooLarge, ErrReplyTooLarge},
}

// errorBody converts an engine error into its wire form. Store detail never
// leaves the process: database and unknown faults carry a fixed message.
func errorBody(err error) *ErrorBody {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			msg := c.err.Error()
			if c.err == ErrBadRequest {
				msg = err.Error()
			}
			return &ErrorBody{Code: c.code, Message: msg}
		}
	}
	return &ErrorBody{Code: CodeInternal, Message: "internal error"}
}

// remoteError maps a wire error back onto the sentinel it came from, so
// callers can keep using errors.Is across the socket.
func remoteError(body *ErrorBody) error {
	if body == nil {
		return fmt.Errorf("%w: reply carried no error body", ErrChannelUnavailable)
	}
	for _, c := range codes {
		if body.Code == c.code {
			if c.err == ErrBadRequest {
				if detail := strings.TrimPrefix(body.Message, ErrBadRequest.Error()+": "); detail != body.Message {
					return fmt.Errorf("%w: %s", ErrBadRequest, detail)
				}
			}
			return c.err
		}
	}
	return fmt.Errorf("remote error %s: %s", body.Code, body.Message)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}
