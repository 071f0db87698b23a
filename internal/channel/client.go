package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"coinledger/internal/models"
	"coinledger/internal/services"

	"github.com/google/uuid"
)

// Client sends one command per connection to the core. Any failure to reach
// the core or to read a matching reply is reported as ErrChannelUnavailable;
// the outcome of a command that timed out is unknown and callers must
// re-query.
type Client struct {
	socketPath string
	timeout    time.Duration
	dialer     net.Dialer
}

func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{socketPath: socketPath, timeout: timeout}
}

// Do sends command with args and decodes a successful result into result,
// which may be nil.
func (c *Client) Do(ctx context.Context, command string, args, result any) error {
	req := Request{V: Version, MessageID: uuid.NewString(), Command: command}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("encode args: %w", err)
		}
		req.Args = raw
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return unavailable(err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return unavailable(err)
	}
	// Abandon blocked IO as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := writeFrame(conn, req); err != nil {
		return unavailable(err)
	}
	line, err := readFrame(conn, maxReplyFrame)
	if err != nil {
		return unavailable(err)
	}
	var reply Reply
	if err := json.Unmarshal(line, &reply); err != nil {
		return unavailable(err)
	}
	if reply.MessageID != req.MessageID {
		return unavailable(fmt.Errorf("reply for %q, expected %q", reply.MessageID, req.MessageID))
	}
	if !reply.OK {
		return remoteError(reply.Error)
	}
	if result != nil {
		if err := json.Unmarshal(reply.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", command, err)
		}
	}
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, ErrChannelUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
}

func (c *Client) CreateAccount(ctx context.Context) (models.Account, error) {
	var account models.Account
	err := c.Do(ctx, CmdCreateAccount, nil, &account)
	return account, err
}

func (c *Client) GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	var account models.Account
	err := c.Do(ctx, CmdGetAccount, AccountArgs{AccountID: accountID}, &account)
	return account, err
}

func (c *Client) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := c.Do(ctx, CmdListAccounts, nil, &accounts)
	return accounts, err
}

func (c *Client) CreateTransaction(ctx context.Context, req services.TransferRequest) (models.Receipt, error) {
	var receipt models.Receipt
	err := c.Do(ctx, CmdCreateTransaction, CreateTransactionArgs{
		TransactionID: req.ID,
		SenderID:      req.SenderID,
		ReceiverID:    req.ReceiverID,
		Amount:        req.Amount,
	}, &receipt)
	return receipt, err
}

func (c *Client) GetTransaction(ctx context.Context, transactionID uuid.UUID, viewer *uuid.UUID) (models.Transaction, error) {
	var transaction models.Transaction
	err := c.Do(ctx, CmdGetTransaction, GetTransactionArgs{
		TransactionID: transactionID,
		AccountID:     viewer,
	}, &transaction)
	return transaction, err
}

func (c *Client) ListTransactions(ctx context.Context, accountID uuid.UUID, start, end string) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := c.Do(ctx, CmdListTransactions, ListTransactionsArgs{
		AccountID: accountID,
		Start:     start,
		End:       end,
	}, &transactions)
	return transactions, err
}

func (c *Client) Reconcile(ctx context.Context) (models.ReconcileReport, error) {
	var report models.ReconcileReport
	err := c.Do(ctx, CmdReconcile, nil, &report)
	return report, err
}

var _ Engine = (*Client)(nil)
