package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"coinledger/internal/metrics"
	"coinledger/internal/models"
	"coinledger/internal/services"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	createAccountFn     func(ctx context.Context) (models.Account, error)
	getAccountFn        func(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	listAccountsFn      func(ctx context.Context) ([]models.Account, error)
	createTransactionFn func(ctx context.Context, req services.TransferRequest) (models.Receipt, error)
	getTransactionFn    func(ctx context.Context, transactionID uuid.UUID, viewer *uuid.UUID) (models.Transaction, error)
	listTransactionsFn  func(ctx context.Context, accountID uuid.UUID, start, end string) ([]models.Transaction, error)
	reconcileFn         func(ctx context.Context) (models.ReconcileReport, error)
}

func (s *stubEngine) CreateAccount(ctx context.Context) (models.Account, error) {
	if s.createAccountFn == nil {
		return models.Account{}, errors.New("unexpected CreateAccount call")
	}
	return s.createAccountFn(ctx)
}

func (s *stubEngine) GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	if s.getAccountFn == nil {
		return models.Account{}, errors.New("unexpected GetAccount call")
	}
	return s.getAccountFn(ctx, accountID)
}

func (s *stubEngine) ListAccounts(ctx context.Context) ([]models.Account, error) {
	if s.listAccountsFn == nil {
		return nil, errors.New("unexpected ListAccounts call")
	}
	return s.listAccountsFn(ctx)
}

func (s *stubEngine) CreateTransaction(ctx context.Context, req services.TransferRequest) (models.Receipt, error) {
	if s.createTransactionFn == nil {
		return models.Receipt{}, errors.New("unexpected CreateTransaction call")
	}
	return s.createTransactionFn(ctx, req)
}

func (s *stubEngine) GetTransaction(ctx context.Context, transactionID uuid.UUID, viewer *uuid.UUID) (models.Transaction, error) {
	if s.getTransactionFn == nil {
		return models.Transaction{}, errors.New("unexpected GetTransaction call")
	}
	return s.getTransactionFn(ctx, transactionID, viewer)
}

func (s *stubEngine) ListTransactions(ctx context.Context, accountID uuid.UUID, start, end string) ([]models.Transaction, error) {
	if s.listTransactionsFn == nil {
		return nil, errors.New("unexpected ListTransactions call")
	}
	return s.listTransactionsFn(ctx, accountID, start, end)
}

func (s *stubEngine) Reconcile(ctx context.Context) (models.ReconcileReport, error) {
	if s.reconcileFn == nil {
		return models.ReconcileReport{}, errors.New("unexpected Reconcile call")
	}
	return s.reconcileFn(ctx)
}

// socketPath keeps paths short; Unix socket names are limited to about 100
// bytes and t.TempDir embeds the test name.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "cl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "core.sock")
}

func startServer(t *testing.T, engine Engine, collector *metrics.Collector) (*Client, string) {
	t.Helper()
	return serve(t, NewServer(engine, time.Second, collector, nil))
}

func serve(t *testing.T, srv *Server) (*Client, string) {
	t.Helper()
	path := socketPath(t)
	ln, err := Listen(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return NewClient(path, time.Second), path
}

func rawExchange(t *testing.T, path string, frame string) Reply {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(frame))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	var reply Reply
	require.NoError(t, json.Unmarshal(line, &reply))
	return reply
}

func TestSocketIsOwnerOnly(t *testing.T) {
	_, path := startServer(t, &stubEngine{}, nil)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	ln, err := Listen(path)
	require.NoError(t, err)
	ln.Close()
}

func TestClientRoundTrip(t *testing.T) {
	accountID := uuid.New()
	receiverID := uuid.New()
	txID := uuid.New()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	engine := &stubEngine{
		getAccountFn: func(_ context.Context, id uuid.UUID) (models.Account, error) {
			assert.Equal(t, accountID, id)
			return models.Account{ID: id, Balance: 42, CreatedAt: created}, nil
		},
		createTransactionFn: func(_ context.Context, req services.TransferRequest) (models.Receipt, error) {
			if assert.NotNil(t, req.ID) {
				assert.Equal(t, txID, *req.ID)
			}
			assert.Equal(t, int64(7), req.Amount)
			return models.Receipt{
				Transaction: models.Transaction{
					ID:         txID,
					SenderID:   req.SenderID,
					ReceiverID: req.ReceiverID,
					Amount:     req.Amount,
					Timestamp:  created,
				},
				SenderBalanceAfter: 35,
			}, nil
		},
		listTransactionsFn: func(_ context.Context, id uuid.UUID, start, end string) ([]models.Transaction, error) {
			assert.Equal(t, "2024-01-01", start)
			assert.Equal(t, "", end)
			return []models.Transaction{{ID: txID, SenderID: id, ReceiverID: receiverID, Amount: 7, Timestamp: created}}, nil
		},
		getTransactionFn: func(_ context.Context, id uuid.UUID, viewer *uuid.UUID) (models.Transaction, error) {
			assert.Nil(t, viewer)
			return models.Transaction{ID: id}, nil
		},
	}
	client, _ := startServer(t, engine, nil)
	ctx := context.Background()

	account, err := client.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, models.Account{ID: accountID, Balance: 42, CreatedAt: created}, account)

	receipt, err := client.CreateTransaction(ctx, services.TransferRequest{
		ID:         &txID,
		SenderID:   accountID,
		ReceiverID: receiverID,
		Amount:     7,
	})
	require.NoError(t, err)
	assert.Equal(t, txID, receipt.ID)
	assert.Equal(t, int64(35), receipt.SenderBalanceAfter)
	assert.True(t, created.Equal(receipt.Timestamp))

	list, err := client.ListTransactions(ctx, accountID, "2024-01-01", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, receiverID, list[0].ReceiverID)

	got, err := client.GetTransaction(ctx, txID, nil)
	require.NoError(t, err)
	assert.Equal(t, txID, got.ID)
}

func longHistory(accountID uuid.UUID, n int) []models.Transaction {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := make([]models.Transaction, n)
	for i := range rows {
		rows[i] = models.Transaction{
			ID:         uuid.New(),
			SenderID:   accountID,
			ReceiverID: uuid.New(),
			Amount:     int64(i + 1),
			Timestamp:  created.Add(time.Duration(i) * time.Second),
		}
	}
	return rows
}

func TestLongHistoryFitsInOneReply(t *testing.T) {
	accountID := uuid.New()
	history := longHistory(accountID, 25000)
	engine := &stubEngine{
		listTransactionsFn: func(context.Context, uuid.UUID, string, string) ([]models.Transaction, error) {
			return history, nil
		},
	}
	srv := NewServer(engine, 5*time.Second, nil, nil)
	client, _ := serve(t, srv)
	client.timeout = 10 * time.Second

	rows, err := client.ListTransactions(context.Background(), accountID, "", "")
	require.NoError(t, err)
	require.Len(t, rows, len(history))
	assert.Equal(t, history[0].ID, rows[0].ID)
	assert.Equal(t, history[len(history)-1].ID, rows[len(rows)-1].ID)
}

func TestOversizedResultIsRejected(t *testing.T) {
	accountID := uuid.New()
	engine := &stubEngine{
		listTransactionsFn: func(context.Context, uuid.UUID, string, string) ([]models.Transaction, error) {
			return longHistory(accountID, 100), nil
		},
		getAccountFn: func(_ context.Context, id uuid.UUID) (models.Account, error) {
			return models.Account{ID: id, Balance: 3}, nil
		},
	}
	srv := NewServer(engine, time.Second, nil, nil)
	srv.maxResult = 1 << 10
	client, _ := serve(t, srv)
	ctx := context.Background()

	_, err := client.ListTransactions(ctx, accountID, "", "")
	assert.ErrorIs(t, err, ErrReplyTooLarge)
	assert.NotErrorIs(t, err, ErrChannelUnavailable)

	account, err := client.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), account.Balance)
}

func TestOversizedRequestIsRejected(t *testing.T) {
	_, path := startServer(t, &stubEngine{}, nil)
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	// A request with no newline inside the cap is cut off at the cap.
	go func() {
		conn.Write(make([]byte, maxRequestFrame+1))
	}()
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	var reply Reply
	require.NoError(t, json.Unmarshal(line, &reply))
	assert.False(t, reply.OK)
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeBadRequest, reply.Error.Code)
}

func TestEngineErrorsSurviveTheWire(t *testing.T) {
	for _, sentinel := range []error{
		services.ErrAccountNotFound,
		services.ErrTransactionNotFound,
		services.ErrInvalidAmount,
		services.ErrInvalidTransaction,
		services.ErrInsufficientFunds,
		services.ErrInvalidQuery,
	} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			engine := &stubEngine{
				getAccountFn: func(context.Context, uuid.UUID) (models.Account, error) {
					return models.Account{}, sentinel
				},
			}
			client, _ := startServer(t, engine, nil)
			_, err := client.GetAccount(context.Background(), uuid.New())
			assert.ErrorIs(t, err, sentinel)
		})
	}
}

func TestDatabaseFaultsHideDetail(t *testing.T) {
	engine := &stubEngine{
		reconcileFn: func(context.Context) (models.ReconcileReport, error) {
			return models.ReconcileReport{}, errors.Join(services.ErrDatabase, errors.New("pq: password authentication failed"))
		},
		listAccountsFn: func(context.Context) ([]models.Account, error) {
			return nil, errors.New("boom")
		},
	}
	client, path := startServer(t, engine, nil)

	_, err := client.Reconcile(context.Background())
	assert.ErrorIs(t, err, services.ErrDatabase)
	assert.NotContains(t, err.Error(), "password")

	reply := rawExchange(t, path, `{"v":1,"message_id":"m1","command":"ListAccounts"}`+"\n")
	assert.False(t, reply.OK)
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeInternal, reply.Error.Code)
	assert.NotContains(t, reply.Error.Message, "boom")
}

func TestMalformedRequestsGetBadRequest(t *testing.T) {
	_, path := startServer(t, &stubEngine{}, nil)

	cases := map[string]string{
		"not json":        "{nope\n",
		"wrong version":   `{"v":2,"message_id":"m2","command":"ListAccounts"}` + "\n",
		"missing id":      `{"v":1,"command":"ListAccounts"}` + "\n",
		"unknown command": `{"v":1,"message_id":"m3","command":"Mint"}` + "\n",
		"bad args":        `{"v":1,"message_id":"m4","command":"GetAccount","args":{"account_id":"xyz"}}` + "\n",
		"missing args":    `{"v":1,"message_id":"m5","command":"GetAccount"}` + "\n",
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			reply := rawExchange(t, path, frame)
			assert.False(t, reply.OK)
			require.NotNil(t, reply.Error)
			assert.Equal(t, CodeBadRequest, reply.Error.Code)
		})
	}

	reply := rawExchange(t, path, `{"v":1,"message_id":"m3","command":"Mint"}`+"\n")
	assert.Equal(t, "m3", reply.MessageID)
}

func TestBadRequestMapsToSentinel(t *testing.T) {
	client, _ := startServer(t, &stubEngine{}, nil)
	err := client.Do(context.Background(), "Mint", nil, nil)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestUndashedIdentifiersAccepted(t *testing.T) {
	accountID := uuid.New()
	engine := &stubEngine{
		getAccountFn: func(_ context.Context, id uuid.UUID) (models.Account, error) {
			return models.Account{ID: id}, nil
		},
	}
	_, path := startServer(t, engine, nil)

	undashed := ""
	for _, r := range accountID.String() {
		if r != '-' {
			undashed += string(r)
		}
	}
	reply := rawExchange(t, path, `{"v":1,"message_id":"m1","command":"GetAccount","args":{"account_id":"`+undashed+`"}}`+"\n")
	require.True(t, reply.OK)
	var account models.Account
	require.NoError(t, json.Unmarshal(reply.Result, &account))
	assert.Equal(t, accountID, account.ID)
}

func TestClientUnavailable(t *testing.T) {
	client := NewClient(socketPath(t), 100*time.Millisecond)
	_, err := client.ListAccounts(context.Background())
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	engine := &stubEngine{
		listAccountsFn: func(context.Context) ([]models.Account, error) {
			<-release
			return nil, nil
		},
	}
	_, path := startServer(t, engine, nil)
	t.Cleanup(func() { close(release) })

	client := NewClient(path, 50*time.Millisecond)
	start := time.Now()
	_, err := client.ListAccounts(context.Background())
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

// ledgerActor keeps balances in a plain map with no locking. The dispatcher
// is the only goroutine that touches it.
type ledgerActor struct {
	stubEngine
	balances map[uuid.UUID]int64
}

func (l *ledgerActor) CreateTransaction(_ context.Context, req services.TransferRequest) (models.Receipt, error) {
	if l.balances[req.SenderID] < req.Amount {
		return models.Receipt{}, services.ErrInsufficientFunds
	}
	time.Sleep(time.Millisecond)
	l.balances[req.SenderID] -= req.Amount
	l.balances[req.ReceiverID] += req.Amount
	return models.Receipt{
		Transaction:        models.Transaction{ID: uuid.New(), SenderID: req.SenderID, ReceiverID: req.ReceiverID, Amount: req.Amount},
		SenderBalanceAfter: l.balances[req.SenderID],
	}, nil
}

func (l *ledgerActor) GetAccount(_ context.Context, accountID uuid.UUID) (models.Account, error) {
	balance, ok := l.balances[accountID]
	if !ok {
		return models.Account{}, services.ErrAccountNotFound
	}
	return models.Account{ID: accountID, Balance: balance}, nil
}

func TestConcurrentOverspendAtMostOneSucceeds(t *testing.T) {
	sender, receiver := uuid.New(), uuid.New()
	actor := &ledgerActor{balances: map[uuid.UUID]int64{sender: 100, receiver: 0}}
	client, _ := startServer(t, actor, nil)

	const attempts = 12
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.CreateTransaction(context.Background(), services.TransferRequest{
				SenderID:   sender,
				ReceiverID: receiver,
				Amount:     60,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, services.ErrInsufficientFunds)
	}
	assert.Equal(t, 1, succeeded)

	senderAccount, err := client.GetAccount(context.Background(), sender)
	require.NoError(t, err)
	receiverAccount, err := client.GetAccount(context.Background(), receiver)
	require.NoError(t, err)
	assert.Equal(t, int64(40), senderAccount.Balance)
	assert.Equal(t, int64(60), receiverAccount.Balance)
}

func TestServerRecordsCommands(t *testing.T) {
	collector := metrics.NewCollector("test")
	engine := &stubEngine{
		createAccountFn: func(context.Context) (models.Account, error) {
			return models.Account{ID: uuid.New()}, nil
		},
	}
	client, _ := startServer(t, engine, collector)
	_, err := client.CreateAccount(context.Background())
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(collector.Registry(), "test_ledger_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestServeDrainsAcceptedRequests(t *testing.T) {
	path := socketPath(t)
	ln, err := Listen(path)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	engine := &stubEngine{
		reconcileFn: func(context.Context) (models.ReconcileReport, error) {
			close(entered)
			<-release
			return models.ReconcileReport{TotalSupply: 100000, TotalBalance: 100000, Balanced: true}, nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(engine, 5*time.Second, nil, nil).Serve(ctx, ln) }()

	client := NewClient(path, 5*time.Second)
	got := make(chan error, 1)
	go func() {
		report, err := client.Reconcile(context.Background())
		if err == nil && !report.Balanced {
			err = errors.New("unbalanced report")
		}
		got <- err
	}()
	<-entered
	cancel()
	close(release)

	assert.NoError(t, <-got)
	assert.NoError(t, <-done)
}
