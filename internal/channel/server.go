package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"coinledger/internal/metrics"
	"coinledger/internal/models"
	"coinledger/internal/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the ledger surface the server dispatches to.
type Engine interface {
	CreateAccount(ctx context.Context) (models.Account, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	CreateTransaction(ctx context.Context, req services.TransferRequest) (models.Receipt, error)
	GetTransaction(ctx context.Context, transactionID uuid.UUID, viewer *uuid.UUID) (models.Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, start, end string) ([]models.Transaction, error)
	Reconcile(ctx context.Context) (models.ReconcileReport, error)
}

type call struct {
	req   Request
	reply chan Reply
}

type Server struct {
	engine    Engine
	ioTimeout time.Duration
	maxResult int
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func NewServer(engine Engine, ioTimeout time.Duration, collector *metrics.Collector, logger *zap.Logger) *Server {
	if ioTimeout <= 0 {
		ioTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:    engine,
		ioTimeout: ioTimeout,
		maxResult: maxReplyFrame - replyOverhead,
		metrics:   collector,
		logger:    logger,
	}
}

// Listen opens the socket at path, replacing a stale file from a previous
// run, and restricts it to the owning user.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is cancelled. Connections are read
// concurrently, but every decoded request is executed by one dispatcher
// goroutine in arrival order. Requests already accepted are answered before
// Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	calls := make(chan call)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		s.dispatchLoop(context.WithoutCancel(ctx), calls)
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	var conns sync.WaitGroup
	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				serveErr = err
			}
			break
		}
		conns.Add(1)
		go func() {
			defer conns.Done()
			s.handleConn(ctx, conn, calls)
		}()
	}

	conns.Wait()
	close(calls)
	<-dispatched
	return serveErr
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, calls chan<- call) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(s.ioTimeout)); err != nil {
		return
	}

	req, err := readRequest(conn)
	var reply Reply
	switch {
	case errors.Is(err, ErrBadRequest):
		s.logger.Debug("rejected channel request", zap.Error(err))
		reply = Reply{V: Version, MessageID: req.MessageID, Error: errorBody(err)}
		s.metrics.RecordCommand("invalid", CodeBadRequest, 0)
	case err != nil:
		s.logger.Debug("channel read failed", zap.Error(err))
		return
	default:
		c := call{req: req, reply: make(chan Reply, 1)}
		select {
		case calls <- c:
		case <-ctx.Done():
			return
		}
		reply = <-c.reply
	}

	if err := writeFrame(conn, reply); err != nil {
		s.logger.Warn("channel reply failed",
			zap.String("message_id", reply.MessageID),
			zap.Error(err),
		)
	}
}

func (s *Server) dispatchLoop(ctx context.Context, calls <-chan call) {
	for c := range calls {
		start := time.Now()
		result, err := s.dispatch(ctx, c.req)
		reply := Reply{V: Version, MessageID: c.req.MessageID}
		outcome := "ok"
		if err == nil {
			reply.Result, err = json.Marshal(result)
		}
		if err == nil && len(reply.Result) > s.maxResult {
			err = fmt.Errorf("%w: %s result is %d bytes", ErrReplyTooLarge, c.req.Command, len(reply.Result))
		}
		if err != nil {
			reply.Result = nil
			reply.Error = errorBody(err)
			outcome = reply.Error.Code
			s.logFailure(c.req, reply.Error.Code, err)
		} else {
			reply.OK = true
		}
		s.metrics.RecordCommand(c.req.Command, outcome, time.Since(start))
		c.reply <- reply
	}
}

func (s *Server) logFailure(req Request, code string, err error) {
	fields := []zap.Field{
		zap.String("command", req.Command),
		zap.String("message_id", req.MessageID),
		zap.String("code", code),
		zap.Error(err),
	}
	if code == CodeDatabase || code == CodeInternal || code == CodeReplyTooLarge {
		s.logger.Error("ledger command failed", fields...)
		return
	}
	s.logger.Debug("ledger command rejected", fields...)
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Command {
	case CmdCreateAccount:
		return s.engine.CreateAccount(ctx)
	case CmdGetAccount:
		var args AccountArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return s.engine.GetAccount(ctx, args.AccountID)
	case CmdListAccounts:
		return s.engine.ListAccounts(ctx)
	case CmdCreateTransaction:
		var args CreateTransactionArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return s.engine.CreateTransaction(ctx, services.TransferRequest{
			ID:         args.TransactionID,
			SenderID:   args.SenderID,
			ReceiverID: args.ReceiverID,
			Amount:     args.Amount,
		})
	case CmdGetTransaction:
		var args GetTransactionArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return s.engine.GetTransaction(ctx, args.TransactionID, args.AccountID)
	case CmdListTransactions:
		var args ListTransactionsArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return s.engine.ListTransactions(ctx, args.AccountID, args.Start, args.End)
	case CmdReconcile:
		return s.engine.Reconcile(ctx)
	default:
		return nil, badRequest("unknown command %q", req.Command)
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return badRequest("missing args")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return badRequest("decode args: %v", err)
	}
	return nil
}

// readRequest reads the single request line. A returned Request may carry a
// message id even when err is ErrBadRequest, so the rejection can echo it.
func readRequest(r io.Reader) (Request, error) {
	line, err := readFrame(r, maxRequestFrame)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, badRequest("malformed request: %v", err)
	}
	if req.V != Version {
		return req, badRequest("unsupported version %d", req.V)
	}
	if req.MessageID == "" {
		return req, badRequest("missing message_id")
	}
	return req, nil
}

func readFrame(r io.Reader, limit int64) ([]byte, error) {
	br := bufio.NewReader(io.LimitReader(r, limit))
	line, err := br.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return nil, badRequest("frame not newline terminated")
		}
		return nil, err
	}
	return line, nil
}

func writeFrame(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
