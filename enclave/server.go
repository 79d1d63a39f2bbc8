package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/escrowauction/enclaveapi"
	"github.com/cloudx-io/escrowauction/store"
	"github.com/cloudx-io/escrowauction/store/cborstore"
	"github.com/cloudx-io/escrowauction/store/sqlstore"
)

const requestDeadline = 30 * time.Second

type EnclaveServer struct {
	config  *Config
	store   store.Store
	service *AuctionService
}

func NewEnclaveServer(cfg *Config) *EnclaveServer {
	return &EnclaveServer{config: cfg}
}

func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case StoreDriverCBOR:
		return cborstore.Open(cfg.Path)
	case StoreDriverSQLite:
		return sqlstore.Open(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (s *EnclaveServer) listen() (net.Listener, error) {
	switch s.config.Listener.Mode {
	case ListenerVsock:
		listener, err := vsock.Listen(s.config.Listener.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		log.Printf("INFO: TEE server listening on vsock port %d", s.config.Listener.Port)
		return listener, nil
	default:
		listener, err := net.Listen("tcp", s.config.Listener.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		log.Printf("INFO: Server listening on tcp %s", listener.Addr())
		return listener, nil
	}
}

// init opens the store, restores the auction and assembles the request service
func (s *EnclaveServer) init(ctx context.Context) error {
	st, err := openStore(ctx, s.config.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", s.config.Store.Driver, err)
	}
	s.store = st
	log.Printf("INFO: Opened %s store at %s", s.config.Store.Driver, s.config.Store.Path)

	host, err := NewHost(ctx, st, s.config.Operator, s.config.Application)
	if err != nil {
		return err
	}

	replay, err := RestoreReplayGuard(ctx, st, s.config.Replay.Window.Duration)
	if err != nil {
		return err
	}
	replay.StartExpirationCleanup(ctx, s.config.Replay.SweepInterval.Duration, st.ForgetRequests)
	log.Printf("INFO: Replay guard started (window: %s, sweep: %s, restored: %d)",
		s.config.Replay.Window.Duration, s.config.Replay.SweepInterval.Duration, replay.Len())

	var attester EnclaveAttester
	if s.config.Attest {
		attester, err = getEnclaveAttester()
		if err != nil {
			log.Printf("ERROR: NSM initialization failed: %v (continuing without attestation)", err)
			attester = nil
		}
	}

	s.service = &AuctionService{
		Host:         host,
		Replay:       replay,
		Attester:     attester,
		RequireOptIn: s.config.RequireOptIn,
		Clock:        time.Now,
	}
	return nil
}

func (s *EnclaveServer) Start(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.store.Close(); err != nil {
			log.Printf("ERROR: Failed to close store: %v", err)
		}
	}()

	dispatcher := NewDispatcher(s.store, LogExecutor{}, s.config.Dispatcher.Interval.Duration, s.config.Dispatcher.BatchSize)
	go dispatcher.Run(ctx)
	log.Printf("INFO: Intent dispatcher started (interval: %s, batch: %d)",
		s.config.Dispatcher.Interval.Duration, s.config.Dispatcher.BatchSize)

	listener, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections until ctx is done, handling each on a bounded worker pool
func (s *EnclaveServer) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	semaphore := make(chan struct{}, s.config.MaxWorkers)
	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", s.config.MaxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Printf("INFO: Listener closed, shutting down")
				return nil
			}
			log.Printf("ERROR: Failed to accept connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }() // Release worker slot
				s.handleConnection(ctx, c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

func errorResponse(message string) map[string]any {
	return map[string]any{
		"type":    enclaveapi.ResponseTypeError,
		"message": message,
	}
}

func (s *EnclaveServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(requestDeadline))

	var buf bytes.Buffer
	_, err := io.Copy(&buf, conn)
	if err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	var baseReq struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(buf.Bytes(), &baseReq); err != nil {
		log.Printf("ERROR: Failed to decode base request: %v", err)
		return
	}

	log.Printf("INFO: Received request type: %s", baseReq.Type)

	var response any

	switch baseReq.Type {
	case enclaveapi.RequestTypePing:
		response = map[string]any{
			"type":      "pong",
			"message":   "TEE server is healthy",
			"timestamp": time.Now().Unix(),
		}
		log.Printf("INFO: Responding to ping with pong")

	case enclaveapi.RequestTypeStatus,
		enclaveapi.RequestTypeBindAsset,
		enclaveapi.RequestTypeStart,
		enclaveapi.RequestTypeOptIn,
		enclaveapi.RequestTypeBid,
		enclaveapi.RequestTypeClaim,
		enclaveapi.RequestTypeSettleAsset,
		enclaveapi.RequestTypeTeardown:
		var auctionReq enclaveapi.AuctionRequest
		if err := json.Unmarshal(buf.Bytes(), &auctionReq); err != nil {
			log.Printf("ERROR: Failed to decode %s request: %v", baseReq.Type, err)
			response = errorResponse(fmt.Sprintf("Failed to decode %s request: %v", baseReq.Type, err))
			break
		}
		reqCtx, cancel := context.WithTimeout(ctx, requestDeadline)
		response = ProcessAuctionRequest(reqCtx, s.service, auctionReq)
		cancel()

	default:
		response = errorResponse(fmt.Sprintf("Unknown request type: %s", baseReq.Type))
	}

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	} else {
		log.Printf("INFO: Successfully sent response for %s", baseReq.Type)
	}
}

func main() {
	cfg, err := LoadConfig(os.Getenv("ENCLAVE_CONFIG"))
	if err != nil {
		log.Fatalf("ERROR: Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewEnclaveServer(cfg)
	if err := server.Start(ctx); err != nil {
		log.Fatal(err)
	}
}
