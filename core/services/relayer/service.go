// Package relayer wires every sub-component into a single running
// service, the same role chainlink's fluxmonitorv2.Delegate plays for a
// flux monitor job: construct the Store, Event Bus, Validator, Chain
// Gateway and Executor, then expose Start/Close as one lifecycle.
package relayer

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/aionpay/relayer/core/chains/evm/gateway"
	"github.com/aionpay/relayer/core/chains/evm/relayertxm"
	"github.com/aionpay/relayer/core/config"
	"github.com/aionpay/relayer/core/logger"
	"github.com/aionpay/relayer/core/services/relayer/api"
	"github.com/aionpay/relayer/core/services/relayer/eventbus"
	"github.com/aionpay/relayer/core/services/relayer/store"
	"github.com/aionpay/relayer/core/services/relayer/validator"
	"github.com/aionpay/relayer/core/services/relayer/ws"
)

// Service composes every relayer sub-component and owns the HTTP server.
type Service struct {
	lggr logger.Logger
	cfg  *config.Config

	Store    *store.Store
	Bus      *eventbus.Bus
	Gateway  gateway.Gateway
	Executor *relayertxm.Executor

	httpServer *http.Server
	reconciler *reconciler
}

// New constructs every sub-component wired together per the Module Map,
// but does not start any goroutines yet.
func New(cfg *config.Config, lggr logger.Logger) (*Service, error) {
	st, err := store.New(cfg.DatabaseURL, lggr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct store")
	}

	gw, err := gateway.New(cfg.RPCURL, cfg.GasPayerPrivateKey, lggr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct chain gateway")
	}

	bus := eventbus.New(lggr)

	lookup := func(ctx context.Context, nonce string, excludeID int64) (bool, error) {
		return st.ExistsByNonce(ctx, nonce, excludeID)
	}
	vd := validator.New(gw, cfg, lookup, lggr)

	ex := relayertxm.New(st, vd, gw, bus, cfg, lggr)

	router := api.New(st, ex, vd, cfg, lggr)
	wsHandler := ws.New(bus, lggr)
	router.GET("/ws", gin.WrapF(wsHandler.ServeHTTP))

	return &Service{
		lggr:       lggr.Named("RelayerService"),
		cfg:        cfg,
		Store:      st,
		Bus:        bus,
		Gateway:    gw,
		Executor:   ex,
		httpServer: &http.Server{Addr: cfg.HTTPAddr, Handler: router},
		reconciler: newReconciler(st, bus, lggr),
	}, nil
}

// Start launches the Event Bus heartbeat, the Executor scheduler, and the
// HTTP server.
func (s *Service) Start() error {
	s.Bus.Start()
	if err := s.Executor.Start(); err != nil {
		return errors.Wrap(err, "failed to start executor")
	}
	if err := s.reconciler.start(); err != nil {
		return errors.Wrap(err, "failed to start reconciler")
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.lggr.Errorw("http server stopped unexpectedly", "err", err)
		}
	}()

	s.lggr.Infow("relayer started", "config", s.cfg.String())
	return nil
}

// shutdownTimeout bounds how long Close waits for the ingress HTTP server
// to drain connections already in flight before giving up on a graceful
// stop.
const shutdownTimeout = 15 * time.Second

// Close performs shutdown: stop the reconciler, then the Executor (which
// cancels the context of in-flight executions, aborting RPC calls already
// underway, and waits for their goroutines to return), only then stop
// accepting and finish serving in-flight HTTP requests, and close the
// Event Bus and Store last.
func (s *Service) Close() error {
	var merr error
	s.reconciler.stop()
	if err := s.Executor.Close(); err != nil {
		merr = multierr.Append(merr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		merr = multierr.Append(merr, err)
	}

	s.Bus.Close()
	if err := s.Store.Close(); err != nil {
		merr = multierr.Append(merr, err)
	}
	return merr
}
