package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"apex-bridge/internal/agent"
	"apex-bridge/internal/api"
	"apex-bridge/internal/attribution"
	"apex-bridge/internal/campaigns"
	"apex-bridge/internal/chain"
	"apex-bridge/internal/config"
	"apex-bridge/internal/ledger"
	"apex-bridge/internal/purchase"
	"apex-bridge/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// Generator is optional; without one the chat endpoint answers 503.
	Generator agent.Generator
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newChainClient() *chain.Client {
	return chain.NewClient(chain.ClientOptions{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

func (a *App) newWriter(client *chain.Client) (*chain.TxWriter, error) {
	return chain.NewTxWriter(client, chain.WriterOptions{
		SigningKey:          a.Config.Publisher.SigningKey,
		Confirmations:       a.Config.Ethereum.Confirmations,
		ReceiptPollInterval: a.Config.Ethereum.ReceiptPollInterval,
	}, a.Logger)
}

func (a *App) newCache(client *chain.Client) *campaigns.Cache {
	registry := campaigns.NewRegistry(client, common.HexToAddress(a.Config.Ethereum.CampaignRegistry))
	return campaigns.NewCache(registry, campaigns.CacheOptions{TTL: a.Config.Cache.TTL}, a.Logger)
}

func (a *App) newLedger(archiver ledger.Archiver) *ledger.Store {
	return ledger.NewStore(ledger.Options{
		Rates: ledger.Rates{
			InputPerMtok:  decimal.NewFromFloat(a.Config.Pricing.InputUSDPerMTok),
			OutputPerMtok: decimal.NewFromFloat(a.Config.Pricing.OutputUSDPerMTok),
		},
		Archiver: archiver,
		Logger:   a.Logger,
	})
}

// newPoller watches the campaign registry, which emits the ActionProcessed
// settlement events. The ad registry only receives createAd submissions.
func (a *App) newPoller(reader chain.Reader, store *ledger.Store) *ledger.Poller {
	return ledger.NewPoller(reader, store, ledger.PollerOptions{
		Registry:       common.HexToAddress(a.Config.Ethereum.CampaignRegistry),
		PublisherID:    a.Config.Publisher.ID,
		Interval:       a.Config.Poller.Interval,
		BackfillBlocks: a.Config.Poller.BackfillBlocks,
		TokenDecimals:  a.Config.Ethereum.TokenDecimals,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run starts the HTTP surface and the revenue poller and blocks until a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; audit mirror disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var archiver ledger.Archiver
	if store != nil {
		archiver = store
	}
	ledgerStore := a.newLedger(archiver)

	client := a.newChainClient()
	writer, err := a.newWriter(client)
	if err != nil {
		return fmt.Errorf("configure transaction writer: %w", err)
	}

	cache := a.newCache(client)
	submitter := attribution.NewSubmitter(writer, attribution.Options{
		Registry:    common.HexToAddress(a.Config.Ethereum.AdRegistry),
		PublisherID: a.Config.Publisher.ID,
	}, a.Logger)

	poller := a.newPoller(client, ledgerStore)

	server := api.NewServer(api.Options{
		Campaigns:    cache,
		Attributions: submitter,
		NewPurchase: func() api.PurchaseRunner {
			return purchase.New(client, writer, purchase.Options{
				Contract:     common.HexToAddress(a.Config.Ethereum.PurchaseContract),
				Token:        common.HexToAddress(a.Config.Ethereum.PaymentToken),
				DefaultPrice: a.defaultPrice(),
			}, a.Logger)
		},
		Financials:    ledgerStore,
		Generator:     a.Generator,
		WalletAllowed: a.Config.WalletAllowed,
	}, a.Logger)

	httpServer := &http.Server{
		Addr:        a.Config.HTTP.ListenAddr,
		Handler:     server.Router(),
		ReadTimeout: a.Config.HTTP.ReadTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		a.Logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		a.Logger.Error().Err(err).Msg("service terminated with error")
		shutdownHTTP(httpServer, a.Config.HTTP.ShutdownTimeout)
		return err
	}

	a.Logger.Info().Msg("shutting down")
	shutdownHTTP(httpServer, a.Config.HTTP.ShutdownTimeout)
	return nil
}

func shutdownHTTP(server *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func (a *App) defaultPrice() *big.Int {
	return big.NewInt(a.Config.Purchase.DefaultPriceMinorUnits)
}
