package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/solstice-dex/solstice/params"
	"github.com/solstice-dex/solstice/pkg/api"
	"github.com/solstice-dex/solstice/pkg/core/processor"
	"github.com/solstice-dex/solstice/pkg/core/state"
	"github.com/solstice-dex/solstice/pkg/sim"
	"github.com/solstice-dex/solstice/pkg/storage"
	"github.com/solstice-dex/solstice/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := newLogger(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		logger.Fatal("create data dir", zap.Error(err))
	}

	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "db"))
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer store.Close()

	clock := util.RealClock{}
	proc := processor.New(store, clock, cfg.Node.FeeRecipient, logger)

	if cfg.Node.JournalFile != "" {
		journal, err := storage.NewFileJournal(cfg.Node.JournalFile)
		if err != nil {
			logger.Fatal("open journal", zap.Error(err))
		}
		defer journal.Close()
		proc.SetJournal(journal)
	}

	mkt, err := bootstrapGenesis(proc, store, cfg.Genesis, logger)
	if err != nil {
		logger.Fatal("bootstrap genesis market", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(store, clock, logger)
	proc.SetTradeSink(func(tr state.Trade) {
		server.BroadcastTrade(cfg.Genesis.Market, tr)
		server.BroadcastOrderbook(cfg.Genesis.Market)
	})

	go func() {
		if err := server.Start(cfg.Node.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	if cfg.Feeder.Enabled {
		feederCfg := sim.DefaultFeederConfig(cfg.Genesis.Market)
		feederCfg.NumTraders = cfg.Feeder.NumTraders
		feederCfg.Interval = cfg.Feeder.Interval
		feederCfg.MidPrice = cfg.Feeder.MidPrice
		feederCfg.PriceBand = cfg.Feeder.PriceBand

		feeder := sim.NewFeeder(proc, store, mkt, feederCfg, logger)
		if err := feeder.Fund(); err != nil {
			logger.Fatal("fund feeder traders", zap.Error(err))
		}
		go feeder.Run(ctx)
	}

	logger.Info("dexd running",
		zap.String("listen", cfg.Node.ListenAddr),
		zap.String("market", cfg.Genesis.Market.Hex()),
		zap.Bool("feeder", cfg.Feeder.Enabled))

	<-ctx.Done()
	logger.Info("shutting down")
	server.Shutdown(context.Background())
}

func newLogger(logFile string) (*zap.Logger, error) {
	if logFile != "" {
		return util.NewLoggerWithFile(logFile)
	}
	return util.NewLogger()
}

// bootstrapGenesis initializes the configured market on first start. A
// market already on disk is left untouched.
func bootstrapGenesis(proc *processor.Processor, store *storage.PebbleStore, g params.Genesis, logger *zap.Logger) (*state.Market, error) {
	existing, err := store.LoadMarket(g.Market)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Info("genesis market already initialized", zap.String("market", g.Market.Hex()))
		return existing, nil
	}

	ix := &processor.InitializeMarket{
		MinBaseOrderSize: g.MinBaseOrderSize,
		TickSize:         g.TickSize,
		FeeRateBps:       g.FeeRateBps,
	}
	res, err := proc.Apply(&processor.Request{
		Signer:    g.Authority,
		Market:    g.Market,
		BaseMint:  g.BaseMint,
		QuoteMint: g.QuoteMint,
		Data:      ix.Encode(),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("genesis market initialized",
		zap.String("market", g.Market.Hex()),
		zap.Uint64("tick_size", g.TickSize),
		zap.Uint16("fee_rate_bps", g.FeeRateBps))
	return res.Market, nil
}
