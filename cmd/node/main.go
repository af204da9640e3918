package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/optimic-protocol/optimic/params"
	"github.com/optimic-protocol/optimic/pkg/abci"
	"github.com/optimic-protocol/optimic/pkg/api"
	"github.com/optimic-protocol/optimic/pkg/app/optimic"
	"github.com/optimic-protocol/optimic/pkg/storage"
	"github.com/optimic-protocol/optimic/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" loads .env from the working directory

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("node_starting", "chain_id", cfg.ChainID, "data_dir", cfg.Node.DataDir)

	store, err := storage.NewPebbleStore(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("open_store", "err", err)
	}
	defer store.Close()

	genesis := optimic.DefaultGenesis()
	genesis.ChainID = cfg.ChainID

	app, err := optimic.New(store, genesis, sugar)
	if err != nil {
		sugar.Fatalw("init_app", "err", err)
	}

	mp := abci.NewMempool(16 * app.Params().MaxBlockSize)
	exec := abci.NewExecutor(app, mp, app.Params().MaxBlockSize, sugar)

	server := api.NewServer(app, mp, sugar)
	app.SetEventSink(server.Hub().Publish)
	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server", "err", err)
		}
	}()

	// Devnet block production: one block per interval, wall clock in,
	// deterministic state out.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	clock := util.RealClock{}
	sugar.Infow("block_loop_started", "interval", cfg.Node.BlockInterval, "height", exec.Height())

	for {
		select {
		case <-stop:
			sugar.Infow("node_stopping", "height", exec.Height())
			return
		case now := <-clock.After(cfg.Node.BlockInterval):
			if _, err := exec.ExecuteBlock(now.Unix()); err != nil {
				sugar.Fatalw("execute_block", "err", err)
			}
		}
	}
}
