package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"swaplock/config"
	"swaplock/native/swap"
	"swaplock/observability/logging"
	"swaplock/rpc"
	"swaplock/state"
	"swaplock/state/bank"
	"swaplock/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SWAPLOCK_ENV"))
	logger := logging.Setup("swaplockd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	var db storage.Database
	if strings.TrimSpace(cfg.DataDir) != "" {
		db, err = storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("no DataDir configured, state will not survive restarts")
		db = storage.NewMemDB()
	}
	defer db.Close()

	managed, err := state.Open(db)
	if err != nil {
		logger.Error("failed to load state", slog.Any("error", err))
		os.Exit(1)
	}

	vaultAddr, err := resolveVault(cfg.VaultAddress)
	if err != nil {
		logger.Error("invalid vault address", slog.Any("error", err))
		os.Exit(1)
	}

	book := bank.NewBook()
	if err := seedGenesis(book, cfg.GenesisAccounts); err != nil {
		logger.Error("invalid genesis account", slog.Any("error", err))
		os.Exit(1)
	}

	engine := swap.NewEngine(managed, bank.NewLedger(book, vaultAddr))
	engine.SetVault(vaultAddr)

	server := rpc.NewServer(engine, rpc.Options{
		RateLimit: cfg.RPCRateLimit,
		RateBurst: cfg.RPCRateBurst,
		Committer: managed,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting JSON-RPC server",
			slog.String("addr", cfg.RPCAddress),
			slog.String("network", cfg.NetworkName))
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// resolveVault picks the escrow holding account: the configured address, or a
// stable derivation when none is set.
func resolveVault(configured string) (common.Address, error) {
	trimmed := strings.TrimSpace(configured)
	if trimmed == "" {
		digest := ethcrypto.Keccak256([]byte("swaplock/vault"))
		return common.BytesToAddress(digest[12:]), nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("malformed address %q", trimmed)
	}
	return common.HexToAddress(trimmed), nil
}

func seedGenesis(book *bank.Book, accounts map[string]string) error {
	for addr, amount := range accounts {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("malformed address %q", addr)
		}
		value, err := uint256.FromDecimal(strings.TrimSpace(amount))
		if err != nil {
			return fmt.Errorf("malformed amount for %s: %w", addr, err)
		}
		book.Mint(swap.NativeToken, common.HexToAddress(addr), value)
	}
	return nil
}
