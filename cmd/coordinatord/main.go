package main

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/obfpool-coordinator/internal/api"
	"github.com/rawblock/obfpool-coordinator/internal/bitcoin"
	"github.com/rawblock/obfpool-coordinator/internal/collateral"
	"github.com/rawblock/obfpool-coordinator/internal/config"
	"github.com/rawblock/obfpool-coordinator/internal/coordinator"
	"github.com/rawblock/obfpool-coordinator/internal/db"
	"github.com/rawblock/obfpool-coordinator/internal/journal"
	"github.com/rawblock/obfpool-coordinator/internal/signer"
)

func main() {
	log.Println("Starting obfuscation pool coordinator...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values.
	// ────────────────────────────────────────────────────────────────────

	btcHost := getEnvOrDefault("BTC_RPC_HOST", "localhost:8332")
	btcUser := requireEnv("BTC_RPC_USER")
	btcPass := requireEnv("BTC_RPC_PASS")

	btcClient, err := bitcoin.NewClient(bitcoin.Config{Host: btcHost, User: btcUser, Pass: btcPass})
	if err != nil {
		log.Fatalf("FATAL: cannot reach node RPC: %v", err)
	}
	defer btcClient.Shutdown()

	var journalStore journal.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		store, err := db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: broadcast journal running without durable storage: %v", err)
		} else {
			defer store.Close()
			if err := store.InitSchema(context.Background()); err != nil {
				log.Printf("Warning: broadcast journal schema init failed: %v", err)
			} else {
				journalStore = store
			}
		}
	} else {
		log.Println("DATABASE_URL not set; broadcast journal running in-memory only")
	}

	network := networkFromEnv()
	params := config.For(network)
	msgSigner := signer.New(params.MessageMagic)
	j := journal.New(journalStore)
	validator := collateral.New(btcClient, btcClient, params.CollateralFee)

	coordPriv, coordVin := coordinatorIdentity()

	sync := &chainSyncTracker{client: btcClient}

	hub := api.NewHub()
	go hub.Run()

	relay := api.NewWireRelay(hub)

	coord := coordinator.New(
		params,
		sync,
		btcClient,
		btcClient,
		relay,
		realClock{},
		msgSigner,
		j,
		coordPriv,
		coordVin,
	)
	if addr := os.Getenv("COORDINATOR_COLLATERAL_ADDRESS"); addr != "" {
		coord.SetCollateralAddress(addr)
	}

	handler := api.NewAPIHandler(coord, hub, validator, network)
	router := api.SetupRouter(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	port := getEnvOrDefault("PORT", "5339")
	go func() {
		log.Printf("Coordinator listening on :%s\n", port)
		if err := router.Run(":" + port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down...")
}

// chainSyncTracker implements coordinator.SyncTracker against a live node,
// matching the original's masternodeSync gate at the top of the pool
// thread: nothing else runs until the node reports itself caught up.
type chainSyncTracker struct {
	client *bitcoin.Client
	synced bool
}

func (s *chainSyncTracker) Advance(ctx context.Context) error {
	synced, err := s.client.IsSynced(ctx)
	if err != nil {
		return err
	}
	s.synced = synced
	return nil
}

func (s *chainSyncTracker) IsSynced() bool { return s.synced }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// coordinatorIdentity loads this coordinator's signing key and the
// outpoint that associates it with its on-chain collateral, the same
// identity a masternode proves with its own collateral vin.
func coordinatorIdentity() (*btcec.PrivateKey, wire.OutPoint) {
	keyHex := requireEnv("COORDINATOR_PRIVKEY")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		log.Fatalf("FATAL: COORDINATOR_PRIVKEY is not valid hex: %v", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(keyBytes)

	vinTxid := requireEnv("COORDINATOR_VIN_TXID")
	hash, err := chainhash.NewHashFromStr(vinTxid)
	if err != nil {
		log.Fatalf("FATAL: COORDINATOR_VIN_TXID is not a valid hash: %v", err)
	}
	vinIndex, err := strconv.ParseUint(getEnvOrDefault("COORDINATOR_VIN_INDEX", "0"), 10, 32)
	if err != nil {
		log.Fatalf("FATAL: COORDINATOR_VIN_INDEX is not a valid index: %v", err)
	}

	return priv, wire.OutPoint{Hash: *hash, Index: uint32(vinIndex)}
}

func networkFromEnv() config.Network {
	switch getEnvOrDefault("NETWORK", "main") {
	case "test":
		return config.Test
	case "reg":
		return config.Reg
	case "unit":
		return config.Unit
	default:
		return config.Main
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Set it in the environment before starting the coordinator.", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
