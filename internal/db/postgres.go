// Package db implements journal.Store against PostgreSQL via pgx, the way
// the teacher's PostgresStore persisted its own analysis results — same
// connect-ping-log idiom, same pool, new schema.
package db

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// PostgresStore is the durable backstop behind internal/journal.Journal:
// a record of every merged transaction the coordinator ever authorized and
// broadcast. The journal writes to it but does not read from it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log.Println("db: connected to PostgreSQL broadcast journal")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the broadcast_journal table if it does not already
// exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS broadcast_journal (
			merged_txid      TEXT PRIMARY KEY,
			merged_tx        TEXT NOT NULL,
			coordinator_vin  TEXT NOT NULL,
			sig              TEXT NOT NULL,
			sig_time         BIGINT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create broadcast_journal: %w", err)
	}
	log.Println("db: broadcast journal schema ready")
	return nil
}

// Put implements journal.Store, recording that key (the merged tx's hash)
// was authorized and broadcast. A conflict on merged_txid is treated as
// success — the journal itself is the idempotency boundary, not this
// table.
func (s *PostgresStore) Put(ctx context.Context, key chainhash.Hash, entry models.BroadcastJournalEntry) error {
	txHex, err := serializeTxHex(entry.Tx)
	if err != nil {
		return fmt.Errorf("serialize merged tx: %w", err)
	}

	const insertSQL = `
		INSERT INTO broadcast_journal (merged_txid, merged_tx, coordinator_vin, sig, sig_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (merged_txid) DO NOTHING;
	`
	_, err = s.pool.Exec(ctx, insertSQL,
		key.String(),
		txHex,
		entry.CoordinatorVin.String(),
		hex.EncodeToString(entry.Sig),
		entry.SigTime,
	)
	if err != nil {
		return fmt.Errorf("insert broadcast_journal: %w", err)
	}
	return nil
}

// Get implements journal.Store.
func (s *PostgresStore) Get(ctx context.Context, key chainhash.Hash) (models.BroadcastJournalEntry, bool, error) {
	const querySQL = `
		SELECT merged_tx, coordinator_vin, sig, sig_time
		FROM broadcast_journal
		WHERE merged_txid = $1;
	`
	var txHex, vinStr, sigHex string
	var sigTime int64
	err := s.pool.QueryRow(ctx, querySQL, key.String()).Scan(&txHex, &vinStr, &sigHex, &sigTime)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.BroadcastJournalEntry{}, false, nil
		}
		return models.BroadcastJournalEntry{}, false, fmt.Errorf("query broadcast_journal: %w", err)
	}

	tx, err := deserializeTxHex(txHex)
	if err != nil {
		return models.BroadcastJournalEntry{}, false, fmt.Errorf("deserialize merged tx: %w", err)
	}
	vin, err := parseOutPoint(vinStr)
	if err != nil {
		return models.BroadcastJournalEntry{}, false, fmt.Errorf("parse coordinator vin: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return models.BroadcastJournalEntry{}, false, fmt.Errorf("parse sig: %w", err)
	}

	return models.BroadcastJournalEntry{
		Tx:             tx,
		CoordinatorVin: vin,
		Sig:            sig,
		SigTime:        sigTime,
	}, true, nil
}

// GetPool exposes the connection pool for health checks and future
// components that need direct access.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

func serializeTxHex(tx *wire.MsgTx) (string, error) {
	if tx == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserializeTxHex(s string) (*wire.MsgTx, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(1)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

// parseOutPoint reverses wire.OutPoint.String()'s "hash:index" format.
func parseOutPoint(s string) (wire.OutPoint, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return wire.OutPoint{}, fmt.Errorf("malformed outpoint %q", s)
	}
	hash, err := chainhash.NewHashFromStr(s[:idx])
	if err != nil {
		return wire.OutPoint{}, err
	}
	index, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return wire.OutPoint{}, err
	}
	return wire.OutPoint{Hash: *hash, Index: uint32(index)}, nil
}
