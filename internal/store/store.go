// Package store persists the ledger application state in SQLite: the single
// coffee ledger record, the bank balances and the last committed block. A
// Save writes all three in one SQL transaction so a crash never leaves a
// half-committed block on disk.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"coffee.mini/bmc/internal/bank"
	"coffee.mini/bmc/internal/ledger"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile        = "ledger.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

var errNoBackups = errors.New("no ledger backups available")

// Meta describes the last block whose state was saved.
type Meta struct {
	Height  int64
	AppHash []byte
}

// Store manages persistence of the application state to a SQLite file.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
	updates   chan struct{}
}

type backupInfo struct {
	path      string
	timestamp int64
}

// NewStore opens (or creates) the database at filePath. A database that
// cannot be opened is replaced by the newest backup, or by a fresh file when
// there are no backups.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "resolve db path")
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
		updates:   make(chan struct{}, 1),
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create backup directory")
	}

	if err := s.tryOpenOrRecover(); err != nil {
		return nil, err
	}

	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	return s, nil
}

// Updates returns a channel that receives a value whenever saved state changes.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

// Path returns the absolute database file path.
func (s *Store) Path() string {
	return s.file
}

func (s *Store) tryOpenOrRecover() error {
	if err := s.openDB(); err != nil {
		if recErr := s.recoverDatabase(err); recErr != nil {
			return recErr
		}
	}
	return nil
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return errors.Wrap(err, "create db directory")
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(s.file)))
	if err != nil {
		return errors.Wrap(err, "open sqlite")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return errors.Wrap(err, "ping sqlite")
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return errors.Wrap(err, "set busy timeout")
	}

	// sqlite only detects a non-database file on first real read.
	if _, err := db.Exec(`SELECT count(*) FROM sqlite_master`); err != nil {
		db.Close()
		return errors.Wrap(err, "read sqlite schema")
	}

	s.db = db
	return nil
}

func (s *Store) recoverDatabase(openErr error) error {
	if err := s.restoreLatestBackup(); err != nil {
		if errors.Is(err, errNoBackups) {
			if cleanErr := s.resetDatabaseFiles(); cleanErr != nil {
				return errors.Wrapf(cleanErr, "reset database after %v", openErr)
			}
			if err := s.openDB(); err != nil {
				return errors.Wrapf(err, "create fresh database after %v", openErr)
			}
			return nil
		}
		return errors.Wrapf(err, "restore database after %v", openErr)
	}
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "remove %s", filepath.Base(path))
			}
		}
	}
	return firstErr
}

func (s *Store) removeSidecarFilesLocked() {
	for _, path := range []string{s.file + "-wal", s.file + "-shm"} {
		_ = os.Remove(path)
	}
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			owner TEXT NOT NULL,
			total_payment_count TEXT NOT NULL,
			total_value_received TEXT NOT NULL,
			balance TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			address TEXT PRIMARY KEY,
			balance TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS app_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			height INTEGER NOT NULL,
			app_hash BLOB
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "create schema")
		}
	}

	if err := s.ensureBalanceColumn(); err != nil {
		return err
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return errors.Wrap(err, "enable WAL")
	}

	return nil
}

// ensureBalanceColumn upgrades databases written before withdrawals were
// tracked. Their empty balance loads as the full value received.
func (s *Store) ensureBalanceColumn() error {
	rows, err := s.db.Query(`PRAGMA table_info(ledger_state)`)
	if err != nil {
		return errors.Wrap(err, "read ledger_state columns")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return errors.Wrap(err, "scan ledger_state column")
		}
		if name == "balance" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "read ledger_state columns")
	}
	rows.Close()

	if _, err := s.db.Exec(`ALTER TABLE ledger_state ADD COLUMN balance TEXT NOT NULL DEFAULT ''`); err != nil {
		return errors.Wrap(err, "add balance column")
	}
	return nil
}

// Load reads the saved state. An empty database yields an uninitialized
// ledger, an empty bank and zero Meta.
func (s *Store) Load() (*ledger.State, *bank.Bank, Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := ledger.NewState()
	var owner, count, received, balance string
	err := s.db.QueryRow(`SELECT owner, total_payment_count, total_value_received, balance
		FROM ledger_state WHERE id = 1`).Scan(&owner, &count, &received, &balance)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, nil, Meta{}, errors.Wrap(err, "read ledger state")
	default:
		state, err = ledger.FromSnapshot(ledger.Snapshot{
			Owner:              owner,
			TotalPaymentCount:  count,
			TotalValueReceived: received,
			Balance:            balance,
		})
		if err != nil {
			return nil, nil, Meta{}, errors.Wrap(err, "decode ledger state")
		}
	}

	b, err := s.loadAccountsLocked()
	if err != nil {
		return nil, nil, Meta{}, err
	}

	var meta Meta
	err = s.db.QueryRow(`SELECT height, app_hash FROM app_meta WHERE id = 1`).Scan(&meta.Height, &meta.AppHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, Meta{}, errors.Wrap(err, "read app meta")
	}

	return state, b, meta, nil
}

func (s *Store) loadAccountsLocked() (*bank.Bank, error) {
	rows, err := s.db.Query(`SELECT address, balance FROM accounts ORDER BY address`)
	if err != nil {
		return nil, errors.Wrap(err, "read accounts")
	}
	defer rows.Close()

	b := bank.New()
	for rows.Next() {
		var addr, balance string
		if err := rows.Scan(&addr, &balance); err != nil {
			return nil, errors.Wrap(err, "scan account")
		}
		amount, err := ledger.ParseAmount(balance)
		if err != nil {
			return nil, errors.Wrapf(err, "account %s", addr)
		}
		if err := b.Credit(common.HexToAddress(addr), amount); err != nil {
			return nil, errors.Wrapf(err, "account %s", addr)
		}
	}
	return b, rows.Err()
}

// Save atomically replaces the saved state.
func (s *Store) Save(state *ledger.State, b *bank.Bank, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin save")
	}

	if err := saveLocked(tx, state, b, meta); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit save")
	}

	s.notify()
	return nil
}

func saveLocked(tx *sql.Tx, state *ledger.State, b *bank.Bank, meta Meta) error {
	if state.Initialized() {
		snap := state.Snapshot()
		if _, err := tx.Exec(`INSERT INTO ledger_state (id, owner, total_payment_count, total_value_received, balance)
			VALUES (1, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				owner = excluded.owner,
				total_payment_count = excluded.total_payment_count,
				total_value_received = excluded.total_value_received,
				balance = excluded.balance`,
			snap.Owner, snap.TotalPaymentCount, snap.TotalValueReceived, snap.Balance); err != nil {
			return errors.Wrap(err, "write ledger state")
		}
	}

	if _, err := tx.Exec(`DELETE FROM accounts`); err != nil {
		return errors.Wrap(err, "truncate accounts")
	}
	stmt, err := tx.Prepare(`INSERT INTO accounts (address, balance) VALUES (?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare account insert")
	}
	defer stmt.Close()
	for _, acct := range b.Accounts() {
		if _, err := stmt.Exec(acct.Address.Hex(), ledger.FormatAmount(acct.Balance)); err != nil {
			return errors.Wrapf(err, "write account %s", acct.Address.Hex())
		}
	}

	if _, err := tx.Exec(`INSERT INTO app_meta (id, height, app_hash) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET height = excluded.height, app_hash = excluded.app_hash`,
		meta.Height, meta.AppHash); err != nil {
		return errors.Wrap(err, "write app meta")
	}
	return nil
}
