package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"coffee.mini/bmc/internal/bank"
	"coffee.mini/bmc/internal/ledger"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payer  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	escrow = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func sampleState(count, received uint64) (*ledger.State, *bank.Bank) {
	state := ledger.Restore(owner, uint256.NewInt(count), uint256.NewInt(received), uint256.NewInt(received))
	b := bank.New()
	_ = b.Credit(payer, uint256.NewInt(7_000_000_000_000_000))
	_ = b.Credit(escrow, uint256.NewInt(received))
	return state, b
}

func TestSaveAndLoadAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	state, b := sampleState(3, 4_500_000_000_000_000)
	if err := store.Save(state, b, Meta{Height: 7, AppHash: []byte{1, 2, 3}}); err != nil {
		store.Close()
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	loaded, loadedBank, meta, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Snapshot() != state.Snapshot() {
		t.Fatalf("state mismatch: got %+v, want %+v", loaded.Snapshot(), state.Snapshot())
	}
	if got := loadedBank.Balance(payer).Uint64(); got != 7_000_000_000_000_000 {
		t.Fatalf("payer balance = %d", got)
	}
	if got := loadedBank.Balance(escrow).Uint64(); got != 4_500_000_000_000_000 {
		t.Fatalf("escrow balance = %d", got)
	}
	if meta.Height != 7 || string(meta.AppHash) != string([]byte{1, 2, 3}) {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestLoadEmptyDatabase(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	state, b, meta, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Initialized() {
		t.Fatal("fresh database should hold an uninitialized ledger")
	}
	if len(b.Accounts()) != 0 {
		t.Fatalf("expected no accounts, got %d", len(b.Accounts()))
	}
	if meta.Height != 0 || len(meta.AppHash) != 0 {
		t.Fatalf("expected zero meta, got %+v", meta)
	}
}

func TestSaveReplacesDrainedAccounts(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	state, b := sampleState(1, 1_000_000_000_000_000)
	if err := store.Save(state, b, Meta{Height: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := b.Transfer(escrow, owner, uint256.NewInt(1_000_000_000_000_000)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := store.Save(state, b, Meta{Height: 2}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	_, loaded, meta, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Balance(escrow).IsZero() {
		t.Fatalf("escrow should be drained, has %s", loaded.Balance(escrow))
	}
	if loaded.Balance(owner).Uint64() != 1_000_000_000_000_000 {
		t.Fatalf("owner balance = %s", loaded.Balance(owner))
	}
	if meta.Height != 2 {
		t.Fatalf("height = %d, want 2", meta.Height)
	}
}

func TestSaveNotifiesUpdates(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	state, b := sampleState(0, 0)
	if err := store.Save(state, b, Meta{Height: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case <-store.Updates():
	default:
		t.Fatal("expected an update notification after Save")
	}
}

func TestBackupCurrentCreatesAndPrunesBackups(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	state, b := sampleState(1, 1_000_000_000_000_000)
	if err := store.Save(state, b, Meta{Height: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	backupPath, err := store.BackupCurrent(10)
	if err != nil {
		t.Fatalf("BackupCurrent: %v", err)
	}
	if backupPath == "" {
		t.Fatalf("expected backup path, got empty string")
	}
	if filepath.Ext(backupPath) != ".db" {
		t.Fatalf("expected .db extension, got %q", filepath.Ext(backupPath))
	}
	if filepath.Dir(backupPath) != filepath.Join(dir, "backups") {
		t.Fatalf("expected backup in backups directory, got %q", filepath.Dir(backupPath))
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("ledger.db should still exist: %v", err)
	}

	for i := 0; i < 12; i++ {
		if _, err := store.BackupCurrent(10); err != nil {
			t.Fatalf("backup iteration %d: %v", i, err)
		}
		next, nb := sampleState(uint64(i+2), uint64(i+2)*1_000_000_000_000_000)
		if err := store.Save(next, nb, Meta{Height: int64(i + 2)}); err != nil {
			t.Fatalf("Save iteration %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var backupCount int
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "ledger-") && strings.HasSuffix(entry.Name(), ".db") {
			backupCount++
		}
	}
	if backupCount > 10 {
		t.Fatalf("expected at most 10 backup files, found %d", backupCount)
	}

	listed, err := store.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(listed) != backupCount {
		t.Fatalf("ListBackups returned %d, directory has %d", len(listed), backupCount)
	}
	for i := 1; i < len(listed); i++ {
		if listed[i].CreatedAt.After(listed[i-1].CreatedAt) {
			t.Fatalf("backups not newest first: %v before %v", listed[i-1].CreatedAt, listed[i].CreatedAt)
		}
	}
}

func TestNewStoreRecoversFromCorruptDBWithoutBackups(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	if err := os.WriteFile(dbPath, []byte("this is not sqlite"), 0o600); err != nil {
		t.Fatalf("write corrupt db: %v", err)
	}

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	state, _, _, err := store.Load()
	if err != nil {
		t.Fatalf("Load after recovery: %v", err)
	}
	if state.Initialized() {
		t.Fatal("expected uninitialized ledger after recovery")
	}

	next, b := sampleState(1, 1_000_000_000_000_000)
	if err := store.Save(next, b, Meta{Height: 1}); err != nil {
		t.Fatalf("Save after recovery: %v", err)
	}
}

func TestNewStoreRestoresLatestBackup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	state, b := sampleState(2, 3_000_000_000_000_000)
	if err := store.Save(state, b, Meta{Height: 4}); err != nil {
		store.Close()
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.BackupCurrent(20); err != nil {
		store.Close()
		t.Fatalf("BackupCurrent: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, sidecar := range []string{dbPath + "-wal", dbPath + "-shm"} {
		os.Remove(sidecar)
	}
	if err := os.WriteFile(dbPath, []byte("corrupt"), 0o600); err != nil {
		t.Fatalf("write corrupt db: %v", err)
	}

	store, err = NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore after corruption: %v", err)
	}
	defer store.Close()

	restored, _, meta, err := store.Load()
	if err != nil {
		t.Fatalf("Load after restore: %v", err)
	}
	if restored.Snapshot() != state.Snapshot() {
		t.Fatalf("expected %+v, got %+v", state.Snapshot(), restored.Snapshot())
	}
	if meta.Height != 4 {
		t.Fatalf("height = %d, want 4", meta.Height)
	}
}

func TestRestoreBackupByName(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	early, b := sampleState(1, 1_000_000_000_000_000)
	if err := store.Save(early, b, Meta{Height: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	backupPath, err := store.BackupCurrent(10)
	if err != nil {
		t.Fatalf("BackupCurrent: %v", err)
	}

	late, lb := sampleState(5, 9_000_000_000_000_000)
	if err := store.Save(late, lb, Meta{Height: 9}); err != nil {
		t.Fatalf("Save late: %v", err)
	}
	// Drain the Save notification so the restore notification is observable.
	<-store.Updates()

	previous, err := store.RestoreBackup(filepath.Base(backupPath), 10)
	if err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if previous == "" {
		t.Fatal("expected the replaced database to be kept as a backup")
	}

	restored, _, meta, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if restored.Snapshot() != early.Snapshot() || meta.Height != 1 {
		t.Fatalf("restored %+v at height %d", restored.Snapshot(), meta.Height)
	}

	select {
	case <-store.Updates():
	default:
		t.Fatal("expected an update notification after restore")
	}
}

func TestRestoreBackupRejectsUnknownNames(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	for _, name := range []string{"", "../ledger.db", "other-1.db", "ledger-1.db"} {
		if _, err := store.RestoreBackup(name, 10); err != ErrBackupNotFound {
			t.Errorf("RestoreBackup(%q) = %v, want ErrBackupNotFound", name, err)
		}
	}
}

func TestExportImportSnapshot(t *testing.T) {
	dir := t.TempDir()
	src, err := NewStore(filepath.Join(dir, "a", "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer src.Close()

	state, b := sampleState(2, 2_000_000_000_000_000)
	if err := src.Save(state, b, Meta{Height: 3}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := src.ExportSnapshot()
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	dst, err := NewStore(filepath.Join(dir, "b", "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore dst: %v", err)
	}
	defer dst.Close()

	if _, err := dst.ImportSnapshot(data, 5); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	imported, _, meta, err := dst.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if imported.Snapshot() != state.Snapshot() || meta.Height != 3 {
		t.Fatalf("imported %+v at height %d", imported.Snapshot(), meta.Height)
	}

	if _, err := dst.ImportSnapshot(nil, 5); err == nil {
		t.Fatal("expected error for empty snapshot")
	}
}

func TestSaveAndLoadKeepsWithdrawnBalance(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	state := ledger.Restore(owner, uint256.NewInt(2), uint256.NewInt(4_000_000_000_000_000), uint256.NewInt(1_000_000_000_000_000))
	if err := store.Save(state, bank.New(), Meta{Height: 5}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _, _, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := loaded.TotalValueReceived().Uint64(); got != 4_000_000_000_000_000 {
		t.Fatalf("total value received = %d", got)
	}
	if got := loaded.Balance().Uint64(); got != 1_000_000_000_000_000 {
		t.Fatalf("balance = %d, want 1000000000000000", got)
	}
}

func TestOpenUpgradesLedgerWithoutBalance(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	db, err := sql.Open("sqlite", "file:"+dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	stmts := []string{
		`CREATE TABLE ledger_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			owner TEXT NOT NULL,
			total_payment_count TEXT NOT NULL,
			total_value_received TEXT NOT NULL
		)`,
		`INSERT INTO ledger_state VALUES (1, '` + owner.Hex() + `', '3', '4500000000000000')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	db.Close()

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	state, _, _, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := state.TotalPaymentCount().Uint64(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	if got := state.Balance().Uint64(); got != 4_500_000_000_000_000 {
		t.Fatalf("balance = %d, want the full value received", got)
	}
}

func TestLoadErrorsCarryContextAndStack(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if _, err := store.db.Exec(`INSERT INTO ledger_state (id, owner, total_payment_count, total_value_received, balance)
		VALUES (1, 'not-an-address', '1', '1', '1')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, _, _, err = store.Load()
	if err == nil {
		t.Fatal("Load should reject a corrupt ledger row")
	}
	if !strings.HasPrefix(err.Error(), "decode ledger state: ") {
		t.Fatalf("unexpected error %q", err)
	}
	if verbose := fmt.Sprintf("%+v", err); !strings.Contains(verbose, "store.(*Store).Load") {
		t.Fatalf("error has no stack trace:\n%s", verbose)
	}
}
