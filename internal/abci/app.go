// Package abci contains the ABCI application that hosts the coffee ledger on
// the Tendermint consensus engine. It decodes and verifies signed
// transactions, gives every call its caller and attached value, moves value
// through the bank escrow, and persists the result on Commit. Each call runs
// against scratch copies of the ledger and the bank so a failed call leaves
// no trace.
package abci

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	abci "github.com/tendermint/tendermint/abci/types"
	"go.uber.org/zap"

	"coffee.mini/bmc/internal/bank"
	"coffee.mini/bmc/internal/ledger"
	"coffee.mini/bmc/internal/logger"
	"coffee.mini/bmc/internal/store"
	"coffee.mini/bmc/internal/types"
)

const (
	CodeTypeOK                 uint32 = 0
	CodeTypeEncodingError      uint32 = 1
	CodeTypeAuthError          uint32 = 2
	CodeTypeInvalidTx          uint32 = 3
	CodeTypeInvalidInput       uint32 = 4
	CodeTypeInsufficientValue  uint32 = 5
	CodeTypeUnauthorized       uint32 = 6
	CodeTypeNothingToWithdraw  uint32 = 7
	CodeTypeOverflow           uint32 = 8
	CodeTypeNotInitialized     uint32 = 9
	CodeTypeAlreadyInitialized uint32 = 10
	CodeTypeInsufficientFunds  uint32 = 11
	CodeTypeTransferFailed     uint32 = 12
)

// EscrowAddress holds the value paid into the ledger until the owner
// withdraws it.
var EscrowAddress = common.BytesToAddress(crypto.Keccak256([]byte("coffee.mini/bmc/escrow"))[12:])

// Options configures a new Application.
type Options struct {
	// Store persists committed state. Nil keeps state in memory only.
	Store *store.Store
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Feed receives one line per accepted call.
	Feed *logger.Feed
	// Genesis seeds bank balances (address to decimal amount) on InitChain
	// when the chain genesis carries no app state.
	Genesis map[string]string
}

// Application implements the ABCI interface for the coffee ledger.
type Application struct {
	abci.BaseApplication

	mu      sync.Mutex
	state   *ledger.State
	bank    *bank.Bank
	height  int64
	appHash []byte

	// CheckTx runs against its own copy, reset on every Commit, so that
	// several pending payments from one account are validated cumulatively.
	checkState *ledger.State
	checkBank  *bank.Bank

	store   *store.Store
	log     *zap.Logger
	feed    *logger.Feed
	genesis map[string]string
}

// NewApplication creates the application and restores the last committed
// state from the store when one is configured.
func NewApplication(opts Options) (*Application, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app := &Application{
		state:   ledger.NewState(),
		bank:    bank.New(),
		store:   opts.Store,
		log:     log.Named("abci"),
		feed:    opts.Feed,
		genesis: opts.Genesis,
	}

	if app.store != nil {
		state, b, meta, err := app.store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "load ledger state")
		}
		app.state, app.bank = state, b
		app.height, app.appHash = meta.Height, meta.AppHash
	}
	app.resetCheckState()

	app.log.Info("ledger loaded",
		zap.Int64("height", app.height),
		zap.Bool("initialized", app.state.Initialized()),
		zap.String("owner", app.state.Owner().Hex()))
	return app, nil
}

// State returns a copy of the committed-so-far ledger state.
func (app *Application) State() *ledger.State {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.state.Clone()
}

// AccountBalance returns the bank balance of addr.
func (app *Application) AccountBalance(addr common.Address) *uint256.Int {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.bank.Balance(addr)
}

// Height returns the last committed block height.
func (app *Application) Height() int64 {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.height
}

func (app *Application) Info(req abci.RequestInfo) abci.ResponseInfo {
	app.mu.Lock()
	defer app.mu.Unlock()
	return abci.ResponseInfo{
		Data:             "bmc",
		Version:          types.Version,
		AppVersion:       1,
		LastBlockHeight:  app.height,
		LastBlockAppHash: app.appHash,
	}
}

// genesisState is the app_state section of the chain genesis file.
type genesisState struct {
	Accounts map[string]string `json:"accounts"`
}

func (app *Application) InitChain(req abci.RequestInitChain) abci.ResponseInitChain {
	app.mu.Lock()
	defer app.mu.Unlock()

	accounts := app.genesis
	if len(req.AppStateBytes) > 0 {
		var gen genesisState
		if err := json.Unmarshal(req.AppStateBytes, &gen); err != nil {
			// Tendermint treats a panic in InitChain as a fatal genesis error.
			panic(fmt.Sprintf("invalid app_state in genesis: %v", err))
		}
		accounts = gen.Accounts
	}

	if err := creditGenesis(app.bank, accounts); err != nil {
		panic(fmt.Sprintf("genesis accounts: %v", err))
	}
	app.resetCheckState()
	app.log.Info("chain initialized", zap.String("chain_id", req.ChainId), zap.Int("accounts", len(accounts)))
	return abci.ResponseInitChain{}
}

func creditGenesis(b *bank.Bank, accounts map[string]string) error {
	for addr, amount := range accounts {
		if !common.IsHexAddress(addr) {
			return errors.Errorf("invalid address %q", addr)
		}
		v, err := ledger.ParseAmount(amount)
		if err != nil {
			return errors.Wrapf(err, "balance of %s", addr)
		}
		if err := b.Credit(common.HexToAddress(addr), v); err != nil {
			return errors.Wrapf(err, "credit %s", addr)
		}
	}
	return nil
}

func (app *Application) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	app.mu.Lock()
	defer app.mu.Unlock()

	stx, tx, res := decodeTx(req.Tx)
	if res.Code != CodeTypeOK {
		return abci.ResponseCheckTx{Code: res.Code, Log: res.Log}
	}

	state, b, res := execute(app.checkState, app.checkBank, stx.Signer(), tx)
	if res.Code != CodeTypeOK {
		return abci.ResponseCheckTx{Code: res.Code, Log: res.Log}
	}
	app.checkState, app.checkBank = state, b
	return abci.ResponseCheckTx{Code: CodeTypeOK}
}

func (app *Application) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	app.mu.Lock()
	defer app.mu.Unlock()

	stx, tx, res := decodeTx(req.Tx)
	if res.Code != CodeTypeOK {
		return abci.ResponseDeliverTx{Code: res.Code, Log: res.Log}
	}

	signer := stx.Signer()
	log := app.log.With(zap.String("tx", tx.ID), zap.String("type", string(tx.Type)), zap.String("caller", signer.Hex()))

	state, b, res := execute(app.state, app.bank, signer, tx)
	if res.Code != CodeTypeOK {
		log.Info("call rejected", zap.Uint32("code", res.Code), zap.String("reason", res.Log))
		return abci.ResponseDeliverTx{Code: res.Code, Log: res.Log}
	}
	app.state, app.bank = state, b

	log.Info("call applied", zap.String("value", tx.Value))
	app.feed.Info(res.summary)
	return abci.ResponseDeliverTx{Code: CodeTypeOK, Events: res.events}
}

func (app *Application) Commit() abci.ResponseCommit {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.height++
	app.appHash = stateHash(app.state, app.bank, app.height)

	if app.store != nil {
		meta := store.Meta{Height: app.height, AppHash: app.appHash}
		if err := app.store.Save(app.state, app.bank, meta); err != nil {
			// The previous height stays on disk, so Tendermint replays this
			// block after a restart.
			app.log.Error("persist state", zap.Int64("height", app.height), zap.Error(err))
			app.feed.Error(fmt.Sprintf("failed to persist block %d: %v", app.height, err))
		}
	}

	app.resetCheckState()
	return abci.ResponseCommit{Data: app.appHash}
}

func (app *Application) Query(req abci.RequestQuery) abci.ResponseQuery {
	app.mu.Lock()
	defer app.mu.Unlock()

	resp := abci.ResponseQuery{Code: CodeTypeOK, Height: app.height, Key: req.Data}

	switch {
	case req.Path == types.QueryOwner:
		if !app.state.Initialized() {
			resp.Code, resp.Log = CodeTypeNotInitialized, "ledger not initialized"
			return resp
		}
		resp.Value = []byte(app.state.Owner().Hex())
	case req.Path == types.QueryTotalPaymentCount:
		resp.Value = []byte(ledger.FormatAmount(app.state.TotalPaymentCount()))
	case req.Path == types.QueryTotalValueReceived:
		resp.Value = []byte(ledger.FormatAmount(app.state.TotalValueReceived()))
	case req.Path == types.QueryBalance:
		resp.Value = []byte(ledger.FormatAmount(app.state.Balance()))
	case req.Path == types.QueryState:
		resp.Value, _ = json.Marshal(app.state.Snapshot())
	case strings.HasPrefix(req.Path, types.QueryAccountPrefix):
		addr := strings.TrimPrefix(req.Path, types.QueryAccountPrefix)
		if !common.IsHexAddress(addr) {
			resp.Code, resp.Log = CodeTypeEncodingError, fmt.Sprintf("invalid address %q", addr)
			return resp
		}
		a := common.HexToAddress(addr)
		resp.Value, _ = json.Marshal(types.AccountInfo{
			Address: a.Hex(),
			Balance: ledger.FormatAmount(app.bank.Balance(a)),
		})
	default:
		resp.Code, resp.Log = CodeTypeInvalidTx, fmt.Sprintf("unknown query path %q", req.Path)
	}
	return resp
}

func (app *Application) resetCheckState() {
	app.checkState = app.state.Clone()
	app.checkBank = app.bank.Clone()
}

// result is the outcome of decoding or executing one transaction.
type result struct {
	Code    uint32
	Log     string
	events  []abci.Event
	summary string
}

func fail(code uint32, format string, args ...interface{}) result {
	return result{Code: code, Log: fmt.Sprintf(format, args...)}
}

func decodeTx(raw []byte) (*types.SignedTransaction, *types.Transaction, result) {
	stx, err := types.DecodeSignedTransaction(raw)
	if err != nil {
		return nil, nil, fail(CodeTypeEncodingError, "failed to decode signed tx")
	}
	if !stx.Verify() {
		return nil, nil, fail(CodeTypeAuthError, "invalid signature")
	}
	tx, err := stx.GetTransaction()
	if err != nil {
		return nil, nil, fail(CodeTypeEncodingError, "failed to decode inner tx")
	}
	if !tx.Type.Valid() {
		return nil, nil, fail(CodeTypeInvalidTx, "unknown transaction type %q", tx.Type)
	}
	return stx, tx, result{Code: CodeTypeOK}
}

// execute runs tx for caller against copies of state and b. On success it
// returns the updated copies; on failure the originals are untouched.
func execute(state *ledger.State, b *bank.Bank, caller common.Address, tx *types.Transaction) (*ledger.State, *bank.Bank, result) {
	value, err := tx.AttachedValue()
	if err != nil {
		return nil, nil, fail(CodeTypeEncodingError, "invalid value: %v", err)
	}
	if tx.Type != types.TxRecordPayment && !value.IsZero() {
		return nil, nil, fail(CodeTypeInvalidTx, "%s does not accept value", tx.Type)
	}

	if tx.Type == types.TxInitialize {
		if state.Initialized() {
			return nil, nil, fail(CodeTypeAlreadyInitialized, "ledger already initialized")
		}
	} else if !state.Initialized() {
		return nil, nil, fail(CodeTypeNotInitialized, "ledger not initialized")
	}

	next := state.Clone()
	nextBank := b.Clone()
	h := &callHost{bank: nextBank, caller: caller, value: value}

	res := result{Code: CodeTypeOK}
	switch tx.Type {
	case types.TxInitialize:
		next.Initialize(h)
		res.events = []abci.Event{coffeeEvent("initialize", caller)}
		res.summary = fmt.Sprintf("ledger initialized, owner %s", caller.Hex())

	case types.TxRecordPayment:
		payload, err := tx.RecordPaymentPayload()
		if err != nil {
			return nil, nil, fail(CodeTypeEncodingError, "failed to decode record_payment payload")
		}
		// The ledger validates before any value moves, so a bad message
		// reports InvalidInput even when the caller cannot pay.
		if err := next.RecordPayment(h, payload.Message); err != nil {
			return nil, nil, ledgerFailure(err)
		}
		if err := nextBank.Transfer(caller, EscrowAddress, value); err != nil {
			if errors.Is(err, bank.ErrInsufficientFunds) {
				return nil, nil, fail(CodeTypeInsufficientFunds, "%v", err)
			}
			return nil, nil, fail(CodeTypeTransferFailed, "%v", err)
		}
		ev := coffeeEvent("record_payment", caller)
		ev.Attributes = append(ev.Attributes,
			abci.EventAttribute{Key: []byte("value"), Value: []byte(ledger.FormatAmount(value)), Index: true},
			abci.EventAttribute{Key: []byte("message"), Value: []byte(payload.Message)},
		)
		res.events = []abci.Event{ev}
		res.summary = fmt.Sprintf("coffee from %s: %s (%s)", caller.Hex(), payload.Message, ledger.FormatNative(value))

	case types.TxWithdraw:
		amount := next.Balance()
		if err := next.Withdraw(h); err != nil {
			return nil, nil, ledgerFailure(err)
		}
		ev := coffeeEvent("withdraw", caller)
		ev.Attributes = append(ev.Attributes,
			abci.EventAttribute{Key: []byte("value"), Value: []byte(ledger.FormatAmount(amount)), Index: true})
		res.events = []abci.Event{ev}
		res.summary = fmt.Sprintf("owner withdrew %s", ledger.FormatNative(amount))
	}

	return next, nextBank, res
}

func coffeeEvent(action string, caller common.Address) abci.Event {
	return abci.Event{
		Type: "coffee",
		Attributes: []abci.EventAttribute{
			{Key: []byte("action"), Value: []byte(action), Index: true},
			{Key: []byte("caller"), Value: []byte(caller.Hex()), Index: true},
		},
	}
}

// ledgerFailure maps a ledger error to its response code. Errors without a
// kind come from the value transfer.
func ledgerFailure(err error) result {
	switch ledger.KindOf(err) {
	case ledger.InvalidInput:
		return fail(CodeTypeInvalidInput, "%v", err)
	case ledger.InsufficientValue:
		return fail(CodeTypeInsufficientValue, "%v", err)
	case ledger.Unauthorized:
		return fail(CodeTypeUnauthorized, "%v", err)
	case ledger.NothingToWithdraw:
		return fail(CodeTypeNothingToWithdraw, "%v", err)
	case ledger.Overflow:
		return fail(CodeTypeOverflow, "%v", err)
	}
	return fail(CodeTypeTransferFailed, "transfer failed: %v", err)
}

// callHost is the environment of a single ledger call. Transfers pay out of
// the escrow account.
type callHost struct {
	bank   *bank.Bank
	caller common.Address
	value  *uint256.Int
}

func (h *callHost) Caller() common.Address { return h.caller }
func (h *callHost) Value() *uint256.Int    { return h.value }

func (h *callHost) Transfer(to common.Address, amount *uint256.Int) error {
	return h.bank.Transfer(EscrowAddress, to, amount)
}

// stateHash commits to the ledger record, every bank balance and the height.
func stateHash(state *ledger.State, b *bank.Bank, height int64) []byte {
	snap := state.Snapshot()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%s|%s|%s|%s", height, snap.Owner, snap.TotalPaymentCount, snap.TotalValueReceived, snap.Balance)
	for _, acct := range b.Accounts() {
		fmt.Fprintf(&sb, "|%s=%s", acct.Address.Hex(), ledger.FormatAmount(acct.Balance))
	}
	return crypto.Keccak256([]byte(sb.String()))
}
