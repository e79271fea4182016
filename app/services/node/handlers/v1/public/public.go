// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/ethcore/business/web/errs"
	"github.com/ardanlabs/ethcore/foundation/blockchain/state"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage"
	"github.com/ardanlabs/ethcore/foundation/events"
	"github.com/ardanlabs/ethcore/foundation/nameservice"
	"github.com/ardanlabs/ethcore/foundation/web"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// pingInterval is how often an idle event stream is checked.
const pingInterval = time.Second

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	return h.Evts.Stream(c, v.TraceID, pingInterval)
}

// SubmitTransaction adds a signed transaction to the pool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	tran, err := decodeTx(r)
	if err != nil {
		return err
	}

	h.Log.Infow("submit tx", "traceid", v.TraceID, "hash", tran.Hash(), "nonce", tran.Nonce(), "to", tran.To(), "value", tran.Value())
	if err := h.State.SubmitTransaction(tran); err != nil {
		return errs.Rejected(err)
	}

	resp := submitted{
		Hash:   tran.Hash(),
		Status: "transaction added to the pool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Call executes a signed transaction against the pending state without
// keeping any of its effects.
func (h Handlers) Call(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tran, err := decodeTx(r)
	if err != nil {
		return err
	}

	receipt, err := h.State.Call(tran)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, receipt, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Genesis(), http.StatusOK)
}

// Account returns the balance and nonce of an account. The view query
// parameter selects the head of the chain or the pending block.
func (h Handlers) Account(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := toAddress(web.Param(r, "account"))
	if err != nil {
		return err
	}

	name := r.URL.Query().Get("view")
	view, err := state.ParseView(name)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	if name == "" {
		name = "latest"
	}

	act := account{
		Account: addr,
		Name:    h.NS.Lookup(addr),
		View:    name,
		Balance: h.State.Balance(addr, view).Dec(),
		Nonce:   h.State.Nonce(addr, view),
	}

	return web.Respond(ctx, w, act, http.StatusOK)
}

// Pending returns the block being built from the pool.
func (h Handlers) Pending(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	header := h.State.PendingHeader()
	signer := h.State.Genesis().Signer()

	trans := h.State.PendingTransactions()
	txs := make([]tx, len(trans))
	for i, tran := range trans {
		txs[i] = toTx(signer, h.NS, tran)
	}

	p := pending{
		Number:       header.Number.Uint64(),
		ParentHash:   header.ParentHash.Hex(),
		GasUsed:      header.GasUsed,
		GasLimit:     header.GasLimit,
		Transactions: txs,
	}

	return web.Respond(ctx, w, p, http.StatusOK)
}

// Pool returns the set of transactions waiting in the pool. The account
// query parameter limits the set to one sender or recipient.
func (h Handlers) Pool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var filter *common.Address
	if acct := r.URL.Query().Get("account"); acct != "" {
		addr, err := toAddress(acct)
		if err != nil {
			return err
		}
		filter = &addr
	}

	signer := h.State.Genesis().Signer()

	var txs []tx
	for _, tran := range h.State.PoolTransactions() {
		t := toTx(signer, h.NS, tran)

		if filter != nil && t.From != *filter && (t.To == nil || *t.To != *filter) {
			continue
		}

		txs = append(txs, t)
	}

	return web.Respond(ctx, w, txs, http.StatusOK)
}

// BlockByNumber returns the canonical block at the number, or the head
// when the number is latest.
func (h Handlers) BlockByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	str := web.Param(r, "number")

	var number uint64
	switch str {
	case "latest", "":
		number = h.State.CurrentHeader().Number.Uint64()

	default:
		n, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		number = n
	}

	blk, err := h.State.BlockByNumber(number)
	if err != nil {
		return notFound(err)
	}

	return h.respondBlock(ctx, w, blk)
}

// BlockByHash returns any known block, canonical or not.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := hexutil.Decode(web.Param(r, "hash"))
	if err != nil || len(hash) != common.HashLength {
		return errs.NewTrusted(errors.New("invalid block hash"), http.StatusBadRequest)
	}

	blk, err := h.State.BlockByHash(common.BytesToHash(hash))
	if err != nil {
		return notFound(err)
	}

	return h.respondBlock(ctx, w, blk)
}

// =============================================================================

func (h Handlers) respondBlock(ctx context.Context, w http.ResponseWriter, blk *types.Block) error {
	details, err := h.State.Details(blk.Hash())
	if err != nil {
		return err
	}

	signer := h.State.Genesis().Signer()

	txs := make([]tx, len(blk.Transactions()))
	for i, tran := range blk.Transactions() {
		txs[i] = toTx(signer, h.NS, tran)
	}

	uncles := make([]common.Hash, len(blk.Uncles()))
	for i, uncle := range blk.Uncles() {
		uncles[i] = uncle.Hash()
	}

	b := block{
		Header:          blk.Header(),
		Hash:            blk.Hash(),
		TotalDifficulty: details.TotalDifficulty.String(),
		Uncles:          uncles,
		Transactions:    txs,
	}

	return web.Respond(ctx, w, b, http.StatusOK)
}

func decodeTx(r *http.Request) (*types.Transaction, error) {
	var req submitTx
	if err := web.Decode(r, &req); err != nil {
		return nil, errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	raw, err := hexutil.Decode(req.Raw)
	if err != nil {
		return nil, errs.NewTrusted(fmt.Errorf("raw: %w", err), http.StatusBadRequest)
	}

	tran := new(types.Transaction)
	if err := tran.UnmarshalBinary(raw); err != nil {
		return nil, errs.NewTrusted(fmt.Errorf("raw: %w", err), http.StatusBadRequest)
	}

	return tran, nil
}

func toAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errs.NewTrusted(fmt.Errorf("invalid account %q", s), http.StatusBadRequest)
	}
	return common.HexToAddress(s), nil
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NewTrusted(err, http.StatusNotFound)
	}
	return err
}
