// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ardanlabs/ethcore/business/web/errs"
	"github.com/ardanlabs/ethcore/foundation/blockchain/blockqueue"
	"github.com/ardanlabs/ethcore/foundation/blockchain/state"
	"github.com/ardanlabs/ethcore/foundation/web"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// QueueBlock takes an encoded block received from a peer and hands it to
// the import queue.
func (h Handlers) QueueBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req queueBlock
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	data, err := hexutil.Decode(req.Raw)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("raw: %w", err), http.StatusBadRequest)
	}

	result := h.State.QueueBlock(data, req.Safe)

	resp := queued{
		Result: result.String(),
	}

	var blk types.Block
	if err := rlp.DecodeBytes(data, &blk); err == nil {
		resp.Hash = blk.Hash()
	}

	h.Log.Infow("queue block", "traceid", v.TraceID, "hash", resp.Hash, "result", result)

	switch result {
	case blockqueue.Malformed:
		return errs.NewTrusted(fmt.Errorf("block %s: %s", resp.Hash, result), http.StatusBadRequest)

	case blockqueue.BadChain:
		return errs.NewTrusted(fmt.Errorf("block %s: %s", resp.Hash, result), http.StatusNotAcceptable)
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	head := h.State.CurrentHeader()

	details, err := h.State.Details(head.Hash())
	if err != nil {
		return err
	}

	st := status{
		Author:          h.State.Author(),
		HeadNumber:      head.Number.Uint64(),
		HeadHash:        head.Hash(),
		TotalDifficulty: details.TotalDifficulty.String(),
		Mining:          h.State.IsMiningAllowed(),
		WorkingPhase:    h.State.WorkingPhase().String(),
		Pool:            h.State.PoolStatus(),
		Queue:           h.State.QueueStatus(),
	}

	return web.Respond(ctx, w, st, http.StatusOK)
}

// SetMining turns the sealing of new blocks on or off.
func (h Handlers) SetMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req mining
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	h.State.SetMining(*req.Enabled)

	resp := struct {
		Mining bool `json:"mining"`
	}{
		Mining: h.State.IsMiningAllowed(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
