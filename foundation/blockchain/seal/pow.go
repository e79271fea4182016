package seal

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
)

// two256 is 2^256, the numerator for the seal target.
var two256 = new(big.Int).Exp(big.NewInt(2), big.NewInt(256), big.NewInt(0))

// Config represents the configuration for the proof of work engine.
type Config struct {
	BlockReward   *uint256.Int
	MinDifficulty *big.Int
	TargetGas     uint64
	NoProof       bool
	Signer        types.Signer
	EvHandler     EventHandler
}

// PoW implements the Engine interface with a keccak proof of work and
// frontier difficulty and gas limit rules.
type PoW struct {
	reward    *uint256.Int
	minDiff   *big.Int
	targetGas uint64
	noProof   bool
	signer    types.Signer
	evHandler EventHandler
}

// NewPoW constructs a proof of work engine.
func NewPoW(cfg Config) *PoW {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	reward := new(uint256.Int)
	if cfg.BlockReward != nil {
		reward.Set(cfg.BlockReward)
	}

	minDiff := params.MinimumDifficulty
	if cfg.MinDifficulty != nil && cfg.MinDifficulty.Sign() > 0 {
		minDiff = cfg.MinDifficulty
	}

	signer := cfg.Signer
	if signer == nil {
		signer = types.HomesteadSigner{}
	}

	return &PoW{
		reward:    reward,
		minDiff:   new(big.Int).Set(minDiff),
		targetGas: cfg.TargetGas,
		noProof:   cfg.NoProof,
		signer:    signer,
		evHandler: ev,
	}
}

// Name returns the engine name.
func (p *PoW) Name() string {
	return "pow"
}

// BlockReward returns the reward for sealing the block at number.
func (p *PoW) BlockReward(number uint64) *uint256.Int {
	return new(uint256.Int).Set(p.reward)
}

// PopulateFromParent fills the fields of header that derive from parent.
func (p *PoW) PopulateFromParent(header *types.Header, parent *types.Header) {
	header.ParentHash = parent.Hash()
	header.Number = new(big.Int).Add(parent.Number, common.Big1)
	header.GasLimit = p.childGasLimit(parent.GasLimit)
	header.Difficulty = p.CalcDifficulty(header.Time, parent)
}

// CalcDifficulty returns the difficulty a child of parent created at time
// must have.
func (p *PoW) CalcDifficulty(time uint64, parent *types.Header) *big.Int {
	diff := new(big.Int)
	adjust := new(big.Int).Div(parent.Difficulty, params.DifficultyBoundDivisor)

	if time-parent.Time < params.DurationLimit.Uint64() {
		diff.Add(parent.Difficulty, adjust)
	} else {
		diff.Sub(parent.Difficulty, adjust)
	}

	if diff.Cmp(p.minDiff) < 0 {
		diff.Set(p.minDiff)
	}

	return diff
}

// childGasLimit moves the gas limit towards the target by the largest step
// the bound divisor allows.
func (p *PoW) childGasLimit(parent uint64) uint64 {
	if p.targetGas == 0 || p.targetGas == parent {
		return parent
	}

	step := parent/params.GasLimitBoundDivisor - 1
	switch {
	case p.targetGas > parent:
		return min(parent+step, p.targetGas)
	default:
		return max(parent-step, p.targetGas, params.MinGasLimit)
	}
}

// =============================================================================

// Verify checks the header against the consensus rules. Parent dependent
// rules are skipped when parent is nil and body rules are skipped when
// block is nil.
func (p *PoW) Verify(s Strictness, header *types.Header, parent *types.Header, block []byte) error {
	if uint64(len(header.Extra)) > params.MaximumExtraDataSize {
		return fmt.Errorf("%w: %d > %d", ErrExtraDataTooLong, len(header.Extra), params.MaximumExtraDataSize)
	}

	if header.GasUsed > header.GasLimit {
		return fmt.Errorf("%w: used %d, limit %d", ErrInvalidGasUsed, header.GasUsed, header.GasLimit)
	}

	if header.GasLimit < params.MinGasLimit {
		return fmt.Errorf("%w: %d below minimum %d", ErrInvalidGasLimit, header.GasLimit, params.MinGasLimit)
	}

	if header.Difficulty == nil || header.Difficulty.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive", ErrInvalidDifficulty)
	}

	if s == CheckEverything && !p.noProof {
		if err := p.verifySeal(header); err != nil {
			return err
		}
	}

	if parent != nil {
		if err := p.verifyParent(header, parent); err != nil {
			return err
		}
	}

	if block != nil {
		if err := verifyBody(header, block); err != nil {
			return err
		}
	}

	return nil
}

// verifyParent checks the rules that relate a header to its parent.
func (p *PoW) verifyParent(header *types.Header, parent *types.Header) error {
	if header.ParentHash != parent.Hash() {
		return fmt.Errorf("%w: got %s, exp %s", ErrInvalidParentHash, header.ParentHash, parent.Hash())
	}

	if exp := new(big.Int).Add(parent.Number, common.Big1); header.Number == nil || header.Number.Cmp(exp) != 0 {
		return fmt.Errorf("%w: got %v, exp %v", ErrInvalidNumber, header.Number, exp)
	}

	if header.Time <= parent.Time {
		return fmt.Errorf("%w: block %d, parent %d", ErrInvalidTimestamp, header.Time, parent.Time)
	}

	if exp := p.CalcDifficulty(header.Time, parent); header.Difficulty.Cmp(exp) != 0 {
		return fmt.Errorf("%w: got %v, exp %v", ErrInvalidDifficulty, header.Difficulty, exp)
	}

	diff := max(header.GasLimit, parent.GasLimit) - min(header.GasLimit, parent.GasLimit)
	if limit := parent.GasLimit / params.GasLimitBoundDivisor; diff >= limit {
		return fmt.Errorf("%w: got %d, parent %d, bound %d", ErrInvalidGasLimit, header.GasLimit, parent.GasLimit, limit)
	}

	return nil
}

// verifyBody checks the header commits to the transactions and uncles in
// the encoded block.
func verifyBody(header *types.Header, data []byte) error {
	var block types.Block
	if err := rlp.DecodeBytes(data, &block); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedBlock, err)
	}

	if root := types.DeriveSha(block.Transactions(), trie.NewStackTrie(nil)); root != header.TxHash {
		return fmt.Errorf("%w: got %s, exp %s", ErrInvalidTransactionsRoot, root, header.TxHash)
	}

	if hash := types.CalcUncleHash(block.Uncles()); hash != header.UncleHash {
		return fmt.Errorf("%w: got %s, exp %s", ErrInvalidUnclesHash, hash, header.UncleHash)
	}

	return nil
}

// VerifyTransaction applies the requested signature checks.
func (p *PoW) VerifyTransaction(req Requirements, tx *types.Transaction, header *types.Header) error {
	if req&RequireLowS != 0 {
		_, r, s := tx.RawSignatureValues()
		if !crypto.ValidateSignatureValues(0, r, s, true) {
			return fmt.Errorf("%w: signature values out of range", ErrInvalidSignature)
		}
	}

	if req&RequireSignature != 0 {
		if _, err := types.Sender(p.signer, tx); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
	}

	return nil
}

// =============================================================================

// Seal searches for a nonce that solves the proof of work for the header.
// The search stops when the context is cancelled.
func (p *PoW) Seal(ctx context.Context, header *types.Header) (*types.Header, error) {
	h := types.CopyHeader(header)

	if p.noProof {
		h.Nonce = types.BlockNonce{}
		h.MixDigest = common.Hash{}
		return h, nil
	}

	p.evHandler("seal: Seal: MINING: started: blk[%d]", h.Number)
	defer p.evHandler("seal: Seal: MINING: completed: blk[%d]", h.Number)

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found by us or the
	// context is cancelled.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return nil, err
	}
	nonce := nBig.Uint64()

	sealHash := SealHash(h)
	target := new(big.Int).Div(two256, h.Difficulty)

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			p.evHandler("seal: Seal: MINING: attempts[%d]", attempts)
		}

		if ctx.Err() != nil {
			p.evHandler("seal: Seal: MINING: CANCELLED")
			return nil, ctx.Err()
		}

		digest := powHash(sealHash, nonce)
		if new(big.Int).SetBytes(digest[:]).Cmp(target) > 0 {
			nonce++
			continue
		}

		h.Nonce = types.EncodeNonce(nonce)
		h.MixDigest = digest

		p.evHandler("seal: Seal: MINING: SOLVED: blk[%d]: attempts[%d]", h.Number, attempts)

		return h, nil
	}
}

// verifySeal checks the nonce solves the proof of work for the header.
func (p *PoW) verifySeal(header *types.Header) error {
	digest := powHash(SealHash(header), header.Nonce.Uint64())
	if digest != header.MixDigest {
		return fmt.Errorf("%w: mix digest mismatch", ErrInvalidSeal)
	}

	target := new(big.Int).Div(two256, header.Difficulty)
	if new(big.Int).SetBytes(digest[:]).Cmp(target) > 0 {
		return fmt.Errorf("%w: digest above target", ErrInvalidSeal)
	}

	return nil
}

// SealHash returns the hash of a header prior to it being sealed.
func SealHash(header *types.Header) common.Hash {
	enc := []any{
		header.ParentHash,
		header.UncleHash,
		header.Coinbase,
		header.Root,
		header.TxHash,
		header.ReceiptHash,
		header.Bloom,
		header.Difficulty,
		header.Number,
		header.GasLimit,
		header.GasUsed,
		header.Time,
		header.Extra,
	}

	data, _ := rlp.EncodeToBytes(enc)
	return crypto.Keccak256Hash(data)
}

// powHash returns keccak256(sealHash || nonce).
func powHash(sealHash common.Hash, nonce uint64) common.Hash {
	var buf [common.HashLength + 8]byte
	copy(buf[:], sealHash[:])
	binary.BigEndian.PutUint64(buf[common.HashLength:], nonce)
	return crypto.Keccak256Hash(buf[:])
}
