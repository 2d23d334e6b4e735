// Package share implements the Share Validator & Block Assembler (C5):
// reconstructs the header a miner's submission implies, scores it against
// session and network difficulty, and, when a share also solves the block,
// rebuilds the full segwit coinbase and submits the block to the node.
package share

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wernerpool/stratum/internal/bitcoin"
	"github.com/wernerpool/stratum/internal/coinbase"
	"github.com/wernerpool/stratum/internal/merkle"
	"github.com/wernerpool/stratum/internal/nodeclient"
	"github.com/wernerpool/stratum/internal/stats"
	"github.com/wernerpool/stratum/internal/template"
)

var (
	sharesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stratum_shares_total",
		Help: "Total number of shares submitted, by outcome",
	}, []string{"outcome"})

	shareProcessingTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratum_share_processing_seconds",
		Help:    "Share validation time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
	})

	blocksFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratum_blocks_found_total",
		Help: "Total number of blocks found",
	})

	networkDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stratum_network_difficulty",
		Help: "Current network difficulty derived from the active job's nbits",
	})
)

func init() {
	prometheus.MustRegister(sharesTotal, shareProcessingTime, blocksFound, networkDifficulty)
}

// FailureKind classifies a rejected submission for the wire error code
// §4.4 requires: 20 (internal) or 23 (low difficulty). There is no wire
// code for "duplicate" or "stale" beyond treating both as internal, per
// §6's three-code error map.
type FailureKind int

const (
	// FailureNone means the share was accepted.
	FailureNone FailureKind = iota
	// FailureInternal covers unknown job, malformed fields, and duplicate
	// submissions — anything other than "hashed but too easy".
	FailureInternal
	// FailureLowDifficulty means the share hashed above the session target.
	FailureLowDifficulty
)

// Submission is a parsed mining.submit, plus the session context C5 needs
// but does not own (payout address, pool tag, session difficulty).
type Submission struct {
	JobID             string
	Extranonce1       string // hex, session-assigned
	Extranonce2       string // hex, miner-supplied
	NTime             string // hex, miner-supplied (wire order)
	Nonce             string // hex, miner-supplied
	VersionBits       string // hex, only meaningful if HasVersionBits
	HasVersionBits    bool
	PayoutAddress     string
	WorkerName        string
	PoolTag           []byte
	SessionDifficulty float64
}

// Result reports the outcome of Validate.
type Result struct {
	Failure         FailureKind
	ShareDifficulty *big.Int
	IsBlock         bool
	BlockHash       string // byte-reversed (display-order) hex, populated only when IsBlock
}

// Validator is the Share Validator & Block Assembler.
type Validator struct {
	templates *template.Manager
	node      *nodeclient.Client
	store     *stats.Store
	logger    *zap.Logger
}

// NewValidator constructs a Validator bound to the live Job publisher, node
// RPC client, and Statistics Store.
func NewValidator(templates *template.Manager, node *nodeclient.Client, store *stats.Store, logger *zap.Logger) *Validator {
	return &Validator{
		templates: templates,
		node:      node,
		store:     store,
		logger:    logger.Named("share"),
	}
}

// Validate runs the full §4.5 pipeline for one submission.
func (v *Validator) Validate(ctx context.Context, sub Submission) (*Result, error) {
	start := time.Now()
	defer func() { shareProcessingTime.Observe(time.Since(start).Seconds()) }()

	shareKey := fmt.Sprintf("%s:%s:%s:%s:%s", sub.JobID, sub.Extranonce1, sub.Extranonce2, sub.NTime, sub.Nonce)
	if v.store.CheckDuplicateShare(ctx, shareKey) {
		sharesTotal.WithLabelValues("duplicate").Inc()
		return &Result{Failure: FailureInternal}, nil
	}

	job := v.templates.GetJob(sub.JobID)
	if job == nil {
		sharesTotal.WithLabelValues("stale").Inc()
		return &Result{Failure: FailureInternal}, nil
	}

	header, err := v.buildHeader(sub, job)
	if err != nil {
		v.logger.Debug("malformed submission", zap.Error(err))
		sharesTotal.WithLabelValues("malformed").Inc()
		return &Result{Failure: FailureInternal}, nil
	}

	hash := bitcoin.DoubleSHA256(header)
	shareDiff := bitcoin.ShareDifficulty(hash)

	if compareDifficulty(shareDiff, sub.SessionDifficulty) < 0 {
		sharesTotal.WithLabelValues("low_difficulty").Inc()
		return &Result{Failure: FailureLowDifficulty, ShareDifficulty: shareDiff}, nil
	}

	sharesTotal.WithLabelValues("accepted").Inc()
	result := &Result{Failure: FailureNone, ShareDifficulty: shareDiff}
	networkDifficulty.Set(bitcoin.TargetToDifficulty(job.NetworkTarget))

	if bitcoin.HashMeetsTarget(hash, job.NetworkTarget) {
		result.IsBlock = true
		result.BlockHash = hex.EncodeToString(bitcoin.ReverseBytes(hash))
		blocksFound.Inc()

		v.logger.Info("block found",
			zap.String("hash", result.BlockHash),
			zap.Int64("height", job.Height),
		)

		go v.submitBlock(context.Background(), sub, job, header)
	}

	return result, nil
}

// buildHeader reconstructs the 80-byte header a miner's submission implies:
// rebuild the non-witness coinbase, fold it through the Merkle branch, and
// concatenate the header fields exactly as §4.5 step 4 specifies.
func (v *Validator) buildHeader(sub Submission, job *template.Job) ([]byte, error) {
	extranonce1, err := hex.DecodeString(sub.Extranonce1)
	if err != nil {
		return nil, fmt.Errorf("decode extranonce1: %w", err)
	}
	extranonce2, err := hex.DecodeString(sub.Extranonce2)
	if err != nil {
		return nil, fmt.Errorf("decode extranonce2: %w", err)
	}
	ntimeBytes, err := hex.DecodeString(sub.NTime)
	if err != nil || len(ntimeBytes) != 4 {
		return nil, fmt.Errorf("decode ntime: %w", err)
	}
	nonceBytes, err := hex.DecodeString(sub.Nonce)
	if err != nil || len(nonceBytes) != 4 {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}

	params := coinbase.Params{
		Height:            job.Height,
		Value:             job.Template.CoinbaseValue,
		PayoutAddress:     sub.PayoutAddress,
		PoolTag:           sub.PoolTag,
		Extranonce1Size:   len(extranonce1),
		Extranonce2Size:   len(extranonce2),
		WitnessCommitment: job.WitnessCommitment,
	}

	halves := coinbase.BuildHalves(params)
	nonWitness := make([]byte, 0, len(halves.Coinbase1)+len(extranonce1)+len(extranonce2)+len(halves.Coinbase2))
	nonWitness = append(nonWitness, halves.Coinbase1...)
	nonWitness = append(nonWitness, extranonce1...)
	nonWitness = append(nonWitness, extranonce2...)
	nonWitness = append(nonWitness, halves.Coinbase2...)

	coinbaseTxID := bitcoin.DoubleSHA256(nonWitness)
	merkleRoot := merkle.FoldRoot(coinbaseTxID, job.MerkleBranch)

	versionBytes, err := hex.DecodeString(job.VersionHex)
	if err != nil || len(versionBytes) != 4 {
		return nil, fmt.Errorf("decode job version: %w", err)
	}
	if sub.HasVersionBits {
		versionBytes, err = xorVersionRolling(versionBytes, sub.VersionBits)
		if err != nil {
			return nil, err
		}
	}

	prevHashWire, err := hex.DecodeString(job.PrevHashWire)
	if err != nil || len(prevHashWire) != 32 {
		return nil, fmt.Errorf("decode prev_hash_wire: %w", err)
	}
	nbitsBytes, err := hex.DecodeString(job.NBitsHex)
	if err != nil || len(nbitsBytes) != 4 {
		return nil, fmt.Errorf("decode nbits: %w", err)
	}

	header := make([]byte, 0, 80)
	header = append(header, versionBytes...)
	header = append(header, prevHashWire...)
	header = append(header, merkleRoot...)
	header = append(header, ntimeBytes...)
	header = append(header, nbitsBytes...)
	header = append(header, nonceBytes...)
	return header, nil
}

// xorVersionRolling applies the miner-supplied version bits under the
// negotiated ASICBoost mask (§4.4, §8 scenario 6).
func xorVersionRolling(version []byte, versionBitsHex string) ([]byte, error) {
	bits, err := hex.DecodeString(versionBitsHex)
	if err != nil || len(bits) != 4 {
		return nil, fmt.Errorf("decode version_bits: %w", err)
	}
	mask, _ := hex.DecodeString(versionRollingMaskHex)

	result := make([]byte, 4)
	for i := range result {
		result[i] = version[i] ^ (bits[i] & mask[i])
	}
	return result, nil
}

const versionRollingMaskHex = "1fffe000"

// compareDifficulty returns -1/0/1 comparing an exact big-integer share
// difficulty against a float64 session difficulty.
func compareDifficulty(shareDifficulty *big.Int, sessionDifficulty float64) int {
	return new(big.Float).SetInt(shareDifficulty).Cmp(big.NewFloat(sessionDifficulty))
}

// submitBlock rebuilds the full segwit coinbase and submits the assembled
// block to the node (§4.5 "Block assembly"). Run off the accepting
// session's goroutine so a slow RPC never blocks other sessions (§5
// contract 3).
func (v *Validator) submitBlock(ctx context.Context, sub Submission, job *template.Job, header []byte) {
	extranonce1, _ := hex.DecodeString(sub.Extranonce1)
	extranonce2, _ := hex.DecodeString(sub.Extranonce2)

	params := coinbase.Params{
		Height:            job.Height,
		Value:             job.Template.CoinbaseValue,
		PayoutAddress:     sub.PayoutAddress,
		PoolTag:           sub.PoolTag,
		Extranonce1Size:   len(extranonce1),
		Extranonce2Size:   len(extranonce2),
		WitnessCommitment: job.WitnessCommitment,
	}
	fullCoinbase := coinbase.BuildFull(params, extranonce1, extranonce2)

	txCount := uint64(1 + len(job.Template.Transactions))
	block := make([]byte, 0, len(header)+9+len(fullCoinbase)+len(job.Template.Transactions)*256)
	block = append(block, header...)
	block = append(block, coinbase.VarInt(txCount)...)
	block = append(block, fullCoinbase...)
	for _, tx := range job.Template.Transactions {
		block = append(block, tx.Data...)
	}

	blockHex := hex.EncodeToString(block)
	reason, err := v.node.SubmitBlock(ctx, blockHex)
	switch {
	case err != nil:
		v.logger.Error("submitblock RPC failed", zap.Error(err))
	case reason != "":
		v.logger.Error("block rejected by node", zap.String("reason", reason))
	default:
		v.logger.Info("block accepted by node", zap.Int64("height", job.Height))
	}

	v.store.RecordBlockFound(ctx, sub.PayoutAddress, sub.WorkerName, job.Height)
}
