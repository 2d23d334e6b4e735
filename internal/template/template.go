// Package template fetches block templates from the node, derives the
// wire-ready Job fields (§3), and publishes the current Job to subscribers
// — the Template Manager (C1) and its data model.
package template

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wernerpool/stratum/internal/bitcoin"
	"github.com/wernerpool/stratum/internal/merkle"
	"github.com/wernerpool/stratum/internal/nodeclient"
)

var (
	jobsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratum_jobs_generated_total",
		Help: "Total number of jobs generated",
	})
	currentBlockHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stratum_current_block_height",
		Help: "Current block height",
	})
	templateFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratum_template_fetch_errors_total",
		Help: "Total number of failed getblocktemplate calls",
	})
)

func init() {
	prometheus.MustRegister(jobsGenerated, currentBlockHeight, templateFetchErrors)
}

// Tx is one transaction in a Template, carrying both hash forms §3 requires.
type Tx struct {
	Data []byte // raw serialized transaction, as given by the node
	TxID []byte // non-witness hash, internal byte order
	WTxID []byte // witness hash, internal byte order
}

// Template is an immutable snapshot of a node's getblocktemplate result.
type Template struct {
	Version           int32
	PrevBlockHash     []byte // node-order (big-endian-as-returned) 32 bytes
	Transactions      []Tx
	CoinbaseValue     uint64
	Bits              uint32
	BitsHex           string
	Height            int64
	CurTime           uint32
}

// Job is the precomputed, notify-ready unit C4 sends to miners and C5
// reuses to validate submissions.
type Job struct {
	ID                string
	Height            int64
	PrevHashWire      string // hex: reversed + word-swapped, per §3
	VersionHex        string
	NBitsHex          string
	NTimeHex          string
	NTimeValue        uint32
	MerkleBranch      [][]byte // sibling hashes, internal byte order
	WitnessCommitment []byte   // nil if the block has no segwit tx
	NetworkTarget     *big.Int
	CleanJobs         bool
	CreatedAt         time.Time
	Template          *Template
}

// Manager polls the node for templates and publishes the derived Job.
type Manager struct {
	node            *nodeclient.Client
	logger          *zap.Logger
	refreshInterval time.Duration

	currentJob  atomic.Value // *Job
	jobs        sync.Map     // map[string]*Job
	jobCounter  uint64
	currentHeight int64

	subscribersMu sync.RWMutex
	subscribers   []chan *Job
}

// NewManager constructs a Template Manager.
func NewManager(node *nodeclient.Client, refreshInterval time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		node:            node,
		logger:          logger.Named("template"),
		refreshInterval: refreshInterval,
	}
}

// CurrentJob returns the currently published Job, or nil before the first
// successful fetch.
func (m *Manager) CurrentJob() *Job {
	if j := m.currentJob.Load(); j != nil {
		return j.(*Job)
	}
	return nil
}

// GetJob resolves a job by ID for submission validation (§4.5 step 1); a
// job superseded by a clean refresh is no longer present (I5, P8).
func (m *Manager) GetJob(id string) *Job {
	if j, ok := m.jobs.Load(id); ok {
		return j.(*Job)
	}
	return nil
}

// Subscribe returns a channel that receives every newly published Job, for
// the Stratum server's broadcast loop.
func (m *Manager) Subscribe() <-chan *Job {
	m.subscribersMu.Lock()
	defer m.subscribersMu.Unlock()
	ch := make(chan *Job, 16)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

func (m *Manager) notifySubscribers(job *Job) {
	m.subscribersMu.RLock()
	defer m.subscribersMu.RUnlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- job:
		default:
			m.logger.Debug("subscriber channel full, dropping job notification")
		}
	}
}

// Run polls the node on a fixed cadence, refreshing immediately on start,
// until ctx is cancelled. Failures are logged and leave the previous Job in
// place (§4.1, §7 "template/RPC transient errors").
func (m *Manager) Run(ctx context.Context) {
	m.refresh(ctx)

	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *Manager) refresh(ctx context.Context) {
	raw, err := m.node.GetBlockTemplate(ctx)
	if err != nil {
		templateFetchErrors.Inc()
		m.logger.Error("failed to fetch block template", zap.Error(err))
		return
	}

	tmpl, err := convertTemplate(raw)
	if err != nil {
		templateFetchErrors.Inc()
		m.logger.Error("failed to convert block template", zap.Error(err))
		return
	}

	job, err := m.buildJob(tmpl)
	if err != nil {
		m.logger.Error("failed to build job from template", zap.Error(err))
		return
	}

	m.jobs.Store(job.ID, job)
	m.currentJob.Store(job)
	if job.CleanJobs {
		m.cleanOldJobs(job.CreatedAt)
	}

	jobsGenerated.Inc()
	currentBlockHeight.Set(float64(tmpl.Height))
	m.notifySubscribers(job)

	m.logger.Info("new job published",
		zap.String("job_id", job.ID),
		zap.Int64("height", tmpl.Height),
		zap.Bool("clean_jobs", job.CleanJobs),
	)
}

// cleanOldJobs drops every job created before now, the creation time of the
// clean job that supersedes them, so a superseded job_id answers
// submissions as unknown (P8).
func (m *Manager) cleanOldJobs(now time.Time) {
	m.jobs.Range(func(key, value interface{}) bool {
		job := value.(*Job)
		if job.CreatedAt.Before(now) {
			m.jobs.Delete(key)
		}
		return true
	})
}

func (m *Manager) buildJob(tmpl *Template) (*Job, error) {
	cleanJobs := tmpl.Height != m.currentHeight
	if cleanJobs {
		m.currentHeight = tmpl.Height
	}

	txids := make([][]byte, len(tmpl.Transactions))
	wtxids := make([][]byte, len(tmpl.Transactions))
	for i, tx := range tmpl.Transactions {
		txids[i] = tx.TxID
		wtxids[i] = tx.WTxID
	}

	branch := merkle.BuildBranch(txids)

	var commitment []byte
	if hasSegwitTx(tmpl.Transactions) {
		commitment = merkle.WitnessCommitment(wtxids, make([]byte, 32))
	}

	job := &Job{
		ID:                m.generateJobID(),
		Height:            tmpl.Height,
		PrevHashWire:      hex.EncodeToString(bitcoin.SwapWords32(bitcoin.ReverseBytes(tmpl.PrevBlockHash))),
		VersionHex:        fmt.Sprintf("%08x", uint32(tmpl.Version)),
		NBitsHex:          tmpl.BitsHex,
		NTimeHex:          fmt.Sprintf("%08x", tmpl.CurTime),
		NTimeValue:        tmpl.CurTime,
		MerkleBranch:      branch,
		WitnessCommitment: commitment,
		NetworkTarget:     bitcoin.CompactToBig(tmpl.Bits),
		CleanJobs:         cleanJobs,
		CreatedAt:         time.Now(),
		Template:          tmpl,
	}
	return job, nil
}

func hasSegwitTx(txs []Tx) bool {
	for _, tx := range txs {
		if string(tx.WTxID) != string(tx.TxID) {
			return true
		}
	}
	return false
}

func (m *Manager) generateJobID() string {
	id := atomic.AddUint64(&m.jobCounter, 1)
	return fmt.Sprintf("%08x", id)
}

// convertTemplate decodes the node's hex-encoded fields into the internal,
// byte-order-explicit Template representation.
func convertTemplate(raw *nodeclient.BlockTemplate) (*Template, error) {
	prevHash, err := hex.DecodeString(raw.PreviousBlockHash)
	if err != nil {
		return nil, fmt.Errorf("decode previousblockhash: %w", err)
	}

	bits, err := parseBits(raw.Bits)
	if err != nil {
		return nil, fmt.Errorf("parse bits: %w", err)
	}

	txs := make([]Tx, len(raw.Transactions))
	for i, t := range raw.Transactions {
		data, err := hex.DecodeString(t.Data)
		if err != nil {
			return nil, fmt.Errorf("decode tx %d data: %w", i, err)
		}
		txid, err := hex.DecodeString(t.TxID)
		if err != nil {
			return nil, fmt.Errorf("decode tx %d txid: %w", i, err)
		}
		wtxidHex := t.Hash
		if wtxidHex == "" {
			wtxidHex = t.TxID
		}
		wtxid, err := hex.DecodeString(wtxidHex)
		if err != nil {
			return nil, fmt.Errorf("decode tx %d wtxid: %w", i, err)
		}
		txs[i] = Tx{
			Data:  data,
			TxID:  bitcoin.ReverseBytes(txid),
			WTxID: bitcoin.ReverseBytes(wtxid),
		}
	}

	return &Template{
		Version:       raw.Version,
		PrevBlockHash: prevHash,
		Transactions:  txs,
		CoinbaseValue: uint64(raw.CoinbaseValue),
		Bits:          bits,
		BitsHex:       raw.Bits,
		Height:        raw.Height,
		CurTime:       raw.CurTime,
	}, nil
}

func parseBits(s string) (uint32, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 4 {
		return 0, fmt.Errorf("malformed bits %q", s)
	}
	return binary.BigEndian.Uint32(b), nil
}
