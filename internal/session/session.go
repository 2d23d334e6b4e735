// Package session implements the Stratum Session (C4): per-connection
// framing, the connected → subscribed → authorized state machine, and the
// hashrate EMA. Each Session is an actor — a single goroutine reading its
// socket — so none of its fields need locking against inbound I/O; only the
// fields a concurrent broadcast (SendJob) or a Statistics Store snapshot
// touches are access-ordered. §9's "no variable-difficulty retarget": unlike
// the teacher's connection.go, difficulty is fixed once at subscribe time
// and never revisited by CheckVarDiff.
package session

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wernerpool/stratum/internal/coinbase"
	"github.com/wernerpool/stratum/internal/config"
	"github.com/wernerpool/stratum/internal/protocol"
	"github.com/wernerpool/stratum/internal/share"
	"github.com/wernerpool/stratum/internal/stats"
	"github.com/wernerpool/stratum/internal/template"
)

var (
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stratum_active_sessions",
		Help: "Number of active Stratum sessions",
	})
	sessionHashrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stratum_session_hashrate",
		Help: "Smoothed estimated hashrate per session",
	}, []string{"address", "worker"})
)

func init() {
	prometheus.MustRegister(activeSessions, sessionHashrate)
}

// State is the connected/subscribed/authorized progression §4.4 defines.
type State int32

const (
	StateConnected State = iota
	StateSubscribed
	StateAuthorized
)

// Session is one Stratum TCP connection.
type Session struct {
	id      string
	conn    net.Conn
	cfg     config.ServerConfig
	pool    config.MiningConfig
	poolTag []byte

	templates *template.Manager
	validator *share.Validator
	store     *stats.Store
	logger    *zap.Logger

	state          atomic.Int32
	extranonce1    string
	versionRolling atomic.Bool

	address    string
	workerName string

	difficulty     float64 // fixed at subscribe time, per §9
	sharesAccepted atomic.Int64
	sharesRejected atomic.Int64

	bestDiffMu     sync.Mutex
	bestDifficulty float64

	lastShareAt atomic.Int64 // unix ms; 0 means "no share yet"
	connectedAt time.Time

	hashrateMu sync.Mutex
	hashrate   float64

	reader    *bufio.Reader
	writeMu   sync.Mutex
	closeChan chan struct{}
	closeOnce sync.Once
}

// New creates a Session wrapping a freshly accepted connection.
func New(conn net.Conn, cfg config.ServerConfig, pool config.MiningConfig, templates *template.Manager, validator *share.Validator, store *stats.Store, logger *zap.Logger) *Session {
	s := &Session{
		id:          uuid.New().String()[:8],
		conn:        conn,
		cfg:         cfg,
		pool:        pool,
		poolTag:     []byte(pool.PoolName),
		templates:   templates,
		validator:   validator,
		store:       store,
		logger:      logger.Named("session"),
		difficulty:  pool.InitialDifficulty,
		connectedAt: time.Now(),
		reader:      bufio.NewReader(conn),
		closeChan:   make(chan struct{}),
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return s
}

// ID returns the session's opaque token.
func (s *Session) ID() string { return s.id }

// State returns the current connected/subscribed/authorized state.
func (s *Session) State() State { return State(s.state.Load()) }

// Ready reports whether the session may receive mining.notify (I2): both
// subscribed and authorized.
func (s *Session) Ready() bool { return s.State() == StateAuthorized }

// Handle runs the session's read loop until the socket closes, ctx is
// cancelled, or a read error occurs. It is the Session's sole goroutine.
// TCP close is the only cancellation signal (§5.5): there is no read
// deadline, so a miner idling between shares at low difficulty is never
// disconnected for inactivity. Shutdown reaches this loop by closing the
// underlying socket (see Close, Server.Shutdown), which unblocks the pending
// ReadString with an error; ctx cancellation is only checked between lines
// and does not by itself close the socket.
func (s *Session) Handle(ctx context.Context) error {
	defer s.Close()
	activeSessions.Inc()
	defer activeSessions.Dec()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closeChan:
			return nil
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-s.closeChan:
				return nil
			default:
			}
			return fmt.Errorf("read error: %w", err)
		}

		if err := s.dispatch(ctx, line); err != nil {
			s.logger.Debug("error handling message", zap.String("id", s.id), zap.Error(err))
		}
	}
}

// dispatch parses one line and routes it. Malformed lines are discarded
// with a debug log per §4.4 "Framing" — the connection is never closed for
// a parse failure. A panic inside a handler is recovered and logged at debug,
// leaving the connection open.
func (s *Session) dispatch(ctx context.Context, line string) error {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("recovered panic in message handler", zap.String("id", s.id), zap.Any("panic", r))
		}
	}()

	var req protocol.Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.logger.Debug("discarding malformed line", zap.String("id", s.id), zap.Error(err))
		return nil
	}

	switch req.Method {
	case "mining.configure":
		return s.handleConfigure(req)
	case "mining.subscribe":
		return s.handleSubscribe(req)
	case "mining.authorize":
		return s.handleAuthorize(ctx, req)
	case "mining.submit":
		return s.handleSubmit(ctx, req)
	case "mining.extranonce.subscribe":
		return s.sendResult(req.ID, true)
	default:
		return s.sendError(req.ID, protocol.ErrMethodNotFound, "Method not found")
	}
}

// handleConfigure negotiates extensions (§4.4): version-rolling gets the
// real mask reply, everything else is acknowledged with a default so the
// connection never fails over an extension it doesn't recognize.
func (s *Session) handleConfigure(req protocol.Request) error {
	params, err := protocol.ParseConfigureParams(req.Params)
	if err != nil {
		return s.sendError(req.ID, protocol.ErrInvalidParams, "Invalid parameters")
	}

	result := make(map[string]interface{}, len(params.Extensions))
	for _, ext := range params.Extensions {
		if ext == "version-rolling" {
			s.versionRolling.Store(true)
			result["version-rolling"] = true
			result["version-rolling.mask"] = protocol.VersionRollingMask
			continue
		}
		result[ext] = true
	}

	return s.sendResult(req.ID, result)
}

// handleSubscribe assigns extranonce1 and replies per §4.4; mining.notify is
// withheld until authorize, since the payout address is still unknown (I2).
func (s *Session) handleSubscribe(req protocol.Request) error {
	s.extranonce1 = nextExtranonce1()
	s.state.Store(int32(StateSubscribed))

	subscriptions := [][]interface{}{
		{"mining.set_difficulty", s.id},
		{"mining.notify", s.id},
	}
	result := []interface{}{subscriptions, s.extranonce1, s.pool.Extranonce2Size}
	if err := s.sendResult(req.ID, result); err != nil {
		return err
	}

	return s.sendDifficulty(s.difficulty)
}

// handleAuthorize splits "address.workerName" (default worker "default"),
// marks the session authorized, and sends exactly one clean mining.notify
// if a Job already exists (§4.4, §8 scenario 1).
func (s *Session) handleAuthorize(ctx context.Context, req protocol.Request) error {
	if State(s.state.Load()) < StateSubscribed {
		return s.sendError(req.ID, protocol.ErrNotSubscribed, "Not subscribed")
	}

	fullUsername, _, err := protocol.ParseAuthorizeParams(req.Params)
	if err != nil {
		return s.sendError(req.ID, protocol.ErrInvalidParams, "Invalid parameters")
	}

	s.address, s.workerName = splitUsername(fullUsername)
	s.state.Store(int32(StateAuthorized))

	s.logger.Info("worker authorized",
		zap.String("id", s.id),
		zap.String("address", s.address),
		zap.String("worker", s.workerName),
	)
	s.store.TrackSession(ctx, s.id, s.address, s.workerName, s.connectedAt.UnixMilli())

	if err := s.sendResult(req.ID, true); err != nil {
		return err
	}

	if job := s.templates.CurrentJob(); job != nil {
		return s.sendNotify(job, true)
	}
	return nil
}

// splitUsername divides "address.workerName" at the first dot (§4.4).
func splitUsername(fullUsername string) (address, worker string) {
	if idx := strings.IndexByte(fullUsername, '.'); idx >= 0 {
		return fullUsername[:idx], fullUsername[idx+1:]
	}
	return fullUsername, "default"
}

// handleSubmit hands off to C5 and replies per §4.4's exact error mapping.
func (s *Session) handleSubmit(ctx context.Context, req protocol.Request) error {
	if State(s.state.Load()) < StateAuthorized {
		return s.sendError(req.ID, protocol.ErrUnauthorized, "Unauthorized worker")
	}

	params, err := protocol.ParseSubmitParams(req.Params)
	if err != nil {
		return s.sendError(req.ID, protocol.ErrInvalidParams, "Invalid parameters")
	}

	sub := share.Submission{
		JobID:             params.JobID,
		Extranonce1:       s.extranonce1,
		Extranonce2:       params.Extranonce2,
		NTime:             params.NTime,
		Nonce:             params.Nonce,
		VersionBits:       params.VersionBits,
		HasVersionBits:    params.HasVersionBits && s.versionRolling.Load(),
		PayoutAddress:     s.address,
		WorkerName:        s.workerName,
		PoolTag:           s.poolTag,
		SessionDifficulty: s.difficulty,
	}

	result, err := s.validator.Validate(ctx, sub)
	if err != nil {
		s.logger.Error("share validation error", zap.String("id", s.id), zap.Error(err))
		return s.sendError(req.ID, protocol.ErrStaleShare, "Internal error")
	}

	now := time.Now()
	switch result.Failure {
	case share.FailureInternal:
		s.sharesRejected.Add(1)
		s.store.RecordShare(ctx, s.address, s.workerName, s.difficulty, false, now.UnixMilli())
		return s.sendError(req.ID, protocol.ErrStaleShare, "Internal error")
	case share.FailureLowDifficulty:
		s.sharesRejected.Add(1)
		s.store.RecordShare(ctx, s.address, s.workerName, s.difficulty, false, now.UnixMilli())
		return s.sendError(req.ID, protocol.ErrLowDifficultyShare, "Low difficulty share")
	}

	s.onAccepted(ctx, result, now)
	return s.sendResult(req.ID, true)
}

// onAccepted updates the counters and hashrate EMA §4.4 defines for a
// successful submission.
func (s *Session) onAccepted(ctx context.Context, result *share.Result, now time.Time) {
	s.sharesAccepted.Add(1)

	shareDiff, _ := new(big.Float).SetInt(result.ShareDifficulty).Float64()

	s.bestDiffMu.Lock()
	if shareDiff > s.bestDifficulty {
		s.bestDifficulty = shareDiff
	}
	bestDiff := s.bestDifficulty
	s.bestDiffMu.Unlock()
	s.store.UpdateBestDifficulty(ctx, s.address, bestDiff)

	nowMs := now.UnixMilli()
	prevMs := s.lastShareAt.Swap(nowMs)
	s.updateHashrate(shareDiff, prevMs, nowMs)

	s.store.RecordShare(ctx, s.address, s.workerName, s.difficulty, true, nowMs)
	s.store.UpdateSession(s.id, s.snapshot(bestDiff))
}

// updateHashrate applies §4.4's EMA: instant = share_difficulty * 2^32 /
// max(dt, epsilon); smoothed with weight 0.8/0.2 when 0 < dt < 600s.
func (s *Session) updateHashrate(shareDifficulty float64, prevMs, nowMs int64) {
	var dtSeconds float64
	if prevMs == 0 {
		dtSeconds = float64(nowMs-s.connectedAt.UnixMilli()) / 1000.0
	} else {
		dtSeconds = float64(nowMs-prevMs) / 1000.0
	}

	const epsilon = 0.001
	divisor := dtSeconds
	if divisor <= 0 {
		divisor = epsilon
	}
	instant := shareDifficulty * 4294967296.0 / divisor

	s.hashrateMu.Lock()
	if dtSeconds > 0 && dtSeconds < 600 {
		s.hashrate = 0.8*s.hashrate + 0.2*instant
	}
	hashrate := s.hashrate
	s.hashrateMu.Unlock()

	sessionHashrate.WithLabelValues(s.address, s.workerName).Set(hashrate)
}

func (s *Session) snapshot(bestDifficulty float64) stats.SessionSnapshot {
	s.hashrateMu.Lock()
	hashrate := s.hashrate
	s.hashrateMu.Unlock()

	return stats.SessionSnapshot{
		Address:        s.address,
		Worker:         s.workerName,
		Hashrate:       hashrate,
		SharesAccepted: s.sharesAccepted.Load(),
		SharesRejected: s.sharesRejected.Load(),
		BestDifficulty: bestDifficulty,
		LastShareMs:    s.lastShareAt.Load(),
		ConnectedAtMs:  s.connectedAt.UnixMilli(),
	}
}

// SendJob pushes a mining.notify for a Job refresh (§4.4 "Broadcast"); a
// session not yet authorized is silently skipped (I2).
func (s *Session) SendJob(job *template.Job) error {
	if !s.Ready() {
		return nil
	}
	return s.sendNotify(job, job.CleanJobs)
}

func (s *Session) sendNotify(job *template.Job, cleanJobs bool) error {
	extranonce1Bytes, _ := hex.DecodeString(s.extranonce1)
	halves := coinbase.BuildHalves(coinbase.Params{
		Height:            job.Height,
		Value:             job.Template.CoinbaseValue,
		PayoutAddress:     s.address,
		PoolTag:           s.poolTag,
		Extranonce1Size:   len(extranonce1Bytes),
		Extranonce2Size:   s.pool.Extranonce2Size,
		WitnessCommitment: job.WitnessCommitment,
	})

	params := []interface{}{
		job.ID,
		job.PrevHashWire,
		hex.EncodeToString(halves.Coinbase1),
		hex.EncodeToString(halves.Coinbase2),
		hexStrings(job.MerkleBranch),
		job.VersionHex,
		job.NBitsHex,
		job.NTimeHex,
		cleanJobs,
	}
	return s.sendNotification("mining.notify", params)
}

func hexStrings(branch [][]byte) []string {
	result := make([]string, len(branch))
	for i, sibling := range branch {
		result[i] = hex.EncodeToString(sibling)
	}
	return result
}

// sendDifficulty sends a mining.set_difficulty notification.
func (s *Session) sendDifficulty(difficulty float64) error {
	return s.sendNotification("mining.set_difficulty", []interface{}{difficulty})
}

func (s *Session) sendResult(id interface{}, result interface{}) error {
	return s.send(protocol.Response{ID: id, Result: result, Error: nil})
}

func (s *Session) sendError(id interface{}, code int, message string) error {
	return s.send(protocol.Response{ID: id, Result: nil, Error: (&protocol.StratumError{Code: code, Message: message}).ToJSON()})
}

func (s *Session) sendNotification(method string, params interface{}) error {
	return s.send(protocol.Notification{ID: nil, Method: method, Params: params})
}

func (s *Session) send(msg interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close tears the session down: socket close, extranonce1 release (implicit
// — the counter never reuses values), and Statistics Store deregistration.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		s.conn.Close()
		if s.address != "" {
			s.store.UntrackSession(context.Background(), s.id)
		}
	})
}

// extranonceCounter is the process-wide monotonically increasing 32-bit
// counter backing I1/P7 (extranonce1 uniqueness).
var extranonceCounter uint32

func nextExtranonce1() string {
	value := atomic.AddUint32(&extranonceCounter, 1)
	return fmt.Sprintf("%08x", value)
}
