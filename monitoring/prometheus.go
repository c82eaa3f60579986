package monitoring

import (
	"net/http"
	"time"

	"github.com/blockmedi/medledger/logx"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type CommitOutcome string

var (
	CommitCommitted       CommitOutcome = "committed"
	CommitQuorumRejected  CommitOutcome = "quorum_rejected"
	CommitTipMoved        CommitOutcome = "tip_moved"
	CommitDuplicateCreate CommitOutcome = "duplicate_create"
	CommitError           CommitOutcome = "error"
)

type PeerVoteResult string

var (
	PeerVoteAgree    PeerVoteResult = "agree"
	PeerVoteDisagree PeerVoteResult = "disagree"
	PeerVoteError    PeerVoteResult = "error"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds  prometheus.Gauge
	blockHeight        prometheus.Gauge
	commitAttempts     *prometheus.CounterVec
	peerVotes          *prometheus.CounterVec
	validationDuration prometheus.Histogram
	auditFailures      *prometheus.CounterVec
	peerCount          prometheus.Gauge
	panicCount         prometheus.Counter
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "medledger_node_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the node",
			},
		),
		blockHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "medledger_ledger_block_count",
				Help: "Number of blocks in the local ledger, genesis included",
			},
		),
		commitAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medledger_commit_attempts_total",
				Help: "Commit attempts by outcome",
			},
			[]string{"outcome"},
		),
		peerVotes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medledger_peer_votes_total",
				Help: "Peer validation responses by result",
			},
			[]string{"result"},
		),
		validationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "medledger_peer_validation_seconds",
				Help: "Duration of one peer validation round, all peers joined",
			},
		),
		auditFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medledger_audit_failures_total",
				Help: "Projection rows whose recomputed hash disagreed with the ledger",
			},
			[]string{"collection"},
		),
		peerCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "medledger_node_peer_count",
				Help: "The number of configured validation peers",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "medledger_node_panic_count",
				Help: "Recovered panics in background goroutines",
			},
		),
	}
}

// registered once per process; promauto panics on duplicate registration
var nodeMetrics = newNodePromMetrics()

// InitMetrics stamps the node start time
func InitMetrics() {
	nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
}

func RegisterMetrics(router *mux.Router) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func SetBlockHeight(count uint64) {
	nodeMetrics.blockHeight.Set(float64(count))
}

func RecordCommitAttempt(outcome CommitOutcome) {
	nodeMetrics.commitAttempts.With(prometheus.Labels{
		"outcome": string(outcome),
	}).Inc()
}

func RecordPeerVote(result PeerVoteResult) {
	nodeMetrics.peerVotes.With(prometheus.Labels{
		"result": string(result),
	}).Inc()
}

func RecordValidationDuration(d time.Duration) {
	nodeMetrics.validationDuration.Observe(d.Seconds())
}

func RecordAuditFailure(collection string) {
	nodeMetrics.auditFailures.With(prometheus.Labels{
		"collection": collection,
	}).Inc()
}

func SetPeerCount(peers int) {
	nodeMetrics.peerCount.Set(float64(peers))
}

func IncreasePanicCount() {
	nodeMetrics.panicCount.Inc()
}
