package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OAuthFlowsStarted is a counter for OAuth flows initiated.
	OAuthFlowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sociallink_oauth_flows_started_total",
			Help: "The total number of OAuth login flows initiated.",
		},
		[]string{"platform"},
	)

	// OAuthFlowsCompleted is a counter for OAuth flows that linked an account.
	OAuthFlowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sociallink_oauth_flows_completed_total",
			Help: "The total number of OAuth login flows that linked an account.",
		},
		[]string{"platform"},
	)

	// OAuthFlowsFailed is a counter for OAuth flows that failed, by stage.
	OAuthFlowsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sociallink_oauth_flows_failed_total",
			Help: "The total number of OAuth login flows that failed.",
		},
		[]string{"platform", "stage"},
	)

	// TokenRefreshes is a counter for token refresh attempts, by result.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sociallink_token_refreshes_total",
			Help: "The total number of access token refresh attempts.",
		},
		[]string{"platform", "result"},
	)

	// APICalls is a counter for outbound platform API calls.
	APICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sociallink_api_calls_total",
			Help: "The total number of outbound platform API calls.",
		},
		[]string{"platform", "method"},
	)

	// APICallDuration is a histogram of outbound call latency.
	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sociallink_api_call_duration_seconds",
			Help:    "A histogram of outbound platform API call duration.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	// AccountsDisconnected is a counter for completed disconnects.
	AccountsDisconnected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sociallink_accounts_disconnected_total",
			Help: "The total number of accounts disconnected.",
		},
		[]string{"platform"},
	)

	// SessionsSwept is a counter for expired OAuth sessions removed by the sweeper.
	SessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sociallink_oauth_sessions_swept_total",
			Help: "The total number of expired OAuth sessions removed.",
		},
	)
)
