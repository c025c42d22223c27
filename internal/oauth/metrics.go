package oauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exchangeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_token_exchanges_total",
		Help: "Authorization code exchanges by result.",
	}, []string{"result"})
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_token_refreshes_total",
		Help: "Refresh grant attempts by result.",
	}, []string{"result"})
	stateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_state_rejections_total",
		Help: "Callback states rejected, by reason.",
	}, []string{"reason"})
)
