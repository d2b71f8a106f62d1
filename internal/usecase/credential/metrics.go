package credential

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupStale = "stale"
	lookupError = "error"
)

var (
	// cacheLookupsTotal counts ValidationCache.Get outcomes.
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedstate_credential_cache_lookups_total",
			Help: "Credential cache lookups by result",
		},
		[]string{"result"}, // hit|miss|stale|error
	)

	// verificationsTotal counts calls to the authoritative verifier.
	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedstate_credential_verifications_total",
			Help: "Authoritative credential verifications by result",
		},
		[]string{"result"}, // valid|invalid|expired|error
	)
)

func recordLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

func recordVerification(result string) {
	verificationsTotal.WithLabelValues(result).Inc()
}
