package api

import (
	"net/http"
	"time"

	_ "github.com/AlexZinkM/legacy-capsule/docs"
	"github.com/AlexZinkM/legacy-capsule/internal/handler"
	"github.com/AlexZinkM/legacy-capsule/internal/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Handlers groups the endpoint handlers served by the router.
type Handlers struct {
	Capsules *handler.CapsuleHandler
	Health   *handler.HealthHandler
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// SetupRouter sets up router with handlers
func SetupRouter(h Handlers) http.Handler {
	mux := http.NewServeMux()

	// Swagger UI
	mux.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	// Ops endpoints
	mux.HandleFunc("/healthz", h.Health.Healthz)
	gatherer := h.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Capsule endpoints
	mux.HandleFunc("/capsules", h.Capsules.CreateCapsule)
	mux.HandleFunc("/capsules/release", h.Capsules.ReleaseCapsule)
	mux.HandleFunc("/capsules/checkin", h.Capsules.Checkin)
	mux.HandleFunc("/capsules/lookup", h.Capsules.LookupCapsule)

	// Wallet endpoints
	mux.HandleFunc("/wallets", h.Capsules.CreateWallet)
	mux.HandleFunc("/wallets/info", h.Capsules.WalletInfo)
	mux.HandleFunc("/wallets/transfer", h.Capsules.TransferSOL)
	mux.HandleFunc("/wallets/transfer-spl", h.Capsules.TransferSPL)
	mux.HandleFunc("/wallets/transfer-nft", h.Capsules.TransferNFT)

	return logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs one line per request.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.API.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
