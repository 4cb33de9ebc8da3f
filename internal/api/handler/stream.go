package handler

import (
	"net/http"

	"github.com/kiranshivaraju/dnswatch/internal/api/response"
	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

// StatsSource exposes live stream counters.
type StatsSource interface {
	Stats() models.StreamStats
}

// NewStreamHandler returns GET /api/v1/stream.
func NewStreamHandler(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, src.Stats())
	}
}
