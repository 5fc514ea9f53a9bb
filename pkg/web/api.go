package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dbehnke/nr-codec/pkg/database"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/metrics"
	"github.com/dbehnke/nr-codec/pkg/stats"
)

// StatsSource provides per-UE counters
type StatsSource interface {
	Snapshot() []stats.UE
}

// SummarySource provides codec-wide totals
type SummarySource interface {
	Summary() metrics.Summary
}

// BlockSource provides the stored block log
type BlockSource interface {
	GetRecentPaginated(page, perPage int) ([]database.BlockRecord, int64, error)
}

// Sources are the data behind the REST API. Any of them may be nil.
type Sources struct {
	Stats   StatsSource
	Summary SummarySource
	Blocks  BlockSource
}

// API handles REST API endpoints
type API struct {
	src     Sources
	logger  *logger.Logger
	started time.Time
	clients func() int
}

// NewAPI creates a new API instance
func NewAPI(src Sources, log *logger.Logger) *API {
	return &API{
		src:     src,
		logger:  log.WithComponent("web.api"),
		started: time.Now(),
	}
}

// HandleStatus handles the /api/status endpoint
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":         "running",
		"service":        "nr-codec",
		"build":          CurrentBuildInfo(),
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
	}
	if a.src.Summary != nil {
		response["codec"] = a.src.Summary.Summary()
	}
	if a.clients != nil {
		response["ws_clients"] = a.clients()
	}

	a.writeJSON(w, response)
}

// HandleStats handles the /api/stats endpoint
func (a *API) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ues := []stats.UE{}
	if a.src.Stats != nil {
		ues = a.src.Stats.Snapshot()
	}
	a.writeJSON(w, ues)
}

// HandleBlocks handles /api/blocks?page=N&per_page=M
func (a *API) HandleBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page := queryInt(r, "page", 1, 1, 1<<20)
	perPage := queryInt(r, "per_page", 50, 1, 500)

	blocks := []database.BlockRecord{}
	var total int64
	if a.src.Blocks != nil {
		var err error
		blocks, total, err = a.src.Blocks.GetRecentPaginated(page, perPage)
		if err != nil {
			a.logger.Error("Failed to load blocks", logger.Error(err))
			http.Error(w, "failed to load blocks", http.StatusInternalServerError)
			return
		}
	}

	a.writeJSON(w, map[string]interface{}{
		"blocks":   blocks,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (a *API) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to encode response", logger.Error(err))
	}
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
