package adminapi

import (
	"net/http"
	"time"

	"github.com/foxhound-dns/resolver/internal/cache"
	"github.com/foxhound-dns/resolver/internal/filter"
)

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.startTime).String(),
		Version: s.version,
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReload recompiles the filter engine and refreshes the subnet
// matcher from the repository's current contents. Exposed so an operator
// (or a future file-watcher hook) can push a rule change live without
// restarting the process.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	now := s.clock.NowSecs()
	if err := s.engine.Reload(now); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.subnets.Refresh(s.repo.SubnetEntries())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":         true,
		"compiled_domains": s.engine.CompiledDomainCount(),
	})
}

type subnetGroupRequest struct {
	CIDR    string `json:"cidr"`
	GroupID uint32 `json:"group_id"`
}

func (s *Server) handleListSubnetGroups(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.repo.ListSubnetGroups())
}

func (s *Server) handleSetSubnetGroup(w http.ResponseWriter, r *http.Request) {
	var req subnetGroupRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.repo.SetSubnetGroup(req.CIDR, req.GroupID); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.subnets.Refresh(s.repo.SubnetEntries())
	s.writeJSON(w, http.StatusAccepted, map[string]any{"set": true})
}

func (s *Server) handleRemoveSubnetGroup(w http.ResponseWriter, r *http.Request) {
	cidr := r.URL.Query().Get("cidr")
	removed := s.repo.RemoveSubnetGroup(cidr)
	s.subnets.Refresh(s.repo.SubnetEntries())
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type cacheMetricsResponse struct {
	Hits                uint64  `json:"hits"`
	Misses              uint64  `json:"misses"`
	Insertions          uint64  `json:"insertions"`
	Evictions           uint64  `json:"evictions"`
	OptimisticRefreshes uint64  `json:"optimistic_refreshes"`
	LazyDeletions       uint64  `json:"lazy_deletions"`
	Compactions         uint64  `json:"compactions"`
	BatchEvictions      uint64  `json:"batch_evictions"`
	HitRate             float64 `json:"hit_rate"`
	Size                int     `json:"size"`
}

func (s *Server) handleCacheMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.MetricsSnapshot()
	s.writeJSON(w, http.StatusOK, cacheMetricsResponse{
		Hits:                snap.Hits,
		Misses:              snap.Misses,
		Insertions:          snap.Insertions,
		Evictions:           snap.Evictions,
		OptimisticRefreshes: snap.OptimisticRefreshes,
		LazyDeletions:       snap.LazyDeletions,
		Compactions:         snap.Compactions,
		BatchEvictions:      snap.BatchEvictions,
		HitRate:             snap.HitRate(),
		Size:                s.cache.Len(),
	})
}

// handleCachePurgeOne handles DELETE /api/cache?domain=...&type=A, removing
// a single entry so an operator can force a re-resolution.
func (s *Server) handleCachePurgeOne(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	rt, ok := parseRecordType(r.URL.Query().Get("type"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown record type")
		return
	}
	removed := s.cache.Remove(cache.NewKey(domain, rt))
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func parseRecordType(s string) (cache.RecordType, bool) {
	switch s {
	case "", "A":
		return cache.TypeA, true
	case "AAAA":
		return cache.TypeAAAA, true
	case "CNAME":
		return cache.TypeCNAME, true
	case "MX":
		return cache.TypeMX, true
	case "TXT":
		return cache.TypeTXT, true
	case "PTR":
		return cache.TypePTR, true
	default:
		return 0, false
	}
}

func (s *Server) handleUpstreamHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.dispatcher.Health().Snapshot()
	out := make(map[string]string, len(snapshot))
	for endpoint, status := range snapshot {
		out[endpoint] = status.String()
	}
	s.writeJSON(w, http.StatusOK, out)
}

type blocklistSummaryResponse struct {
	ExactDomains    int `json:"exact_domains"`
	WildcardDomains int `json:"wildcard_domains"`
	CompiledDomains int `json:"compiled_domains"`
}

func (s *Server) handleGetBlocklist(w http.ResponseWriter, r *http.Request) {
	exact, wildcard := s.repo.BlocklistCounts()
	s.writeJSON(w, http.StatusOK, blocklistSummaryResponse{
		ExactDomains:    exact,
		WildcardDomains: wildcard,
		CompiledDomains: s.engine.CompiledDomainCount(),
	})
}

type blocklistEntryRequest struct {
	Domain     string `json:"domain"`
	Wildcard   bool   `json:"wildcard"`
	SourceMask uint64 `json:"source_mask"`
}

func (s *Server) handleAddBlocklistEntry(w http.ResponseWriter, r *http.Request) {
	var req blocklistEntryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	if req.SourceMask == 0 {
		req.SourceMask = 1
	}
	s.repo.AddBlocklistEntry(req.Domain, req.Wildcard, req.SourceMask)
	s.writeJSON(w, http.StatusAccepted, map[string]any{"added": true})
}

func (s *Server) handleRemoveBlocklistEntry(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	wildcard := r.URL.Query().Get("wildcard") == "true"
	if domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	removed := s.repo.RemoveBlocklistEntry(domain, wildcard)
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type managedDomainRequest struct {
	Domain  string `json:"domain"`
	Action  string `json:"action"` // "allow" or "deny"
	GroupID uint32 `json:"group_id"`
}

func (s *Server) handleListManagedDomains(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.repo.ListManagedDomains())
}

func (s *Server) handleAddManagedDomain(w http.ResponseWriter, r *http.Request) {
	var req managedDomainRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	id := s.repo.AddManagedDomain(req.Domain, req.GroupID, actionFromString(req.Action))
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleRemoveManagedDomain(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint64(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	removed := s.repo.RemoveManagedDomain(id)
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type regexFilterRequest struct {
	Pattern string `json:"pattern"`
	Action  string `json:"action"`
	GroupID uint32 `json:"group_id"`
}

func (s *Server) handleListRegexFilters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.repo.ListRegexFilters())
}

func (s *Server) handleAddRegexFilter(w http.ResponseWriter, r *http.Request) {
	var req regexFilterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Pattern == "" {
		s.writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	id, err := s.repo.AddRegexFilter(req.Pattern, req.GroupID, actionFromString(req.Action))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleRemoveRegexFilter(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint64(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	removed := s.repo.RemoveRegexFilter(id)
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func actionFromString(s string) filter.Action {
	if s == "deny" {
		return filter.ActionDeny
	}
	return filter.ActionAllow
}

func (s *Server) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	limit := 100
	logs, err := s.store.RecentQueries(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-1 * time.Hour)
	stats, err := s.store.Statistics(r.Context(), since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
