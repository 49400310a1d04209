package server

import (
	"net/http"
	"strconv"

	"ratebook/services/poolsd/eventlog"
)

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	filter := eventlog.Filter{Type: q.Get("type")}
	if raw := q.Get("pool"); raw != "" {
		id, err := parsePoolID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.PoolID = id.Hex()
	}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, errBadRequest)
			return
		}
		filter.After = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, errBadRequest)
			return
		}
		filter.Limit = limit
	}
	records, err := s.events.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventView, 0, len(records))
	for _, record := range records {
		view, err := newEventView(record)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
