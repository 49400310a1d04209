package server

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

func (s *Server) poolID(r *http.Request) (common.Hash, error) {
	return parsePoolID(chi.URLParam(r, "poolID"))
}

func (s *Server) listPools(w http.ResponseWriter, _ *http.Request) {
	list, err := s.engine.Pools()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]poolView, 0, len(list))
	for _, pool := range list {
		out = append(out, newPoolView(pool))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": out})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.Pool(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

func (s *Server) getTick(w http.ResponseWriter, r *http.Request) {
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rate, err := parseRate(chi.URLParam(r, "rate"))
	if err != nil {
		writeError(w, err)
		return
	}
	amounts, err := s.engine.TickAmounts(id, rate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTickView(amounts))
}

// collectFees is open to anyone; it only realizes accrued yield.
func (s *Server) collectFees(w http.ResponseWriter, r *http.Request) {
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	err = s.engine.CollectFees(r.Context(), id)
	s.observe("collect_fees", id, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req borrowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	to := auth.Caller
	if req.To != "" {
		if to, err = parseAddress(req.To, "to"); err != nil {
			writeError(w, err)
			return
		}
	}
	start := s.now()
	res, err := s.engine.Borrow(r.Context(), auth, id, to, amount)
	s.observe("borrow", id, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"normalizedAmount": str(res.NormalizedAmount),
		"establishmentFee": str(res.EstablishmentFee),
		"received":         str(res.Received),
		"maturity":         res.Maturity,
		"newLoan":          res.NewLoan,
	})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	res, err := s.engine.Repay(r.Context(), auth, id)
	s.observe("repay", id, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":             string(res.Kind),
		"normalizedRepaid": str(res.NormalizedRepaid),
		"lateFee":          str(res.LateFee),
		"repaymentFee":     str(res.RepaymentFee),
		"paid":             str(res.Paid),
		"maturity":         res.Maturity,
	})
}

func (s *Server) topUpRewards(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	err = s.engine.TopUpLiquidityRewards(r.Context(), auth, id, amount)
	s.observe("top_up_rewards", id, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
