package server

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

func (s *Server) positionID(r *http.Request) (uint64, error) {
	return parsePositionID(chi.URLParam(r, "id"))
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	poolID, err := parsePoolID(req.PoolID)
	if err != nil {
		writeError(w, err)
		return
	}
	rate, err := parseRate(req.Rate)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	var token common.Address
	if strings.TrimSpace(req.Token) == "" {
		pool, err := s.engine.Pool(poolID)
		if err != nil {
			writeError(w, err)
			return
		}
		token = pool.Parameters.Underlying
	} else if token, err = parseAddress(req.Token, "token"); err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	pos, err := s.ledger.Deposit(r.Context(), auth.Caller, poolID, rate, token, amount)
	s.observe("deposit", poolID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPositionView(pos, nil))
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	id, err := s.positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pos, err := s.ledger.Position(id)
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := s.ledger.PositionRepartition(id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := newPositionView(pos, rep)
	resp := map[string]interface{}{"position": view}
	if preview, err := s.ledger.WithdrawPreview(id); err == nil {
		resp["withdrawPreview"] = withdrawView{
			NormalizedAmount: str(preview.NormalizedAmount),
			RemainingBonds:   str(preview.RemainingBonds),
			BondsMaturity:    preview.BondsMaturity,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getPositionMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := s.positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	uri, err := s.ledger.TokenURI(id, r.URL.Query().Get("symbol"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tokenURI": uri})
}

func (s *Server) listAccountPositions(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "address"), "address")
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.ledger.PositionsOf(owner)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"owner": owner.Hex(), "positions": ids})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var poolID common.Hash
	if pos, err := s.ledger.Position(id); err == nil {
		poolID = pos.PoolID
	}
	start := s.now()
	res, err := s.ledger.Withdraw(r.Context(), auth.Caller, id)
	s.observe("withdraw", poolID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawView{
		NormalizedAmount: str(res.NormalizedAmount),
		RemainingBonds:   str(res.RemainingBonds),
		BondsMaturity:    res.BondsMaturity,
		Redeemed:         res.Redeemed,
		Burned:           res.Burned,
	})
}

func (s *Server) updateRate(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req rateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rate, err := parseRate(req.Rate)
	if err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	pos, err := s.ledger.UpdateRate(r.Context(), auth.Caller, id, rate)
	var poolID common.Hash
	if pos != nil {
		poolID = pos.PoolID
	}
	s.observe("update_rate", poolID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(pos, nil))
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ledger.Transfer(r.Context(), auth.Caller, id, to); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	if s.bank == nil {
		http.NotFound(w, r)
		return
	}
	owner, err := parseAddress(chi.URLParam(r, "address"), "address")
	if err != nil {
		writeError(w, err)
		return
	}
	asset, err := parseAddress(chi.URLParam(r, "token"), "token")
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.bank.BalanceOf(asset, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{Token: asset.Hex(), Owner: owner.Hex(), Balance: str(balance)})
}
