package server

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"ratebook/config"
)

func (s *Server) createPool(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	var def config.PoolDefinition
	if err := decodeBody(r, &def); err != nil {
		writeError(w, err)
		return
	}
	params, err := def.Parameters()
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	borrower, err := def.BorrowerAddress()
	if err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	id, err := s.engine.CreatePool(r.Context(), auth, def.Name, params)
	s.observe("create_pool", id, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	if borrower != (common.Address{}) {
		if err := s.engine.AllowBorrower(r.Context(), auth, id, borrower); err != nil {
			writeError(w, err)
			return
		}
	}
	pool, err := s.engine.Pool(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPoolView(pool))
}

func (s *Server) setBorrower(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req borrowerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	borrower, err := parseAddress(req.Borrower, "borrower")
	if err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	if req.Allow {
		err = s.engine.AllowBorrower(r.Context(), auth, id, borrower)
		s.observe("allow_borrower", id, start, err)
	} else {
		err = s.engine.DisallowBorrower(r.Context(), auth, id, borrower)
		s.observe("disallow_borrower", id, start, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) closePool(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	returned, err := s.engine.ClosePool(r.Context(), auth, id, to)
	s.observe("close_pool", id, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"returnedReserve": str(returned)})
}

func (s *Server) setDefault(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	err = s.engine.SetDefault(r.Context(), auth, id)
	s.observe("set_default", id, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateParams(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req paramsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	update, err := req.update()
	if err != nil {
		writeError(w, err)
		return
	}
	start := s.now()
	err = s.engine.UpdateParameters(r.Context(), auth, id, update)
	s.observe("update_parameters", id, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) claimFees(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	id, err := s.poolID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	var amount *big.Int
	if strings.TrimSpace(req.Amount) != "" {
		if amount, err = parseAmount(req.Amount); err != nil {
			writeError(w, err)
			return
		}
	}
	start := s.now()
	claimed, err := s.engine.ClaimProtocolFees(r.Context(), auth, id, amount, to)
	s.observe("claim_protocol_fees", id, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"claimed": str(claimed)})
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	if err := s.engine.Pause(r.Context(), auth); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unpause(w http.ResponseWriter, r *http.Request) {
	auth, _ := authFrom(r.Context())
	if err := s.engine.Unpause(r.Context(), auth); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	if s.bank == nil {
		http.NotFound(w, r)
		return
	}
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, err := parseAddress(req.Token, "token")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.bank.Mint(asset, to, amount); err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.bank.BalanceOf(asset, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{Token: asset.Hex(), Owner: to.Hex(), Balance: str(balance)})
}
