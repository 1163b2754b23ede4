package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"eurovault/gateway/middleware"
	nativecommon "eurovault/native/common"
	"eurovault/native/oracle"
	"eurovault/native/vault"
)

// Machine-readable error classes returned alongside HTTP statuses.
const (
	codeValidation    = "validation"
	codeState         = "state"
	codeAuthorization = "authorization"
	codeArithmetic    = "arithmetic"
	codeSlippage      = "slippage"
	codeInternal      = "internal"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, nativecommon.ErrUnauthorized):
		writeError(w, http.StatusForbidden, codeAuthorization, err.Error())
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, nativecommon.ErrReentrantCall),
		errors.Is(err, vault.ErrInvalidPrice),
		errors.Is(err, vault.ErrBalanceManipulated),
		errors.Is(err, oracle.ErrFeedRewireUnsupported):
		writeError(w, http.StatusConflict, codeState, err.Error())
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaVolumeExceeded):
		writeError(w, http.StatusTooManyRequests, codeState, err.Error())
	case errors.Is(err, vault.ErrSlippage):
		writeError(w, http.StatusConflict, codeSlippage, err.Error())
	case errors.Is(err, oracle.ErrArithmeticOverflow),
		errors.Is(err, oracle.ErrDivisionByZero),
		errors.Is(err, vault.ErrDivisionByZero):
		writeError(w, http.StatusUnprocessableEntity, codeArithmetic, err.Error())
	case errors.Is(err, oracle.ErrBackendUnknown):
		writeError(w, http.StatusNotFound, codeValidation, err.Error())
	case errors.Is(err, vault.ErrAmountInvalid),
		errors.Is(err, vault.ErrFeeAboveCeiling),
		errors.Is(err, vault.ErrInsufficientIssuance),
		errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, vault.ErrCollateralRatio),
		errors.Is(err, oracle.ErrZeroFeedAddress):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	default:
		s.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func requireCaller(w http.ResponseWriter, r *http.Request) (ethcommon.Address, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok || caller == (ethcommon.Address{}) {
		writeError(w, http.StatusUnauthorized, codeAuthorization, "caller identity required")
		return ethcommon.Address{}, false
	}
	return caller, true
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", trimmed)
	}
	return value, nil
}

func parsePrice(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("value required")
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("malformed value %q", trimmed)
	}
	return value, nil
}

func priceText(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func amountJSON(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type priceResponse struct {
	Price     string    `json:"price"`
	Valid     bool      `json:"valid"`
	UpdatedAt time.Time `json:"updatedAt"`
	Block     uint64    `json:"block"`
}

func (s *Server) handleOraclePrice(w http.ResponseWriter, r *http.Request) {
	price := s.oracle.GetPrice(r.Context())
	writeJSON(w, http.StatusOK, priceResponse{
		Price:     priceText(price.Value),
		Valid:     price.Valid,
		UpdatedAt: price.UpdatedAt,
		Block:     price.Block,
	})
}

func (s *Server) handleOracleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.oracle.Health(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy":          health.Healthy,
		"breakerTriggered": health.BreakerTriggered,
		"feedsFresh":       health.FeedsFresh,
		"activeBackend":    s.oracle.ActiveName(),
	})
}

func (s *Server) handleOracleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.oracle.Config()
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"minBound":         priceText(cfg.MinBound),
		"maxBound":         priceText(cfg.MaxBound),
		"stalenessSeconds": int64(cfg.StalenessLimit / time.Second),
		"driftSeconds":     int64(cfg.DriftLimit / time.Second),
		"toleranceBps":     cfg.ToleranceBps,
		"breakerTriggered": cfg.BreakerTriggered,
	})
}

func (s *Server) handleOracleFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.oracle.Feeds()
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(feeds))
	for _, feed := range feeds {
		out = append(out, map[string]any{
			"address":  feed.Address.Hex(),
			"decimals": feed.Decimals,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": out})
}

func (s *Server) handleUpdateBounds(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		MinBound string `json:"minBound"`
		MaxBound string `json:"maxBound"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	min, err := parsePrice(req.MinBound)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	max, err := parsePrice(req.MaxBound)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if err := s.oracle.UpdateBounds(caller, min, max); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdateTolerance(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		ToleranceBps uint64 `json:"toleranceBps"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if err := s.oracle.UpdateTolerance(caller, req.ToleranceBps); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRewireFeed(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Address  string `json:"address"`
		Decimals uint8  `json:"decimals"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if !ethcommon.IsHexAddress(strings.TrimSpace(req.Address)) {
		writeError(w, http.StatusBadRequest, codeValidation, "feed address must be hex")
		return
	}
	if err := s.oracle.RewireFeed(caller, ethcommon.HexToAddress(req.Address), req.Decimals); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSwitchBackend(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if err := s.oracle.SwitchBackend(caller, strings.TrimSpace(req.Name)); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": s.oracle.ActiveName()})
}

func (s *Server) handleTriggerBreaker(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if err := s.oracle.TriggerBreaker(caller, strings.TrimSpace(req.Reason)); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := s.oracle.ResetBreaker(caller); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mintResponse struct {
	CollateralIn string `json:"collateralIn"`
	IssuedGross  string `json:"issuedGross"`
	Fee          string `json:"fee"`
	IssuedOut    string `json:"issuedOut"`
	Price        string `json:"price"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		CollateralAmount string `json:"collateralAmount"`
		MinIssuedOut     string `json:"minIssuedOut"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	amount, err := parseAmount(req.CollateralAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	var minOut *big.Int
	if strings.TrimSpace(req.MinIssuedOut) != "" {
		if minOut, err = parseAmount(req.MinIssuedOut); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
	}
	result, err := s.vault.Mint(r.Context(), caller, amount, minOut)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mintResponse{
		CollateralIn: amountJSON(result.CollateralIn),
		IssuedGross:  amountJSON(result.IssuedGross),
		Fee:          amountJSON(result.Fee),
		IssuedOut:    amountJSON(result.IssuedOut),
		Price:        amountJSON(result.Price),
	})
}

type redeemResponse struct {
	IssuedIn      string `json:"issuedIn"`
	Fee           string `json:"fee"`
	CollateralOut string `json:"collateralOut"`
	Price         string `json:"price"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		IssuedAmount     string `json:"issuedAmount"`
		MinCollateralOut string `json:"minCollateralOut"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	amount, err := parseAmount(req.IssuedAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	var minOut *big.Int
	if strings.TrimSpace(req.MinCollateralOut) != "" {
		if minOut, err = parseAmount(req.MinCollateralOut); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
	}
	result, err := s.vault.Redeem(r.Context(), caller, amount, minOut)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{
		IssuedIn:      amountJSON(result.IssuedIn),
		Fee:           amountJSON(result.Fee),
		CollateralOut: amountJSON(result.CollateralOut),
		Price:         amountJSON(result.Price),
	})
}

func (s *Server) handleVaultState(w http.ResponseWriter, r *http.Request) {
	state := s.vault.State()
	params := s.vault.Params()
	writeJSON(w, http.StatusOK, map[string]any{
		"totalCollateral":       amountJSON(state.TotalCollateral),
		"totalIssued":           amountJSON(state.TotalIssued),
		"accruedMintFees":       amountJSON(state.AccruedMintFees),
		"accruedRedeemFees":     amountJSON(state.AccruedRedeemFees),
		"mintFeeBps":            params.MintFeeBps,
		"redeemFeeBps":          params.RedeemFeeBps,
		"minCollateralRatioBps": params.MinCollateralRatioBps,
		"paused":                s.vault.Paused(),
	})
}

func (s *Server) handleUpdateFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		MintFeeBps   uint64 `json:"mintFeeBps"`
		RedeemFeeBps uint64 `json:"redeemFeeBps"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if err := s.vault.UpdateFees(caller, req.MintFeeBps, req.RedeemFeeBps); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		To string `json:"to"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if !ethcommon.IsHexAddress(strings.TrimSpace(req.To)) {
		writeError(w, http.StatusBadRequest, codeValidation, "recipient address must be hex")
		return
	}
	result, err := s.vault.WithdrawFees(r.Context(), caller, ethcommon.HexToAddress(req.To))
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"syntheticAmount":  amountJSON(result.SyntheticAmount),
		"collateralAmount": amountJSON(result.CollateralAmount),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := s.vault.Pause(caller); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := s.vault.Unpause(caller); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, "malformed limit")
			return
		}
		limit = parsed
	}
	records, err := s.store.ListEvents(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"id":         rec.ID,
			"type":       rec.Type,
			"attributes": rec.Attributes,
			"recordedAt": rec.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
