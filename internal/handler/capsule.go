package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AlexZinkM/legacy-capsule/capsule"
	"github.com/AlexZinkM/legacy-capsule/internal/cache"
	"github.com/AlexZinkM/legacy-capsule/internal/client"
	"github.com/AlexZinkM/legacy-capsule/internal/common"
	"github.com/AlexZinkM/legacy-capsule/internal/log"
	"github.com/AlexZinkM/legacy-capsule/internal/model"
	"github.com/AlexZinkM/legacy-capsule/internal/store"

	"github.com/gagliardetto/solana-go"
)

// CreateCapsule handles POST /capsules
// @Summary      Create capsule
// @Description  Locks an asset for the owner's heir until the unlock condition holds
// @Tags         capsules
// @Accept       json
// @Produce      json
// @Param        request  body      model.CreateCapsuleRequest  true  "Capsule data"
// @Success      201      {object}  model.CreateCapsuleResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      422      {object}  model.ErrorResponse
// @Failure      502      {object}  model.ErrorResponse
// @Router       /capsules [post]
func (h *CapsuleHandler) CreateCapsule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req model.CreateCapsuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, err.Error())
		return
	}
	ctx := r.Context()

	owner, err := h.cfg.Users.FindByID(ctx, req.OwnerID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	heir, err := h.heirByEmail(ctx, strings.TrimSpace(req.HeirEmail))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if heir.UserID != owner.ID {
		writeFailure(w, fmt.Errorf("heir %s of owner %d: %w", heir.Email, owner.ID, store.ErrNotFound))
		return
	}

	createReq, err := toCreateRequest(req, heir.WalletAddress)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := createReq.Validate(h.cfg.Now()); err != nil {
		writeFailure(w, err)
		return
	}

	svc, wipe, err := h.service(owner.WalletSecret)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer wipe()

	res, err := svc.Create(ctx, createReq)
	if err != nil {
		writeFailure(w, err)
		return
	}

	record := &store.Capsule{
		CapsuleUniqueID: res.CapsuleID,
		CapsuleAddress:  res.Address.String(),
		AssetKind:       createReq.Asset.Kind().String(),
		Status:          model.StatusLocked,
		HeirID:          heir.ID,
		TxSignature:     res.Signature.String(),
	}
	if err := h.cfg.Capsules.Create(ctx, owner.ID, record); err != nil {
		// The capsule exists on the ledger; surface the address so it can be reconciled by hand
		log.API.Error().Err(err).
			Str("capsule_id", res.CapsuleID).
			Str("address", res.Address.String()).
			Str("signature", res.Signature.String()).
			Msg("capsule created on ledger but not stored")
		writeFailure(w, err)
		return
	}
	h.cfg.Cache.Delete(cache.LockedCapsulesKey)

	writeJSON(w, http.StatusCreated, model.CreateCapsuleResponse{
		CapsuleID: res.CapsuleID,
		Address:   res.Address.String(),
		TxID:      res.Signature.String(),
	})
}

// toCreateRequest maps the wire request onto the service's typed request.
func toCreateRequest(req model.CreateCapsuleRequest, beneficiary string) (capsule.CreateRequest, error) {
	var out capsule.CreateRequest

	ben, err := solana.PublicKeyFromBase58(beneficiary)
	if err != nil {
		return out, fmt.Errorf("%w: %v", capsule.ErrInvalidBeneficiary, err)
	}
	out.Beneficiary = ben

	mode, err := capsule.ParseUnlockMode(req.UnlockMode)
	if err != nil {
		return out, err
	}
	out.Unlock = capsule.Unlock{
		Mode:             mode,
		Timestamp:        req.UnlockTimestamp,
		InactivityPeriod: req.InactivityPeriod,
	}

	switch strings.ToLower(req.AssetKind) {
	case client.AssetNative.String():
		out.Asset = capsule.Native{Amount: req.Amount}
	case client.AssetFungible.String():
		mint, err := parseMint(req.Mint)
		if err != nil {
			return out, err
		}
		out.Asset = capsule.Fungible{Mint: mint, Amount: req.Amount}
	case client.AssetNFT.String():
		mint, err := parseMint(req.Mint)
		if err != nil {
			return out, err
		}
		out.Asset = capsule.NFT{Mint: mint}
	case client.AssetDocument.String():
		out.Asset = capsule.Document{URI: req.URI, Format: req.Format}
	case client.AssetMessage.String():
		out.Asset = capsule.Message{Text: req.Message}
	default:
		return out, fmt.Errorf("%w: unknown asset kind %q", capsule.ErrInvalidAsset, req.AssetKind)
	}

	if len(req.Approvers) > 0 {
		approvers := make([]solana.PublicKey, 0, len(req.Approvers))
		for _, a := range req.Approvers {
			pk, err := solana.PublicKeyFromBase58(a)
			if err != nil {
				return out, fmt.Errorf("%w: approver %q: %v", capsule.ErrInvalidMultisig, a, err)
			}
			approvers = append(approvers, pk)
		}
		out.Multisig = &client.Multisig{Approvers: approvers, Threshold: req.Threshold}
	}
	return out, nil
}

func parseMint(s string) (solana.PublicKey, error) {
	mint, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: mint %q: %v", capsule.ErrInvalidAsset, s, err)
	}
	return mint, nil
}

// ReleaseCapsule handles POST /capsules/release
// @Summary      Release capsule
// @Description  Moves the asset of an unlocked capsule to its heir
// @Tags         capsules
// @Accept       json
// @Produce      json
// @Param        request  body      model.ReleaseCapsuleRequest  true  "Release data"
// @Success      200      {object}  model.ReleaseCapsuleResponse
// @Failure      403      {object}  model.ErrorResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      409      {object}  model.ErrorResponse
// @Failure      502      {object}  model.ErrorResponse
// @Router       /capsules/release [post]
func (h *CapsuleHandler) ReleaseCapsule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req model.ReleaseCapsuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, err.Error())
		return
	}
	address, err := solana.PublicKeyFromBase58(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, "invalid capsule address: "+err.Error())
		return
	}
	ctx := r.Context()

	heir, err := h.cfg.Heirs.FindByID(ctx, req.HeirID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	record, err := h.cfg.Capsules.FindByAddress(ctx, address.String())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if record.HeirID != heir.ID {
		writeFailure(w, capsule.ErrNotBeneficiary)
		return
	}

	svc, wipe, err := h.service(heir.WalletSecret)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer wipe()

	res, err := svc.Release(ctx, address)
	if err != nil {
		writeFailure(w, err)
		return
	}

	if err := h.markClaimed(ctx, record); err != nil {
		log.API.Error().Err(err).
			Str("address", record.CapsuleAddress).
			Str("signature", res.Signature.String()).
			Msg("capsule released on ledger but status not updated")
	}

	writeJSON(w, http.StatusOK, model.ReleaseCapsuleResponse{
		CapsuleID: res.CapsuleID,
		Address:   res.Address.String(),
		AssetKind: res.Kind.String(),
		TxID:      res.Signature.String(),
	})
}

// markClaimed walks record forward to claimed. A release can land before the
// scheduler marked the capsule pending; such a capsule goes straight to
// claimed in one update so the scheduler never emails credentials for it.
func (h *CapsuleHandler) markClaimed(ctx context.Context, record *model.CapsuleJoinRecord) error {
	switch record.Status {
	case model.StatusClaimed:
		return nil
	case model.StatusPending:
		return h.cfg.Capsules.UpdateStatus(ctx, record.CapsuleID, model.StatusClaimed)
	}
	if err := h.cfg.Capsules.MarkClaimed(ctx, record.CapsuleID, h.cfg.Now()); err != nil {
		return err
	}
	h.cfg.Cache.Delete(cache.LockedCapsulesKey)
	return nil
}

// Checkin handles POST /capsules/checkin
// @Summary      Owner check-in
// @Description  Records owner activity, restarting the inactivity period of a capsule
// @Tags         capsules
// @Accept       json
// @Produce      json
// @Param        request  body      model.CheckinRequest  true  "Check-in data"
// @Success      200      {object}  model.CheckinResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      502      {object}  model.ErrorResponse
// @Router       /capsules/checkin [post]
func (h *CapsuleHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req model.CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, err.Error())
		return
	}
	if req.CapsuleID == "" {
		writeError(w, http.StatusBadRequest, model.CodeValidation, "capsuleId is required")
		return
	}

	owner, err := h.cfg.Users.FindByID(r.Context(), req.OwnerID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	svc, wipe, err := h.service(owner.WalletSecret)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer wipe()

	sig, err := svc.Checkin(r.Context(), req.CapsuleID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.CheckinResponse{TxID: sig.String()})
}

// LookupCapsule handles GET /capsules/lookup
// @Summary      Look up capsule
// @Description  Returns the stored record of a capsule with its current ledger state
// @Tags         capsules
// @Produce      json
// @Param        address  query     string  true  "Capsule address"
// @Success      200      {object}  model.CapsuleLookupResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      404      {object}  model.ErrorResponse
// @Router       /capsules/lookup [get]
func (h *CapsuleHandler) LookupCapsule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	address, err := solana.PublicKeyFromBase58(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, "invalid capsule address: "+err.Error())
		return
	}
	ctx := r.Context()

	record, err := h.cfg.Capsules.FindByAddress(ctx, address.String())
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp := model.CapsuleLookupResponse{
		CapsuleID: record.CapsuleUniqueID,
		Address:   record.CapsuleAddress,
		AssetKind: record.AssetKind,
		Status:    record.Status,
		HeirEmail: record.HeirEmail,
	}

	acct, err := h.cfg.Reader.FetchCapsuleAccount(ctx, address)
	switch {
	case errors.Is(err, client.ErrAccountNotFound):
		// Closed by release
	case err != nil:
		writeFailure(w, err)
		return
	default:
		resp.OnLedger = true
		resp.IsLocked = acct.IsLocked
		resp.ConditionMet = acct.ConditionMet(h.cfg.Now())
		resp.UnlockMode = acct.UnlockMode.String()
		resp.UnlockAt = unlockAt(acct)
		resp.Amount = formatAmount(acct)
	}
	writeJSON(w, http.StatusOK, resp)
}

// unlockAt is the instant the condition starts to hold, as of the last check-in.
func unlockAt(acct *client.CapsuleAccount) *time.Time {
	var at time.Time
	switch {
	case acct.UnlockMode == client.UnlockTimeBased && acct.UnlockTimestamp != nil:
		at = time.Unix(*acct.UnlockTimestamp, 0).UTC()
	case acct.UnlockMode == client.UnlockInactivityBased && acct.InactivityPeriod != nil && acct.LastCheckin != nil:
		at = time.Unix(*acct.LastCheckin+*acct.InactivityPeriod, 0).UTC()
	default:
		return nil
	}
	return &at
}

func formatAmount(acct *client.CapsuleAccount) string {
	if acct.Amount == nil {
		return ""
	}
	if acct.AssetKind == client.AssetNative {
		return common.LamportsToSOL(*acct.Amount)
	}
	return strconv.FormatUint(*acct.Amount, 10)
}
