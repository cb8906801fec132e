package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/AlexZinkM/legacy-capsule/capsule"
	"github.com/AlexZinkM/legacy-capsule/internal/common"
	"github.com/AlexZinkM/legacy-capsule/internal/model"
	"github.com/AlexZinkM/legacy-capsule/internal/store"

	"github.com/gagliardetto/solana-go"
)

const (
	roleOwner = "owner"
	roleHeir  = "heir"
)

// CreateWallet handles POST /wallets
// @Summary      Generate custodial wallet
// @Description  Generates a wallet for a new owner or heir and stores its sealed key
// @Tags         wallets
// @Accept       json
// @Produce      json
// @Param        request  body      model.WalletRequest  true  "Wallet holder"
// @Success      201      {object}  model.WalletResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      409      {object}  model.ErrorResponse
// @Router       /wallets [post]
func (h *CapsuleHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req model.WalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, "invalid email: "+err.Error())
		return
	}
	ctx := r.Context()

	switch req.Role {
	case roleOwner:
		wallet, err := capsule.GenerateWallet(h.cfg.Keys)
		if err != nil {
			writeFailure(w, err)
			return
		}
		u := &store.User{
			Fullname:      req.Fullname,
			Email:         req.Email,
			WalletAddress: wallet.Address,
			WalletSecret:  wallet.EncryptedSecret,
		}
		if err := h.cfg.Users.Create(ctx, u); err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, model.WalletResponse{ID: u.ID, Role: req.Role, Address: wallet.Address, QR: wallet.QRCode})
	case roleHeir:
		if _, err := h.cfg.Users.FindByID(ctx, req.UserID); err != nil {
			writeFailure(w, err)
			return
		}
		wallet, err := capsule.GenerateWallet(h.cfg.Keys)
		if err != nil {
			writeFailure(w, err)
			return
		}
		heir := &store.Heir{
			UserID:        req.UserID,
			Fullname:      req.Fullname,
			Email:         req.Email,
			WalletAddress: wallet.Address,
			WalletSecret:  wallet.EncryptedSecret,
		}
		if err := h.cfg.Heirs.Create(ctx, heir); err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, model.WalletResponse{ID: heir.ID, Role: req.Role, Address: wallet.Address, QR: wallet.QRCode})
	default:
		writeError(w, http.StatusBadRequest, model.CodeValidation, `role must be "owner" or "heir"`)
	}
}

var errWalletHolder = errors.New("exactly one of userId and heirId is required")

// holderSecret returns the sealed key of the owner or heir wallet named by
// userID or heirID.
func (h *CapsuleHandler) holderSecret(ctx context.Context, userID, heirID uint) (string, error) {
	switch {
	case userID != 0 && heirID == 0:
		u, err := h.cfg.Users.FindByID(ctx, userID)
		if err != nil {
			return "", err
		}
		return u.WalletSecret, nil
	case heirID != 0 && userID == 0:
		heir, err := h.cfg.Heirs.FindByID(ctx, heirID)
		if err != nil {
			return "", err
		}
		return heir.WalletSecret, nil
	}
	return "", errWalletHolder
}

func parseID(s string) (uint, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(s, 10, 32)
	return uint(id), err
}

// WalletInfo handles GET /wallets/info
// @Summary      Wallet balance
// @Description  Returns the SOL balance of an owner or heir wallet and, with mint, its token balance
// @Tags         wallets
// @Produce      json
// @Param        userId  query     int     false  "Owner id"
// @Param        heirId  query     int     false  "Heir id"
// @Param        mint    query     string  false  "Token mint"
// @Success      200     {object}  model.WalletInfoResponse
// @Failure      400     {object}  model.ErrorResponse
// @Failure      404     {object}  model.ErrorResponse
// @Router       /wallets/info [get]
func (h *CapsuleHandler) WalletInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	userID, err := parseID(q.Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, "invalid userId")
		return
	}
	heirID, err := parseID(q.Get("heirId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, "invalid heirId")
		return
	}
	var mint *solana.PublicKey
	if m := q.Get("mint"); m != "" {
		pk, err := parseMint(m)
		if err != nil {
			writeFailure(w, err)
			return
		}
		mint = &pk
	}
	ctx := r.Context()

	sealed, err := h.holderSecret(ctx, userID, heirID)
	if err != nil {
		writeHolderFailure(w, err)
		return
	}
	svc, wipe, err := h.service(sealed)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer wipe()

	bal, err := svc.Balance(ctx, mint)
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp := model.WalletInfoResponse{
		Address:  bal.Address.String(),
		Lamports: bal.Lamports,
		SOL:      common.LamportsToSOL(bal.Lamports),
	}
	if bal.Token != nil {
		resp.Mint = bal.Token.Mint.String()
		resp.TokenRaw = bal.Token.Amount
		resp.Decimals = bal.Token.Decimals
		resp.TokenAmount = common.FormatUnits(bal.Token.Amount, bal.Token.Decimals)
	}
	writeJSON(w, http.StatusOK, resp)
}

// TransferSOL handles POST /wallets/transfer
// @Summary      Transfer SOL
// @Description  Sends SOL from an owner or heir wallet
// @Tags         wallets
// @Accept       json
// @Produce      json
// @Param        request  body      model.TransferRequest  true  "Transfer data"
// @Success      200      {object}  model.TransferResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      422      {object}  model.ErrorResponse
// @Failure      502      {object}  model.ErrorResponse
// @Router       /wallets/transfer [post]
func (h *CapsuleHandler) TransferSOL(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, func(req model.TransferRequest) (capsule.Asset, error) {
		return capsule.Native{Amount: req.Amount}, nil
	})
}

// TransferSPL handles POST /wallets/transfer-spl
// @Summary      Transfer SPL tokens
// @Description  Sends tokens of a mint from an owner or heir wallet, creating the destination token account when needed
// @Tags         wallets
// @Accept       json
// @Produce      json
// @Param        request  body      model.TransferRequest  true  "Transfer data"
// @Success      200      {object}  model.TransferResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      422      {object}  model.ErrorResponse
// @Failure      502      {object}  model.ErrorResponse
// @Router       /wallets/transfer-spl [post]
func (h *CapsuleHandler) TransferSPL(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, func(req model.TransferRequest) (capsule.Asset, error) {
		mint, err := parseMint(req.Mint)
		if err != nil {
			return nil, err
		}
		return capsule.Fungible{Mint: mint, Amount: req.Amount}, nil
	})
}

// TransferNFT handles POST /wallets/transfer-nft
// @Summary      Transfer NFT
// @Description  Sends an NFT from an owner or heir wallet
// @Tags         wallets
// @Accept       json
// @Produce      json
// @Param        request  body      model.TransferRequest  true  "Transfer data"
// @Success      200      {object}  model.TransferResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      422      {object}  model.ErrorResponse
// @Failure      502      {object}  model.ErrorResponse
// @Router       /wallets/transfer-nft [post]
func (h *CapsuleHandler) TransferNFT(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, func(req model.TransferRequest) (capsule.Asset, error) {
		mint, err := parseMint(req.Mint)
		if err != nil {
			return nil, err
		}
		return capsule.NFT{Mint: mint}, nil
	})
}

func (h *CapsuleHandler) transfer(w http.ResponseWriter, r *http.Request, asset func(model.TransferRequest) (capsule.Asset, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req model.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, err.Error())
		return
	}
	dest, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Destination))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, "invalid destination: "+err.Error())
		return
	}
	a, err := asset(req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	ctx := r.Context()

	sealed, err := h.holderSecret(ctx, req.UserID, req.HeirID)
	if err != nil {
		writeHolderFailure(w, err)
		return
	}
	svc, wipe, err := h.service(sealed)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer wipe()

	sig, err := svc.Transfer(ctx, capsule.TransferRequest{Destination: dest, Asset: a})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TransferResponse{TxID: sig.String()})
}

func writeHolderFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, errWalletHolder) {
		writeError(w, http.StatusBadRequest, model.CodeValidation, err.Error())
		return
	}
	writeFailure(w, err)
}
