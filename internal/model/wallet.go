package model

// WalletRequest represents request for POST /wallets
type WalletRequest struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	// Role is "owner" or "heir". Heirs must name the owner's user id.
	Role   string `json:"role"`
	UserID uint   `json:"userId,omitempty"`
}

// WalletResponse represents response for POST /wallets
type WalletResponse struct {
	ID      uint   `json:"id"`
	Role    string `json:"role"`
	Address string `json:"address"`
	QR      string `json:"QR"`
}

// WalletInfoResponse represents response for GET /wallets/info
type WalletInfoResponse struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
	// Token fields are set when a mint was asked for
	Mint        string `json:"mint,omitempty"`
	TokenAmount string `json:"tokenAmount,omitempty"`
	TokenRaw    uint64 `json:"tokenRaw,omitempty"`
	Decimals    uint8  `json:"decimals,omitempty"`
}

// TransferRequest represents request for POST /wallets/transfer, /wallets/transfer-spl
// and /wallets/transfer-nft. Exactly one of UserID and HeirID names the sending wallet.
type TransferRequest struct {
	UserID      uint   `json:"userId,omitempty"`
	HeirID      uint   `json:"heirId,omitempty"`
	Destination string `json:"destination"`
	Amount      string `json:"amount,omitempty"`
	Mint        string `json:"mint,omitempty"`
}

// TransferResponse represents response for POST /wallets/transfer...
type TransferResponse struct {
	TxID string `json:"txId"`
}
