package client

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// fakeRPC is an in-memory stand-in for the JSON-RPC endpoint.
type fakeRPC struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	lamports map[solana.PublicKey]uint64
	tokens   map[solana.PublicKey]uint64

	sendErr   error
	statusErr interface{}
	pending   bool

	sent []*solana.Transaction
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		accounts: make(map[solana.PublicKey][]byte),
		lamports: make(map[solana.PublicKey]uint64),
		tokens:   make(map[solana.PublicKey]uint64),
	}
}

func (f *fakeRPC) setAccount(addr solana.PublicKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = data
}

func (f *fakeRPC) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)},
	}, nil
}

func (f *fakeRPC) GetBalance(_ context.Context, account solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &rpc.GetBalanceResult{Value: f.lamports[account]}, nil
}

func (f *fakeRPC) GetTokenAccountBalance(_ context.Context, account solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	amount, ok := f.tokens[account]
	if !ok {
		return nil, errors.New("could not find account")
	}
	return &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: strconv.FormatUint(amount, 10)},
	}, nil
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1}},
	}, nil
}

func (f *fakeRPC) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeRPC) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{{
			Err:                f.statusErr,
			ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
		}},
	}, nil
}
