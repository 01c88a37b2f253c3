package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"cryptonite/internal/web3"
)

// ErrBlockHeightExceeded is returned when the blockhash window expires before
// the signature reaches the requested commitment.
var ErrBlockHeightExceeded = errors.New("block height exceeded, transaction blockhash expired")

// DefaultPollInterval is how often signature statuses are polled while
// awaiting confirmation.
const DefaultPollInterval = 500 * time.Millisecond

// Config describes how to construct a cluster client.
type Config struct {
	Name         string
	RPCURL       string
	Headers      map[string]string
	PollInterval time.Duration
}

// Client implements web3.Ledger plus the read and broadcast calls used by the
// chat intake and the wallet.
type Client struct {
	name     string
	endpoint string
	poll     time.Duration

	mu  sync.Mutex
	rpc *rpc.Client
}

var _ web3.Ledger = (*Client)(nil)

// NewClient returns a client for the configured RPC endpoint. No request is
// made until the first call.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.RPCURL)
	if endpoint == "" {
		return nil, errors.New("未配置 Solana RPC 地址")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	var rpcClient *rpc.Client
	if len(cfg.Headers) > 0 {
		rpcClient = rpc.NewWithHeaders(endpoint, cfg.Headers)
	} else {
		rpcClient = rpc.New(endpoint)
	}
	return &Client{name: cfg.Name, endpoint: endpoint, poll: poll, rpc: rpcClient}, nil
}

// Name returns the cluster name the client was built for.
func (c *Client) Name() string { return c.name }

// Endpoint returns the RPC URL.
func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) conn() (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc == nil {
		return nil, errors.New("solana client closed")
	}
	return c.rpc, nil
}

// LatestBlockhash fetches the blockhash and its validity ceiling.
func (c *Client) LatestBlockhash(ctx context.Context) (web3.BlockhashWindow, error) {
	cl, err := c.conn()
	if err != nil {
		return web3.BlockhashWindow{}, err
	}
	out, err := cl.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return web3.BlockhashWindow{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return web3.BlockhashWindow{}, errors.New("getLatestBlockhash: empty response")
	}
	return web3.BlockhashWindow{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// ConfirmTransaction polls the signature status until it reaches commitment,
// the blockhash window expires, or ctx is done. A landed transaction that
// failed on chain is a definitive answer and is returned without error.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solanago.Signature, window web3.BlockhashWindow, commitment web3.ConfirmationStatus) (web3.Confirmation, error) {
	cl, err := c.conn()
	if err != nil {
		return web3.Confirmation{}, err
	}
	if commitment == web3.StatusUnknown {
		commitment = web3.StatusConfirmed
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		out, err := cl.GetSignatureStatuses(ctx, false, sig)
		if err != nil && !errors.Is(err, rpc.ErrNotFound) {
			return web3.Confirmation{}, fmt.Errorf("getSignatureStatuses: %w", err)
		}
		if status := firstStatus(out); status != nil {
			current := web3.ConfirmationStatus(status.ConfirmationStatus)
			if current.Reaches(commitment) {
				return web3.Confirmation{Status: current, Slot: status.Slot, Err: status.Err}, nil
			}
		}

		height, err := cl.GetBlockHeight(ctx, rpc.CommitmentType(commitment))
		if err != nil {
			return web3.Confirmation{}, fmt.Errorf("getBlockHeight: %w", err)
		}
		if height > window.LastValidBlockHeight {
			return web3.Confirmation{}, ErrBlockHeightExceeded
		}

		select {
		case <-ctx.Done():
			return web3.Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SignatureStatus performs a single status lookup, searching transaction
// history. An unknown signature yields StatusUnknown and no error.
func (c *Client) SignatureStatus(ctx context.Context, sig solanago.Signature) (web3.ConfirmationStatus, error) {
	cl, err := c.conn()
	if err != nil {
		return web3.StatusUnknown, err
	}
	out, err := cl.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return web3.StatusUnknown, nil
		}
		return web3.StatusUnknown, fmt.Errorf("getSignatureStatuses: %w", err)
	}
	status := firstStatus(out)
	if status == nil {
		return web3.StatusUnknown, nil
	}
	return web3.ConfirmationStatus(status.ConfirmationStatus), nil
}

func firstStatus(out *rpc.GetSignatureStatusesResult) *rpc.SignatureStatusesResult {
	if out == nil || len(out.Value) == 0 {
		return nil
	}
	return out.Value[0]
}

// Balance returns the lamport balance of owner.
func (c *Client) Balance(ctx context.Context, owner solanago.PublicKey) (uint64, error) {
	cl, err := c.conn()
	if err != nil {
		return 0, err
	}
	out, err := cl.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getBalance: %w", err)
	}
	if out == nil {
		return 0, errors.New("getBalance: empty response")
	}
	return out.Value, nil
}

type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			TokenAmount struct {
				Amount         string `json:"amount"`
				Decimals       uint8  `json:"decimals"`
				UIAmountString string `json:"uiAmountString"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// tokenPrograms are queried in order; Token-2022 accounts follow classic SPL ones.
var tokenPrograms = []solanago.PublicKey{solanago.TokenProgramID, solanago.Token2022ProgramID}

// TokenHoldings lists the SPL and Token-2022 accounts owned by owner.
func (c *Client) TokenHoldings(ctx context.Context, owner solanago.PublicKey) ([]web3.TokenHolding, error) {
	cl, err := c.conn()
	if err != nil {
		return nil, err
	}
	var holdings []web3.TokenHolding
	for _, program := range tokenPrograms {
		found, err := tokenAccounts(ctx, cl, owner, program)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, found...)
	}
	return holdings, nil
}

func tokenAccounts(ctx context.Context, cl *rpc.Client, owner, program solanago.PublicKey) ([]web3.TokenHolding, error) {
	out, err := cl.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: program.ToPointer()},
		&rpc.GetTokenAccountsOpts{Commitment: rpc.CommitmentConfirmed, Encoding: solanago.EncodingJSONParsed},
	)
	if err != nil {
		return nil, fmt.Errorf("getTokenAccountsByOwner %s: %w", program, err)
	}
	if out == nil {
		return nil, nil
	}

	holdings := make([]web3.TokenHolding, 0, len(out.Value))
	for _, acct := range out.Value {
		if acct == nil || acct.Account.Data == nil {
			continue
		}
		var parsed parsedTokenAccount
		if err := json.Unmarshal(acct.Account.Data.GetRawJSON(), &parsed); err != nil {
			return nil, fmt.Errorf("decode token account %s: %w", acct.Pubkey, err)
		}
		info := parsed.Parsed.Info
		holdings = append(holdings, web3.TokenHolding{
			Account:  acct.Pubkey.String(),
			Mint:     info.Mint,
			Amount:   info.TokenAmount.Amount,
			UIAmount: info.TokenAmount.UIAmountString,
			Decimals: info.TokenAmount.Decimals,
		})
	}
	return holdings, nil
}

// SendTransaction broadcasts an already signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *solanago.Transaction, opts web3.SendOptions) (solanago.Signature, error) {
	cl, err := c.conn()
	if err != nil {
		return solanago.Signature{}, err
	}
	sig, err := cl.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: rpc.CommitmentType(opts.PreflightCommitment),
	})
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("sendTransaction: %w", err)
	}
	return sig, nil
}

// Close releases the underlying HTTP transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc == nil {
		return nil
	}
	err := c.rpc.Close()
	c.rpc = nil
	return err
}
