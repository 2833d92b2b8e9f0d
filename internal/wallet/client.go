package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	connectAttempts  = 3
	receiptPollDelay = 2 * time.Second
)

// Client is the ethclient-backed Provider. Signing is local: the key loaded
// at connect time plays the browser wallet's role.
type Client struct {
	rpc     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	account common.Address
	logger  *zap.Logger
}

// Connect dials the RPC endpoint from BSC_RPC_URL and loads the signing key
// from WALLET_PRIVATE_KEY. Dial failures are retried a bounded number of
// times with growing delay.
func Connect(ctx context.Context, logger *zap.Logger) (*Client, error) {
	godotenv.Load()

	url := os.Getenv("BSC_RPC_URL")
	if url == "" {
		return nil, fmt.Errorf("BSC_RPC_URL not set in .env")
	}

	keyHex := os.Getenv("WALLET_PRIVATE_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY not set in .env")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	var rpc *ethclient.Client
	var chainID *big.Int

	attempt := 0
	operation := func() error {
		attempt++
		rpc, err = ethclient.DialContext(ctx, url)
		if err != nil {
			logger.Warn("rpc dial failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		chainID, err = rpc.ChainID(ctx)
		if err != nil {
			rpc.Close()
			logger.Warn("chain id query failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectAttempts-1)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("connect after %d attempts: %w", attempt, err)
	}

	account := crypto.PubkeyToAddress(key.PublicKey)
	logger.Info("wallet connected",
		zap.String("account", account.Hex()),
		zap.String("chain_id", chainID.String()))

	return &Client{
		rpc:     rpc,
		chainID: chainID,
		key:     key,
		account: account,
		logger:  logger,
	}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) Account() common.Address {
	return c.account
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	return c.rpc.CallContract(ctx, msg, nil)
}

func (c *Client) EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	msg := ethereum.CallMsg{
		From:  c.account,
		To:    &to,
		Data:  data,
		Value: big.NewInt(0),
	}
	return c.rpc.EstimateGas(ctx, msg)
}

func (c *Client) SuggestFees(ctx context.Context) (*FeeData, error) {
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	fees := &FeeData{GasPrice: gasPrice}

	head, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	if head.BaseFee != nil {
		tip, err := c.rpc.SuggestGasTipCap(ctx)
		if err != nil {
			// node without eth_maxPriorityFeePerGas, stay legacy
			return fees, nil
		}
		fees.MaxPriorityFeePerGas = tip
		fees.MaxFeePerGas = new(big.Int).Add(
			new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
			tip,
		)
	}
	return fees, nil
}

func (c *Client) SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error) {
	nonce, err := c.rpc.PendingNonceAt(ctx, c.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	var tx *types.Transaction
	if req.Type == types.DynamicFeeTxType {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			To:        &req.To,
			Value:     value,
			Gas:       req.GasLimit,
			GasTipCap: req.MaxPriorityFeePerGas,
			GasFeeCap: req.MaxFeePerGas,
			Data:      req.Data,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &req.To,
			Value:    value,
			Gas:      req.GasLimit,
			GasPrice: req.GasPrice,
			Data:     req.Data,
		})
	}

	signer := types.LatestSignerForChainID(c.chainID)
	signedTx, err := types.SignTx(tx, signer, c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, err
	}
	return signedTx.Hash(), nil
}

func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Receipt{
				TxHash:            receipt.TxHash,
				Status:            receipt.Status,
				GasUsed:           receipt.GasUsed,
				EffectiveGasPrice: receipt.EffectiveGasPrice,
			}, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receiptPollDelay):
		}
	}
}

func (c *Client) NativeBalance(ctx context.Context) (*big.Int, error) {
	return c.rpc.BalanceAt(ctx, c.account, nil)
}
