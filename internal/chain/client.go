// Package chain implements the EVM transfer backend used by settlement:
// native ETH transfers and ERC-20 token transfers against a fixed contract
// address per currency.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const erc20ABI = `[
	{
		"constant": false,
		"inputs": [
			{"name": "recipient", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

const nativeTransferGas = 21000

// Backend is the currency-agnostic transfer port settlement talks to.
type Backend interface {
	SendNative(ctx context.Context, to common.Address, amount *big.Int) (string, error)
	SendToken(ctx context.Context, token, to common.Address, amount *big.Int) (string, error)
}

// Client is the go-ethereum backed implementation of Backend. It signs with a
// single hot-wallet key and submits through one RPC endpoint.
type Client struct {
	eth      *ethclient.Client
	priv     *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	tokenABI abi.ABI
	log      *zap.Logger
}

func Dial(ctx context.Context, rpcURL, privateKeyHex string, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC: %w", err)
	}

	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}

	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	from := crypto.PubkeyToAddress(priv.PublicKey)
	log.Info("EVM backend connected",
		zap.String("rpc", rpcURL),
		zap.String("from", from.Hex()),
		zap.String("chain_id", chainID.String()),
	)

	return &Client{
		eth:      eth,
		priv:     priv,
		from:     from,
		chainID:  chainID,
		tokenABI: tokenABI,
		log:      log,
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) SendNative(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	return c.submit(ctx, to, amount, nil)
}

func (c *Client) SendToken(ctx context.Context, token, to common.Address, amount *big.Int) (string, error) {
	data, err := c.tokenABI.Pack("transfer", to, amount)
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer call: %w", err)
	}
	return c.submit(ctx, token, big.NewInt(0), data)
}

func (c *Client) submit(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}

	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas tip cap: %w", err)
	}

	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch head block: %w", err)
	}
	// Fee cap covers two consecutive base-fee increases plus the tip.
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gasLimit := uint64(nativeTransferGas)
	if len(data) > 0 {
		gasLimit, err = c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  c.from,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return "", fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gasLimit,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	c.log.Info("transaction broadcast",
		zap.String("tx_hash", hash),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
	)
	return hash, nil
}

// IsValidAddress reports whether s is a well-formed hex chain address.
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}
