// Package wallet 实现钱包能力面后端：余额与持仓、交易历史、优先费估算
// 以及转账交易构造。后端通过 go-ethereum 访问 EVM 节点；未配置节点时
// 可退化为离线样例链，保证流水线在无节点环境下可用。
//
// 交易构造只产出未签名载荷，签名与广播始终由持有私钥的外部签名器完成。
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"Aegis-MCP/internal/backend"
	"Aegis-MCP/internal/tool"
)

// chainReader 聚合后端用到的链上只读能力，*ethclient.Client 与离线
// 样例链都满足该接口。
type chainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*coretypes.Block, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*gethcore.FeeHistory, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenConfig 描述持仓观察列表中的一个 ERC-20 代币。
type TokenConfig struct {
	Contract string `json:"contract" yaml:"contract"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// Config 描述钱包后端的构造参数。
type Config struct {
	RPCURL        string        `json:"rpc_url"`
	NativeSymbol  string        `json:"native_symbol"`
	Tokens        []TokenConfig `json:"tokens"`
	HistoryBlocks uint64        `json:"history_blocks"`
}

const (
	defaultNativeSymbol  = "ETH"
	defaultHistoryBlocks = 10
	defaultHistoryLimit  = 50
	feeHistoryBlocks     = 10

	nativeContract = "native"

	gasLimitNativeTransfer = 21000
	gasLimitTokenTransfer  = 65000
)

// Backend 是钱包能力面后端。
type Backend struct {
	reader        chainReader
	rpcClient     *gethrpc.Client
	nativeSymbol  string
	tokens        []TokenConfig
	historyBlocks uint64
}

// New 连接配置的 RPC 节点并返回后端。
func New(ctx context.Context, cfg Config) (*Backend, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	b := newWithReader(ethclient.NewClient(rpcClient), cfg)
	b.rpcClient = rpcClient
	return b, nil
}

// NewOffline 返回以内置样例链工作的离线后端。
func NewOffline(cfg Config) *Backend {
	return newWithReader(newFixtureChain(), cfg)
}

func newWithReader(reader chainReader, cfg Config) *Backend {
	symbol := strings.TrimSpace(cfg.NativeSymbol)
	if symbol == "" {
		symbol = defaultNativeSymbol
	}
	blocks := cfg.HistoryBlocks
	if blocks == 0 {
		blocks = defaultHistoryBlocks
	}
	return &Backend{
		reader:        reader,
		nativeSymbol:  symbol,
		tokens:        append([]TokenConfig(nil), cfg.Tokens...),
		historyBlocks: blocks,
	}
}

// Close 释放节点连接。
func (b *Backend) Close() {
	if b.rpcClient != nil {
		b.rpcClient.Close()
		b.rpcClient = nil
	}
}

// Name 实现 tool.Invoker。
func (b *Backend) Name() string { return "wallet" }

// Descriptors 实现 tool.Invoker。
func (b *Backend) Descriptors() []tool.Descriptor {
	addressSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"address": map[string]any{"type": "string", "description": "wallet address, defaults to the caller's wallet"},
		},
	}
	return []tool.Descriptor{
		{Name: "get_wallet_portfolio", Description: "读取钱包持仓：原生余额、代币余额与链快照", InputSchema: addressSchema},
		{Name: "get_token_balances", Description: "读取代币余额列表", InputSchema: addressSchema},
		{
			Name:        "get_transaction_history",
			Description: "扫描近若干区块，返回与地址相关的交易",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"address": map[string]any{"type": "string", "description": "wallet address, defaults to the caller's wallet"},
					"limit":   map[string]any{"type": "integer", "description": "maximum number of transactions"},
				},
			},
		},
		{
			Name:        "get_priority_fee_estimate",
			Description: "基于近期区块的小费分位数估算各档优先费",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "build_transfer_transaction",
			Description: "构造未签名的转账交易（写操作，须经确认与外部签名）",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to_address":     map[string]any{"type": "string", "description": "recipient address"},
					"amount_wei":     map[string]any{"type": "string", "description": "amount in wei or token base units, decimal string"},
					"token_contract": map[string]any{"type": "string", "description": "ERC-20 contract, omit for the native asset"},
					"from_address":   map[string]any{"type": "string", "description": "sender address, defaults to the caller's wallet"},
				},
				"required": []string{"to_address", "amount_wei"},
			},
		},
	}
}

// Invoke 实现 tool.Invoker。
func (b *Backend) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	switch toolName {
	case "get_wallet_portfolio":
		return b.portfolio(ctx, requiredAddress(args))
	case "get_token_balances":
		portfolio, err := b.portfolio(ctx, requiredAddress(args))
		if err != nil {
			return nil, err
		}
		return portfolio.Tokens, nil
	case "get_transaction_history":
		return b.transactionHistory(ctx, requiredAddress(args), backend.IntArg(args, "limit", defaultHistoryLimit))
	case "get_priority_fee_estimate":
		return b.priorityFeeEstimate(ctx)
	case "build_transfer_transaction":
		return b.buildTransfer(ctx, args)
	default:
		return nil, fmt.Errorf("钱包后端不提供工具 %s", toolName)
	}
}

// requiredAddress 取出地址参数，调用层注入的 address 作为兜底。
func requiredAddress(args map[string]any) string {
	return backend.StringArg(args, "address")
}

func parseAddress(value, field string) (common.Address, error) {
	if value == "" {
		return common.Address{}, fmt.Errorf("缺少参数 %s", field)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("非法的以太坊地址: %s", value)
	}
	return common.HexToAddress(value), nil
}

// parseAmount 解析十进制金额。字符串优先，兼容 JSON 数字。
func parseAmount(args map[string]any, key string) (*big.Int, error) {
	if raw := backend.StringArg(args, key); raw != "" {
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("非法的金额: %s", raw)
		}
		return amount, nil
	}
	if value := backend.FloatArg(args, key, -1); value > 0 {
		return big.NewInt(int64(value)), nil
	}
	return nil, fmt.Errorf("缺少参数 %s", key)
}

var _ tool.Invoker = (*Backend)(nil)
