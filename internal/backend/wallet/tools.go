package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"Aegis-MCP/internal/backend"
	"Aegis-MCP/pkg/logger"
)

// ERC-20 调用选择子。
var (
	selectorBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	selectorTransfer  = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
)

// TokenBalance 是一项代币余额。
type TokenBalance struct {
	Contract   string  `json:"contract"`
	Symbol     string  `json:"symbol"`
	Decimals   int     `json:"decimals"`
	BalanceRaw string  `json:"balanceRaw"`
	Balance    float64 `json:"balance"`
}

// Portfolio 是钱包持仓快照。
type Portfolio struct {
	Address     string         `json:"address"`
	ChainID     string         `json:"chainId"`
	BlockNumber uint64         `json:"blockNumber"`
	Tokens      []TokenBalance `json:"tokens"`
	LastUpdated string         `json:"lastUpdated"`
}

func (b *Backend) portfolio(ctx context.Context, address string) (Portfolio, error) {
	account, err := parseAddress(address, "address")
	if err != nil {
		return Portfolio{}, err
	}

	chainID, err := b.reader.ChainID(ctx)
	if err != nil {
		return Portfolio{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := b.reader.BlockNumber(ctx)
	if err != nil {
		return Portfolio{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	nativeBalance, err := b.reader.BalanceAt(ctx, account, nil)
	if err != nil {
		return Portfolio{}, fmt.Errorf("查询余额失败: %w", err)
	}

	tokens := []TokenBalance{{
		Contract:   nativeContract,
		Symbol:     b.nativeSymbol,
		Decimals:   18,
		BalanceRaw: nativeBalance.String(),
		Balance:    toUnit(nativeBalance, 18),
	}}

	// 单个代币查询失败只跳过该代币，不拖垮整个持仓快照。
	for _, token := range b.tokens {
		balance, err := b.erc20Balance(ctx, token, account)
		if err != nil {
			logger.Named("backend.wallet").Warn("查询代币余额失败",
				"contract", token.Contract, "error", err)
			continue
		}
		tokens = append(tokens, balance)
	}

	return Portfolio{
		Address:     account.Hex(),
		ChainID:     chainID.String(),
		BlockNumber: blockNumber,
		Tokens:      tokens,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (b *Backend) erc20Balance(ctx context.Context, token TokenConfig, account common.Address) (TokenBalance, error) {
	contract, err := parseAddress(token.Contract, "contract")
	if err != nil {
		return TokenBalance{}, err
	}
	data := append(append([]byte(nil), selectorBalanceOf...), common.LeftPadBytes(account.Bytes(), 32)...)
	ret, err := b.reader.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return TokenBalance{}, err
	}
	raw := new(big.Int).SetBytes(ret)
	return TokenBalance{
		Contract:   contract.Hex(),
		Symbol:     token.Symbol,
		Decimals:   token.Decimals,
		BalanceRaw: raw.String(),
		Balance:    toUnit(raw, token.Decimals),
	}, nil
}

// HistoryEntry 是一条与地址相关的链上交易。
type HistoryEntry struct {
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   string `json:"timestamp"`
	From        string `json:"from"`
	To          string `json:"to,omitempty"`
	ValueWei    string `json:"valueWei"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// transactionHistory 自最新区块向前扫描 historyBlocks 个区块，过滤出
// 发送方或接收方为指定地址的交易。
func (b *Backend) transactionHistory(ctx context.Context, address string, limit int) ([]HistoryEntry, error) {
	account, err := parseAddress(address, "address")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	chainID, err := b.reader.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	latest, err := b.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块高度失败: %w", err)
	}

	signer := coretypes.LatestSignerForChainID(chainID)
	start := int64(latest) - int64(b.historyBlocks) + 1
	if start < 0 {
		start = 0
	}

	entries := make([]HistoryEntry, 0, limit)
	for number := int64(latest); number >= start && len(entries) < limit; number-- {
		block, err := b.reader.BlockByNumber(ctx, big.NewInt(number))
		if err != nil {
			return nil, fmt.Errorf("读取区块 %d 失败: %w", number, err)
		}
		for _, tx := range block.Transactions() {
			if len(entries) >= limit {
				break
			}
			from, err := coretypes.Sender(signer, tx)
			if err != nil {
				continue
			}
			to := tx.To()
			if from != account && (to == nil || *to != account) {
				continue
			}
			entries = append(entries, historyEntry(tx, from, to, block, b.nativeSymbol))
		}
	}
	return entries, nil
}

func historyEntry(tx *coretypes.Transaction, from common.Address, to *common.Address, block *coretypes.Block, symbol string) HistoryEntry {
	entry := HistoryEntry{
		Hash:        tx.Hash().Hex(),
		BlockNumber: block.NumberU64(),
		Timestamp:   time.Unix(int64(block.Time()), 0).UTC().Format(time.RFC3339),
		From:        from.Hex(),
		ValueWei:    tx.Value().String(),
	}
	switch {
	case to == nil:
		entry.Type = "CONTRACT_CREATE"
		entry.Description = fmt.Sprintf("contract creation by %s", shortAddr(from))
	case len(tx.Data()) > 0:
		entry.To = to.Hex()
		entry.Type = "CONTRACT_CALL"
		entry.Description = fmt.Sprintf("contract call %s -> %s", shortAddr(from), shortAddr(*to))
	default:
		entry.To = to.Hex()
		entry.Type = "TRANSFER"
		entry.Description = fmt.Sprintf("%.6f %s %s -> %s", toUnit(tx.Value(), 18), symbol, shortAddr(from), shortAddr(*to))
	}
	return entry
}

// FeeEstimate 是各档优先费估算，单位 wei。
type FeeEstimate struct {
	Min        uint64 `json:"min"`
	Low        uint64 `json:"low"`
	Medium     uint64 `json:"medium"`
	High       uint64 `json:"high"`
	VeryHigh   uint64 `json:"veryHigh"`
	UnsafeMax  uint64 `json:"unsafeMax"`
	BaseFeeWei string `json:"baseFeeWei"`
}

// priorityFeeEstimate 用近 feeHistoryBlocks 个区块的小费分位数聚合出
// 各档位：min 取 p10 最小值，low/medium/high/veryHigh 取对应分位数的
// 均值，unsafeMax 为 veryHigh 的两倍。
func (b *Backend) priorityFeeEstimate(ctx context.Context) (FeeEstimate, error) {
	history, err := b.reader.FeeHistory(ctx, feeHistoryBlocks, nil, []float64{10, 25, 50, 75, 95})
	if err != nil {
		return FeeEstimate{}, fmt.Errorf("获取费用历史失败: %w", err)
	}

	estimate := FeeEstimate{BaseFeeWei: "0"}
	if n := len(history.BaseFee); n > 0 {
		estimate.BaseFeeWei = history.BaseFee[n-1].String()
	}
	if len(history.Reward) == 0 {
		// 节点未返回奖励数据时退回保守默认档位。
		estimate.Low = 1_000_000_000
		estimate.Medium = 1_500_000_000
		estimate.High = 2_000_000_000
		estimate.VeryHigh = 3_000_000_000
		estimate.UnsafeMax = 6_000_000_000
		return estimate, nil
	}

	estimate.Min = columnMin(history.Reward, 0)
	estimate.Low = columnAvg(history.Reward, 1)
	estimate.Medium = columnAvg(history.Reward, 2)
	estimate.High = columnAvg(history.Reward, 3)
	estimate.VeryHigh = columnAvg(history.Reward, 4)
	estimate.UnsafeMax = estimate.VeryHigh * 2
	return estimate, nil
}

func columnMin(rows [][]*big.Int, col int) uint64 {
	var minimum uint64
	found := false
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		value := row[col].Uint64()
		if !found || value < minimum {
			minimum = value
			found = true
		}
	}
	return minimum
}

func columnAvg(rows [][]*big.Int, col int) uint64 {
	sum := new(big.Int)
	count := 0
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		sum.Add(sum, row[col])
		count++
	}
	if count == 0 {
		return 0
	}
	return sum.Div(sum, big.NewInt(int64(count))).Uint64()
}

// TransferPayload 是未签名的转账交易载荷，签名与广播由外部签名器完成。
type TransferPayload struct {
	Transaction             string `json:"transaction"`
	Type                    string `json:"type"`
	ChainID                 string `json:"chainId"`
	From                    string `json:"from"`
	To                      string `json:"to"`
	AmountWei               string `json:"amountWei"`
	TokenContract           string `json:"tokenContract,omitempty"`
	Nonce                   uint64 `json:"nonce"`
	GasLimit                uint64 `json:"gasLimit"`
	MaxFeePerGasWei         string `json:"maxFeePerGasWei"`
	MaxPriorityFeePerGasWei string `json:"maxPriorityFeePerGasWei"`
}

func (b *Backend) buildTransfer(ctx context.Context, args map[string]any) (TransferPayload, error) {
	fromRaw := backend.StringArg(args, "from_address")
	if fromRaw == "" {
		fromRaw = backend.StringArg(args, "address")
	}
	from, err := parseAddress(fromRaw, "from_address")
	if err != nil {
		return TransferPayload{}, err
	}
	to, err := parseAddress(backend.StringArg(args, "to_address"), "to_address")
	if err != nil {
		return TransferPayload{}, err
	}
	amount, err := parseAmount(args, "amount_wei")
	if err != nil {
		return TransferPayload{}, err
	}

	chainID, err := b.reader.ChainID(ctx)
	if err != nil {
		return TransferPayload{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	nonce, err := b.reader.PendingNonceAt(ctx, from)
	if err != nil {
		return TransferPayload{}, fmt.Errorf("查询交易计数失败: %w", err)
	}
	tip, err := b.reader.SuggestGasTipCap(ctx)
	if err != nil {
		return TransferPayload{}, fmt.Errorf("获取建议小费失败: %w", err)
	}
	head, err := b.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return TransferPayload{}, fmt.Errorf("读取最新区块头失败: %w", err)
	}

	// maxFee = 2*baseFee + tip，容忍后续区块的基础费上浮。
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	payload := TransferPayload{
		ChainID:                 chainID.String(),
		From:                    from.Hex(),
		To:                      to.Hex(),
		AmountWei:               amount.String(),
		Nonce:                   nonce,
		MaxFeePerGasWei:         feeCap.String(),
		MaxPriorityFeePerGasWei: tip.String(),
	}

	txData := &coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		V:         new(big.Int),
		R:         new(big.Int),
		S:         new(big.Int),
	}

	if contractRaw := backend.StringArg(args, "token_contract"); contractRaw != "" {
		contract, err := parseAddress(contractRaw, "token_contract")
		if err != nil {
			return TransferPayload{}, err
		}
		calldata := append(append([]byte(nil), selectorTransfer...), common.LeftPadBytes(to.Bytes(), 32)...)
		calldata = append(calldata, common.LeftPadBytes(amount.Bytes(), 32)...)

		txData.To = &contract
		txData.Value = new(big.Int)
		txData.Gas = gasLimitTokenTransfer
		txData.Data = calldata

		payload.Type = "TOKEN_TRANSFER"
		payload.TokenContract = contract.Hex()
		payload.GasLimit = gasLimitTokenTransfer
	} else {
		txData.To = &to
		txData.Value = amount
		txData.Gas = gasLimitNativeTransfer

		payload.Type = "ETH_TRANSFER"
		payload.GasLimit = gasLimitNativeTransfer
	}

	raw, err := coretypes.NewTx(txData).MarshalBinary()
	if err != nil {
		return TransferPayload{}, fmt.Errorf("序列化交易失败: %w", err)
	}
	payload.Transaction = "0x" + hex.EncodeToString(raw)
	return payload, nil
}

func toUnit(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		big.NewFloat(math.Pow10(decimals)),
	).Float64()
	return value
}

func shortAddr(addr common.Address) string {
	hexAddr := addr.Hex()
	return hexAddr[:10] + "..."
}
