// Package market 提供行情后端：代币价格、兑换报价、借贷利率、NFT 地板价
// 与市场分析。数据来自内置样例表，形态与真实聚合器返回一致。
// build_swap_transaction 只产出待确认的兑换描述载荷，从不执行兑换。
package market

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"Aegis-MCP/internal/backend"
	"Aegis-MCP/internal/tool"
)

const defaultSlippageBps = 50

// TokenPrice 是一项代币报价。
type TokenPrice struct {
	Address        string  `json:"address"`
	Symbol         string  `json:"symbol"`
	PriceUsd       float64 `json:"priceUsd"`
	PriceChange24h float64 `json:"priceChange24h"`
	Volume24h      float64 `json:"volume24h"`
	Liquidity      float64 `json:"liquidity"`
}

// SwapQuote 是一次兑换询价结果。
type SwapQuote struct {
	InputContract  string   `json:"inputContract"`
	OutputContract string   `json:"outputContract"`
	InAmountWei    string   `json:"inAmountWei"`
	OutAmountWei   string   `json:"outAmountWei"`
	PriceImpactPct float64  `json:"priceImpactPct"`
	Routes         []string `json:"routes"`
}

// LendingRate 是单一资产的借贷市场利率。
type LendingRate struct {
	TokenContract string  `json:"tokenContract"`
	Symbol        string  `json:"symbol"`
	SupplyApy     float64 `json:"supplyApy"`
	BorrowApy     float64 `json:"borrowApy"`
	TotalSupply   float64 `json:"totalSupply"`
	TotalBorrow   float64 `json:"totalBorrow"`
}

// NFTCollection 是一个 NFT 系列的市场概况。
type NFTCollection struct {
	Address       string  `json:"address"`
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	Description   string  `json:"description"`
	ImageURL      string  `json:"imageUrl"`
	FloorPriceEth float64 `json:"floorPriceEth"`
	TotalSupply   int     `json:"totalSupply"`
	ListedCount   int     `json:"listedCount"`
	Volume24h     float64 `json:"volume24h"`
}

// Indicators 是技术指标汇总。
type Indicators struct {
	RSI              float64 `json:"rsi"`
	MACD             float64 `json:"macd"`
	MovingAverage50  float64 `json:"movingAverage50"`
	MovingAverage200 float64 `json:"movingAverage200"`
}

// Sentiment 是舆情评分，score 取值 [-1, 1]。
type Sentiment struct {
	Score   float64  `json:"score"`
	Label   string   `json:"label"`
	Sources []string `json:"sources"`
}

// MarketAnalysis 是综合市场分析结果。
type MarketAnalysis struct {
	TokenAddress   string     `json:"tokenAddress"`
	Symbol         string     `json:"symbol"`
	PriceUsd       float64    `json:"priceUsd"`
	PriceChange24h float64    `json:"priceChange24h"`
	Volume24h      float64    `json:"volume24h"`
	MarketCap      float64    `json:"marketCap"`
	Trend          string     `json:"trend"`
	Indicators     Indicators `json:"indicators"`
	Sentiment      Sentiment  `json:"sentiment"`
}

// SwapPayload 是待外部确认的兑换描述，本身不构成任何链上动作。
type SwapPayload struct {
	Type            string  `json:"type"`
	InputContract   string  `json:"inputContract"`
	OutputContract  string  `json:"outputContract"`
	InAmountWei     string  `json:"inAmountWei"`
	MinOutAmountWei string  `json:"minOutAmountWei"`
	PriceImpactPct  float64 `json:"priceImpactPct"`
	Route           string  `json:"route"`
	SlippageBps     int     `json:"slippageBps"`
	Description     string  `json:"description"`
}

// Backend 是行情后端。表数据构造后只读，可并发使用。
type Backend struct {
	tokens      []marketToken
	lending     []LendingRate
	collections []NFTCollection
}

// New 构造载入样例行情表的后端。
func New() *Backend {
	return &Backend{
		tokens:      fixtureTokens(),
		lending:     fixtureLendingRates(),
		collections: fixtureCollections(),
	}
}

// Name 返回后端稳定名。
func (b *Backend) Name() string { return "market" }

// Descriptors 返回行情后端暴露的工具描述。
func (b *Backend) Descriptors() []tool.Descriptor {
	tokenSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token_contract": map[string]any{"type": "string", "description": "Token contract address or symbol"},
		},
		"required": []string{"token_contract"},
	}
	swapSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input_contract":  map[string]any{"type": "string", "description": "Contract address or symbol of the token to sell"},
			"output_contract": map[string]any{"type": "string", "description": "Contract address or symbol of the token to buy"},
			"amount_wei":      map[string]any{"type": "string", "description": "Input amount in the token's smallest unit"},
		},
		"required": []string{"input_contract", "output_contract", "amount_wei"},
	}
	buildSwapSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input_contract":  map[string]any{"type": "string", "description": "Contract address or symbol of the token to sell"},
			"output_contract": map[string]any{"type": "string", "description": "Contract address or symbol of the token to buy"},
			"amount_wei":      map[string]any{"type": "string", "description": "Input amount in the token's smallest unit"},
			"slippage_bps":    map[string]any{"type": "integer", "description": "Max slippage in basis points, default 50"},
		},
		"required": []string{"input_contract", "output_contract", "amount_wei"},
	}

	return []tool.Descriptor{
		{
			Name:        "get_token_price",
			Description: "查询代币的当前价格、24 小时涨跌与流动性",
			InputSchema: tokenSchema,
		},
		{
			Name:        "get_swap_quote",
			Description: "获取两种代币之间的兑换询价",
			InputSchema: swapSchema,
		},
		{
			Name:        "get_lending_rates",
			Description: "列出主要借贷市场的存借利率",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "get_nft_collection",
			Description: "查询 NFT 系列的地板价与挂单概况",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"collection": map[string]any{"type": "string", "description": "Collection contract address or name"},
				},
				"required": []string{"collection"},
			},
		},
		{
			Name:        "get_market_analysis",
			Description: "生成代币的趋势、技术指标与舆情综合分析",
			InputSchema: tokenSchema,
		},
		{
			Name:        "build_swap_transaction",
			Description: "构造一笔待确认的代币兑换描述，不会直接执行",
			InputSchema: buildSwapSchema,
		},
	}
}

// Invoke 执行指定工具。
func (b *Backend) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	switch toolName {
	case "get_token_price":
		return b.tokenPrice(args)
	case "get_swap_quote":
		return b.swapQuote(args)
	case "get_lending_rates":
		return append([]LendingRate(nil), b.lending...), nil
	case "get_nft_collection":
		return b.nftCollection(args)
	case "get_market_analysis":
		return b.marketAnalysis(args)
	case "build_swap_transaction":
		return b.buildSwap(args)
	default:
		return nil, fmt.Errorf("行情后端不提供工具 %s", toolName)
	}
}

func (b *Backend) tokenPrice(args map[string]any) (TokenPrice, error) {
	token, err := b.lookupToken(backend.StringArg(args, "token_contract"))
	if err != nil {
		return TokenPrice{}, err
	}
	return TokenPrice{
		Address:        token.contract,
		Symbol:         token.symbol,
		PriceUsd:       token.priceUsd,
		PriceChange24h: token.change24h,
		Volume24h:      token.volume24h,
		Liquidity:      token.liquidity,
	}, nil
}

func (b *Backend) swapQuote(args map[string]any) (SwapQuote, error) {
	input, err := b.lookupToken(backend.StringArg(args, "input_contract"))
	if err != nil {
		return SwapQuote{}, err
	}
	output, err := b.lookupToken(backend.StringArg(args, "output_contract"))
	if err != nil {
		return SwapQuote{}, err
	}
	amount, err := amountWei(args)
	if err != nil {
		return SwapQuote{}, err
	}

	inUnits := weiToUnits(amount, input.decimals)
	inUsd := inUnits * input.priceUsd

	// 价格冲击随成交额占流动性的比例增长，上限 5%。
	impact := 0.1 + inUsd/output.liquidity*100
	if impact > 5 {
		impact = 5
	}

	outUnits := inUsd / output.priceUsd * (1 - impact/100)
	return SwapQuote{
		InputContract:  input.contract,
		OutputContract: output.contract,
		InAmountWei:    amount.String(),
		OutAmountWei:   unitsToWei(outUnits, output.decimals).String(),
		PriceImpactPct: round2(impact),
		Routes:         []string{"uniswap_v3", "sushiswap"},
	}, nil
}

func (b *Backend) nftCollection(args map[string]any) (NFTCollection, error) {
	ref := strings.ToLower(backend.StringArg(args, "collection"))
	if ref == "" {
		return NFTCollection{}, fmt.Errorf("缺少参数 collection")
	}
	for _, collection := range b.collections {
		if strings.ToLower(collection.Address) == ref ||
			strings.Contains(strings.ToLower(collection.Name), ref) ||
			strings.EqualFold(collection.Symbol, ref) {
			return collection, nil
		}
	}
	return NFTCollection{}, fmt.Errorf("未收录的 NFT 系列: %s", ref)
}

func (b *Backend) marketAnalysis(args map[string]any) (MarketAnalysis, error) {
	token, err := b.lookupToken(backend.StringArg(args, "token_contract"))
	if err != nil {
		return MarketAnalysis{}, err
	}

	trend := "NEUTRAL"
	switch {
	case token.change24h >= 2:
		trend = "BULLISH"
	case token.change24h <= -2:
		trend = "BEARISH"
	}

	label := "neutral"
	switch {
	case token.sentiment >= 0.25:
		label = "positive"
	case token.sentiment <= -0.25:
		label = "negative"
	}

	return MarketAnalysis{
		TokenAddress:   token.contract,
		Symbol:         token.symbol,
		PriceUsd:       token.priceUsd,
		PriceChange24h: token.change24h,
		Volume24h:      token.volume24h,
		MarketCap:      token.marketCap,
		Trend:          trend,
		Indicators: Indicators{
			RSI:              token.rsi,
			MACD:             token.macd,
			MovingAverage50:  token.ma50,
			MovingAverage200: token.ma200,
		},
		Sentiment: Sentiment{
			Score:   token.sentiment,
			Label:   label,
			Sources: append([]string(nil), token.sources...),
		},
	}, nil
}

func (b *Backend) buildSwap(args map[string]any) (SwapPayload, error) {
	quote, err := b.swapQuote(args)
	if err != nil {
		return SwapPayload{}, err
	}

	slippage := backend.IntArg(args, "slippage_bps", defaultSlippageBps)
	if slippage <= 0 || slippage > 10_000 {
		return SwapPayload{}, fmt.Errorf("非法的滑点参数: %d", slippage)
	}

	out, _ := new(big.Int).SetString(quote.OutAmountWei, 10)
	minOut := new(big.Int).Mul(out, big.NewInt(int64(10_000-slippage)))
	minOut.Div(minOut, big.NewInt(10_000))

	input, _ := b.lookupToken(quote.InputContract)
	output, _ := b.lookupToken(quote.OutputContract)
	in, _ := new(big.Int).SetString(quote.InAmountWei, 10)

	return SwapPayload{
		Type:            "SWAP",
		InputContract:   quote.InputContract,
		OutputContract:  quote.OutputContract,
		InAmountWei:     quote.InAmountWei,
		MinOutAmountWei: minOut.String(),
		PriceImpactPct:  quote.PriceImpactPct,
		Route:           quote.Routes[0],
		SlippageBps:     slippage,
		Description: fmt.Sprintf("swap %.4f %s for at least %.4f %s via %s (price impact %.2f%%, max slippage %.2f%%)",
			weiToUnits(in, input.decimals), input.symbol,
			weiToUnits(minOut, output.decimals), output.symbol,
			quote.Routes[0], quote.PriceImpactPct, float64(slippage)/100),
	}, nil
}

func (b *Backend) lookupToken(ref string) (marketToken, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return marketToken{}, fmt.Errorf("缺少参数 token_contract")
	}
	for _, token := range b.tokens {
		if strings.EqualFold(token.contract, ref) || strings.EqualFold(token.symbol, ref) {
			return token, nil
		}
	}
	return marketToken{}, fmt.Errorf("未收录的代币: %s", ref)
}

func amountWei(args map[string]any) (*big.Int, error) {
	if raw := backend.StringArg(args, "amount_wei"); raw != "" {
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("非法的金额: %s", raw)
		}
		return amount, nil
	}
	if value := backend.FloatArg(args, "amount_wei", 0); value > 0 {
		return big.NewInt(int64(value)), nil
	}
	return nil, fmt.Errorf("缺少参数 amount_wei")
}

func weiToUnits(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		big.NewFloat(math.Pow10(decimals)),
	).Float64()
	return value
}

func unitsToWei(units float64, decimals int) *big.Int {
	wei, _ := new(big.Float).Mul(
		big.NewFloat(units),
		big.NewFloat(math.Pow10(decimals)),
	).Int(nil)
	return wei
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

var _ tool.Invoker = (*Backend)(nil)
