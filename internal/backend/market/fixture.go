package market

// 样例行情表。合约地址取主网真实地址，价格与指标为固定样例值，
// 覆盖上涨、横盘与下跌三种走势，便于演示分析工具的全部分支。

type marketToken struct {
	contract  string
	symbol    string
	decimals  int
	priceUsd  float64
	change24h float64
	volume24h float64
	liquidity float64
	marketCap float64
	rsi       float64
	macd      float64
	ma50      float64
	ma200     float64
	sentiment float64
	sources   []string
}

func fixtureTokens() []marketToken {
	return []marketToken{
		{
			contract:  "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			symbol:    "WETH",
			decimals:  18,
			priceUsd:  3250.75,
			change24h: 3.2,
			volume24h: 18_400_000,
			liquidity: 12_500_000,
			marketCap: 391_000_000_000,
			rsi:       61.5,
			macd:      12.4,
			ma50:      3180.20,
			ma200:     2950.80,
			sentiment: 0.42,
			sources:   []string{"x", "news", "onchain"},
		},
		{
			contract:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			symbol:    "USDC",
			decimals:  6,
			priceUsd:  1.0001,
			change24h: 0.01,
			volume24h: 25_000_000,
			liquidity: 48_000_000,
			marketCap: 32_000_000_000,
			rsi:       50.1,
			macd:      0,
			ma50:      1.0000,
			ma200:     1.0001,
			sentiment: 0.05,
			sources:   []string{"news"},
		},
		{
			contract:  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
			symbol:    "DAI",
			decimals:  18,
			priceUsd:  0.9998,
			change24h: -0.02,
			volume24h: 9_800_000,
			liquidity: 21_000_000,
			marketCap: 5_300_000_000,
			rsi:       49.4,
			macd:      -0.1,
			ma50:      0.9999,
			ma200:     1.0001,
			sentiment: -0.03,
			sources:   []string{"onchain"},
		},
		{
			contract:  "0x912CE59144191C1204E64559FE8253a0e49E6548",
			symbol:    "ARB",
			decimals:  18,
			priceUsd:  0.74,
			change24h: -4.6,
			volume24h: 5_100_000,
			liquidity: 3_200_000,
			marketCap: 2_400_000_000,
			rsi:       38.2,
			macd:      -0.6,
			ma50:      0.81,
			ma200:     0.95,
			sentiment: -0.41,
			sources:   []string{"x", "onchain"},
		},
	}
}

func fixtureLendingRates() []LendingRate {
	return []LendingRate{
		{
			TokenContract: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			Symbol:        "WETH",
			SupplyApy:     2.1,
			BorrowApy:     3.4,
			TotalSupply:   312_000,
			TotalBorrow:   198_000,
		},
		{
			TokenContract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Symbol:        "USDC",
			SupplyApy:     4.8,
			BorrowApy:     6.2,
			TotalSupply:   84_500_000,
			TotalBorrow:   61_200_000,
		},
		{
			TokenContract: "0x6B175474E89094C44Da98b954EedeAC495271d0F",
			Symbol:        "DAI",
			SupplyApy:     4.5,
			BorrowApy:     5.9,
			TotalSupply:   40_800_000,
			TotalBorrow:   28_100_000,
		},
	}
}

func fixtureCollections() []NFTCollection {
	return []NFTCollection{
		{
			Address:       "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D",
			Name:          "Bored Ape Yacht Club",
			Symbol:        "BAYC",
			Description:   "10,000 unique Bored Ape NFTs living on Ethereum.",
			ImageURL:      "https://ipfs.io/ipfs/QmeSjSinHpPnmXmspMjwiXyN6zS4E9zccariGR3jxcaWtq",
			FloorPriceEth: 12.8,
			TotalSupply:   10_000,
			ListedCount:   412,
			Volume24h:     186.5,
		},
		{
			Address:       "0xBd3531dA5CF5857e7CfAA92426877b022e612cf8",
			Name:          "Pudgy Penguins",
			Symbol:        "PPG",
			Description:   "8,888 penguins waddling across the Ethereum blockchain.",
			ImageURL:      "https://ipfs.io/ipfs/QmWXJXRdExse2YHRY21Wvh4pjRxNRQcWVhcKw4DLVnqGqs",
			FloorPriceEth: 9.4,
			TotalSupply:   8_888,
			ListedCount:   203,
			Volume24h:     92.3,
		},
	}
}
