package wallet

import (
	"context"
	"fmt"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// 离线样例链。未配置 RPC 节点时 NewOffline 用它充当 chainReader，
// 数据完全确定，便于演示与测试。签名私钥是 hardhat 的公开开发账户，
// 不承载任何真实资产。
const (
	fixtureChainID     = 31337
	fixtureLatestBlock = 1024
	fixtureKeyHex      = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

var (
	fixtureSender        = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	fixturePeer          = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	fixtureTokenContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

type fixtureChain struct {
	chainID *big.Int
	blocks  map[uint64]*coretypes.Block
	latest  uint64
}

func newFixtureChain() *fixtureChain {
	key, err := crypto.HexToECDSA(fixtureKeyHex)
	if err != nil {
		panic(err)
	}

	chainID := big.NewInt(fixtureChainID)
	signer := coretypes.LatestSignerForChainID(chainID)
	chain := &fixtureChain{
		chainID: chainID,
		blocks:  make(map[uint64]*coretypes.Block),
		latest:  fixtureLatestBlock,
	}

	// 最近 10 个区块各放一笔样例交易：多数是原生转账，每逢 3 的
	// 倍数区块换成一次代币合约调用，让交易历史同时覆盖两种类型。
	for number := uint64(fixtureLatestBlock - 9); number <= fixtureLatestBlock; number++ {
		txData := &coretypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     number - (fixtureLatestBlock - 9),
			GasTipCap: gwei(1),
			GasFeeCap: gwei(41),
			Gas:       gasLimitNativeTransfer,
			To:        &fixturePeer,
			Value:     big.NewInt(100_000_000_000_000_000), // 0.1 ETH
		}
		if number%3 == 0 {
			calldata := append(append([]byte(nil), selectorTransfer...), common.LeftPadBytes(fixturePeer.Bytes(), 32)...)
			calldata = append(calldata, common.LeftPadBytes(big.NewInt(1_000_000).Bytes(), 32)...)
			txData.To = &fixtureTokenContract
			txData.Value = new(big.Int)
			txData.Gas = gasLimitTokenTransfer
			txData.Data = calldata
		}

		tx, err := coretypes.SignTx(coretypes.NewTx(txData), signer, key)
		if err != nil {
			panic(err)
		}

		header := &coretypes.Header{
			Number:   new(big.Int).SetUint64(number),
			Time:     1_755_000_000 + number*12,
			BaseFee:  gwei(20),
			GasLimit: 30_000_000,
			GasUsed:  txData.Gas,
		}
		chain.blocks[number] = coretypes.NewBlockWithHeader(header).
			WithBody(coretypes.Body{Transactions: []*coretypes.Transaction{tx}})
	}
	return chain
}

func (c *fixtureChain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *fixtureChain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.latest, nil
}

func (c *fixtureChain) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	block, err := c.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return block.Header(), nil
}

func (c *fixtureChain) BlockByNumber(ctx context.Context, number *big.Int) (*coretypes.Block, error) {
	target := c.latest
	if number != nil {
		target = number.Uint64()
	}
	block, ok := c.blocks[target]
	if !ok {
		return nil, fmt.Errorf("区块 %d 不存在", target)
	}
	return block, nil
}

func (c *fixtureChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	// 所有账户统一返回 2 ETH。
	return new(big.Int).Mul(big.NewInt(2), gwei(1_000_000_000)), nil
}

func (c *fixtureChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (c *fixtureChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return gwei(1), nil
}

func (c *fixtureChain) FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*gethcore.FeeHistory, error) {
	// 分位数越高小费越高，行内从 1 gwei 递增到 5 gwei。
	tiers := []*big.Int{gwei(1), big.NewInt(1_500_000_000), gwei(2), gwei(3), gwei(5)}
	rewards := make([][]*big.Int, blockCount)
	baseFees := make([]*big.Int, blockCount+1)
	ratios := make([]float64, blockCount)
	for i := range rewards {
		row := make([]*big.Int, len(rewardPercentiles))
		for j := range row {
			row[j] = tiers[j%len(tiers)]
		}
		rewards[i] = row
		baseFees[i] = gwei(20)
		ratios[i] = 0.5
	}
	baseFees[blockCount] = gwei(20)
	return &gethcore.FeeHistory{
		OldestBlock:  new(big.Int).SetUint64(c.latest - blockCount + 1),
		Reward:       rewards,
		BaseFee:      baseFees,
		GasUsedRatio: ratios,
	}, nil
}

func (c *fixtureChain) CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	// 任意 balanceOf 查询都返回 400 枚 6 位精度代币。
	return common.LeftPadBytes(big.NewInt(400_000_000).Bytes(), 32), nil
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

var _ chainReader = (*fixtureChain)(nil)
