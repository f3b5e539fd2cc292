// Package evm implements the chain adapter for EVM targets using a price
// oracle contract that accepts batched updates.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/meridian-oracle/meridian/internal/chain"
	"github.com/meridian-oracle/meridian/internal/feed"
)

// Minimal ABI for the price oracle contract: one batched write, one read.
const oracleABI = `[
  {"inputs":[{"internalType":"bytes32[]","name":"ids","type":"bytes32[]"},{"internalType":"int64[]","name":"prices","type":"int64[]"},{"internalType":"uint64[]","name":"confs","type":"uint64[]"},{"internalType":"int32[]","name":"expos","type":"int32[]"},{"internalType":"uint64[]","name":"publishTimes","type":"uint64[]"}],"name":"updatePrices","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"bytes32","name":"id","type":"bytes32"}],"name":"latestPrice","outputs":[{"internalType":"int64","name":"price","type":"int64"},{"internalType":"int32","name":"expo","type":"int32"},{"internalType":"uint64","name":"publishTime","type":"uint64"}],"stateMutability":"view","type":"function"}
]`

// Adapter submits price updates to an EVM oracle contract. The contract
// ignores updates older than what it already holds, which makes batch
// resubmission harmless.
type Adapter struct {
	name     string
	client   *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts
}

// New dials the RPC endpoint and binds the oracle contract. The signing key
// stays inside the transactor; it is never exposed or logged.
func New(ctx context.Context, name, endpoint, contractAddress string, key *ecdsa.PrivateKey) (*Adapter, error) {
	client, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", endpoint, err)
	}

	chainID, err := client.NetworkID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: query network id: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: build transactor: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(oracleABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: parse abi: %w", err)
	}

	addr := common.HexToAddress(contractAddress)
	contract := bind.NewBoundContract(addr, parsed, client, client, client)

	return &Adapter{
		name:     name,
		client:   client,
		contract: contract,
		auth:     auth,
	}, nil
}

// ChainID names the target chain.
func (a *Adapter) ChainID() string { return a.name }

// Close releases the RPC connection.
func (a *Adapter) Close() { a.client.Close() }

// FeedKey maps a feed id to the contract's bytes32 key.
func FeedKey(id feed.ID) [32]byte {
	return crypto.Keccak256Hash([]byte(id))
}

// SubmitBatch lands every update in one transaction.
func (a *Adapter) SubmitBatch(ctx context.Context, batch []feed.PriceUpdate) (chain.SubmitResult, error) {
	if len(batch) == 0 {
		return chain.SubmitResult{}, nil
	}

	ids := make([][32]byte, len(batch))
	prices := make([]int64, len(batch))
	confs := make([]uint64, len(batch))
	expos := make([]int32, len(batch))
	times := make([]uint64, len(batch))

	for i, u := range batch {
		ids[i] = FeedKey(u.Feed)
		prices[i] = u.Price
		confs[i] = u.Conf
		expos[i] = u.Expo
		times[i] = uint64(u.PublishTime)
	}

	opts := *a.auth
	opts.Context = ctx

	tx, err := a.contract.Transact(&opts, "updatePrices", ids, prices, confs, expos, times)
	if err != nil {
		return chain.SubmitResult{}, &chain.SubmissionError{Chain: a.name, Err: err}
	}

	return chain.SubmitResult{
		Committed: len(batch),
		TxHash:    tx.Hash().Hex(),
	}, nil
}

// QueryPrice reads the feed's last on-chain value. A zero publish time
// means the feed has never been pushed.
func (a *Adapter) QueryPrice(ctx context.Context, id feed.ID) (chain.OnChainPrice, bool, error) {
	var out []interface{}
	err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "latestPrice", FeedKey(id))
	if err != nil {
		return chain.OnChainPrice{}, false, fmt.Errorf("evm: latestPrice: %w", err)
	}

	price := out[0].(int64)
	expo := out[1].(int32)
	publishTime := out[2].(uint64)

	if publishTime == 0 {
		return chain.OnChainPrice{}, false, nil
	}

	return chain.OnChainPrice{
		Price:       price,
		Expo:        expo,
		PublishTime: int64(publishTime),
	}, true, nil
}
