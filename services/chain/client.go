// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// roscaABI is the published interface of the ROSCA settlement contract.
// The contract's internal accounting rules are outside this layer; we
// only consume this surface.
const roscaABI = `[
  {"type":"function","name":"createGroup","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"contribution","type":"uint256"},{"name":"maxMembers","type":"uint256"},{"name":"cycleDuration","type":"uint256"},{"name":"auctionDuration","type":"uint256"},{"name":"minDiscount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"joinGroup","stateMutability":"nonpayable","inputs":[{"name":"groupId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"depositContribution","stateMutability":"nonpayable","inputs":[{"name":"groupId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"placeBid","stateMutability":"nonpayable","inputs":[{"name":"groupId","type":"uint256"},{"name":"discount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"settleAuction","stateMutability":"nonpayable","inputs":[{"name":"groupId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"withdrawDividends","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"groups","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"name","type":"string"},{"name":"contribution","type":"uint256"},{"name":"maxMembers","type":"uint256"},{"name":"cycleDuration","type":"uint256"},{"name":"auctionDuration","type":"uint256"},{"name":"minDiscount","type":"uint256"},{"name":"currentCycle","type":"uint256"},{"name":"cycleStartTime","type":"uint256"},{"name":"totalEscrow","type":"uint256"},{"name":"creator","type":"address"},{"name":"highestBidder","type":"address"},{"name":"highestDiscount","type":"uint256"},{"name":"auctionSettled","type":"bool"},{"name":"isActive","type":"bool"}]},
  {"type":"function","name":"getHighestBid","stateMutability":"view","inputs":[{"name":"groupId","type":"uint256"}],"outputs":[{"name":"bidder","type":"address"},{"name":"discount","type":"uint256"}]},
  {"type":"function","name":"isMemberOf","stateMutability":"view","inputs":[{"name":"groupId","type":"uint256"},{"name":"member","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"groupCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"pendingDividends","stateMutability":"view","inputs":[{"name":"member","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"GroupStarted","inputs":[{"name":"groupId","type":"uint256","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"name","type":"string","indexed":false}],"anonymous":false},
  {"type":"event","name":"ContributionDeposited","inputs":[{"name":"groupId","type":"uint256","indexed":true},{"name":"member","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false},
  {"type":"event","name":"BidPlaced","inputs":[{"name":"groupId","type":"uint256","indexed":true},{"name":"bidder","type":"address","indexed":true},{"name":"discount","type":"uint256","indexed":false}],"anonymous":false},
  {"type":"event","name":"AuctionWinnerSelected","inputs":[{"name":"groupId","type":"uint256","indexed":true},{"name":"winner","type":"address","indexed":true},{"name":"discount","type":"uint256","indexed":false}],"anonymous":false}
]`

// Config holds chain client configuration.
type Config struct {
	// RPCURL is the JSON-RPC endpoint of the settlement chain node.
	RPCURL string

	// ContractAddress is the deployed ROSCA settlement contract.
	ContractAddress string

	// USDCAddress is the ERC-20 token the contract escrows.
	USDCAddress string

	// PrivateKeyHex is the orchestrator wallet key (no 0x prefix). Key
	// management beyond loading this key is out of scope; production
	// deployments inject it from a secret store.
	PrivateKeyHex string

	// TxTimeout bounds the wait for a transaction receipt. Default: 2m.
	TxTimeout time.Duration
}

// Client is a typed wrapper over the ROSCA settlement contract.
//
// All write operations block until the transaction is mined and return
// an ExternalOperationError on rejection or revert. Reads go through
// eth_call at the latest block.
//
// Client is safe for concurrent use; go-ethereum's ethclient serializes
// nothing and needs no external locking, and the transactor's nonce
// management is handled by the node via pending nonce lookup.
type Client struct {
	eth       *ethclient.Client
	abi       abi.ABI
	bound     *bind.BoundContract
	contract  common.Address
	opts      *bind.TransactOpts
	from      common.Address
	txTimeout time.Duration

	// Cached event topic IDs, computed once at construction.
	topicGroupStarted   common.Hash
	topicContribution   common.Hash
	topicBidPlaced      common.Hash
	topicWinnerSelected common.Hash
}

// NewClient dials the RPC endpoint and binds the settlement contract.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("chain: RPC URL not configured")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.TxTimeout == 0 {
		cfg.TxTimeout = 2 * time.Minute
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(roscaABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse ABI: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: load private key: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: fetch chain id: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("chain: build transactor: %w", err)
	}

	contract := common.HexToAddress(cfg.ContractAddress)
	c := &Client{
		eth:       eth,
		abi:       parsed,
		bound:     bind.NewBoundContract(contract, parsed, eth, eth, eth),
		contract:  contract,
		opts:      opts,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		txTimeout: cfg.TxTimeout,

		topicGroupStarted:   parsed.Events["GroupStarted"].ID,
		topicContribution:   parsed.Events["ContributionDeposited"].ID,
		topicBidPlaced:      parsed.Events["BidPlaced"].ID,
		topicWinnerSelected: parsed.Events["AuctionWinnerSelected"].ID,
	}

	slog.Info("Settlement contract bound",
		"contract", contract.Hex(),
		"wallet", c.from.Hex(),
		"chain_id", chainID.String(),
	)
	return c, nil
}

// SignerAddress returns the orchestrator wallet address.
func (c *Client) SignerAddress() common.Address {
	return c.from
}

// Eth exposes the underlying RPC client for collaborators (treasury,
// ENS helper) that bind their own contracts on the same connection.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// =============================================================================
// Write Operations
// =============================================================================

// CreateGroup deploys a new savings circle on the settlement contract.
func (c *Client) CreateGroup(ctx context.Context, spec CreateGroupSpec) (TxResult, error) {
	return c.transact(ctx, "createGroup",
		spec.Name,
		spec.Contribution,
		new(big.Int).SetUint64(spec.MaxMembers),
		big.NewInt(int64(spec.CycleDuration/time.Second)),
		big.NewInt(int64(spec.AuctionDuration/time.Second)),
		spec.MinDefaultDiscount,
	)
}

// JoinGroup adds the orchestrator wallet to an existing circle.
func (c *Client) JoinGroup(ctx context.Context, groupID uint64) (TxResult, error) {
	return c.transact(ctx, "joinGroup", new(big.Int).SetUint64(groupID))
}

// DepositContribution escrows one cycle's contribution for the group.
// The caller is responsible for the USDC allowance pre-flight (see
// Treasury.EnsureAllowance).
func (c *Client) DepositContribution(ctx context.Context, groupID uint64) (TxResult, error) {
	return c.transact(ctx, "depositContribution", new(big.Int).SetUint64(groupID))
}

// PlaceBid submits a discount bid for the group's current auction.
func (c *Client) PlaceBid(ctx context.Context, groupID uint64, discount *big.Int) (TxResult, error) {
	return c.transact(ctx, "placeBid", new(big.Int).SetUint64(groupID), discount)
}

// SettleAuction finalizes the current cycle's auction. Settling an
// already-settled cycle reverts against the contract's own guard; that
// revert is the only at-most-once enforcement in the system.
func (c *Client) SettleAuction(ctx context.Context, groupID uint64) (TxResult, error) {
	return c.transact(ctx, "settleAuction", new(big.Int).SetUint64(groupID))
}

// WithdrawDividends pays out the wallet's accumulated dividends.
func (c *Client) WithdrawDividends(ctx context.Context) (TxResult, error) {
	return c.transact(ctx, "withdrawDividends")
}

// transact submits one contract call and blocks until it is mined.
func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (TxResult, error) {
	opts := *c.opts
	opts.Context = ctx

	tx, err := c.bound.Transact(&opts, method, args...)
	if err != nil {
		return TxResult{}, &ExternalOperationError{Op: method, Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		return TxResult{}, &ExternalOperationError{Op: method, TxHash: tx.Hash(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return TxResult{}, &ExternalOperationError{Op: method, TxHash: tx.Hash()}
	}

	slog.Debug("Transaction mined",
		"method", method,
		"tx", tx.Hash().Hex(),
		"block", receipt.BlockNumber.Uint64(),
	)
	return TxResult{
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// =============================================================================
// Read Operations
// =============================================================================

// GroupCount returns the number of groups ever created. Group ids are
// 1-based and dense, so the sweep iterates 1..GroupCount.
func (c *Client) GroupCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "groupCount"); err != nil {
		return 0, fmt.Errorf("groupCount: %w", err)
	}
	return out[0].(*big.Int).Uint64(), nil
}

// GroupByID reads one group's full contract state.
func (c *Client) GroupByID(ctx context.Context, id uint64) (Group, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "groups", new(big.Int).SetUint64(id)); err != nil {
		return Group{}, fmt.Errorf("groups(%d): %w", id, err)
	}

	g := Group{
		ID:                 id,
		Name:               out[0].(string),
		Contribution:       out[1].(*big.Int),
		MaxMembers:         out[2].(*big.Int).Uint64(),
		CycleDuration:      time.Duration(out[3].(*big.Int).Int64()) * time.Second,
		AuctionDuration:    time.Duration(out[4].(*big.Int).Int64()) * time.Second,
		MinDefaultDiscount: out[5].(*big.Int),
		CurrentCycle:       out[6].(*big.Int).Uint64(),
		CycleStartTime:     time.Unix(out[7].(*big.Int).Int64(), 0),
		TotalEscrow:        out[8].(*big.Int),
		Creator:            out[9].(common.Address),
		HighestBidder:      out[10].(common.Address),
		HighestDiscount:    out[11].(*big.Int),
		AuctionSettled:     out[12].(bool),
		IsActive:           out[13].(bool),
	}
	if g.Name == "" && g.Creator == (common.Address{}) {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

// GetHighestBid returns the current on-chain leading bid for a group.
func (c *Client) GetHighestBid(ctx context.Context, groupID uint64) (common.Address, *big.Int, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "getHighestBid", new(big.Int).SetUint64(groupID)); err != nil {
		return common.Address{}, nil, fmt.Errorf("getHighestBid(%d): %w", groupID, err)
	}
	return out[0].(common.Address), out[1].(*big.Int), nil
}

// IsMemberOf reports whether addr has joined the group.
func (c *Client) IsMemberOf(ctx context.Context, groupID uint64, addr common.Address) (bool, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "isMemberOf", new(big.Int).SetUint64(groupID), addr); err != nil {
		return false, fmt.Errorf("isMemberOf(%d, %s): %w", groupID, addr.Hex(), err)
	}
	return out[0].(bool), nil
}

// PendingDividends returns the dividends claimable by addr.
func (c *Client) PendingDividends(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "pendingDividends", addr); err != nil {
		return nil, fmt.Errorf("pendingDividends(%s): %w", addr.Hex(), err)
	}
	return out[0].(*big.Int), nil
}

// =============================================================================
// Log Source
// =============================================================================

// HeadBlock returns the current chain head number.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("head block: %w", err)
	}
	return head, nil
}

// FilterEvents queries the contract's event log for [from, to] and
// decodes the four known event types, in the order the node returns
// them. Unknown topics are skipped silently; they are future contract
// versions, not errors.
func (c *Client) FilterEvents(ctx context.Context, from, to uint64) ([]Event, error) {
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{{
			c.topicGroupStarted,
			c.topicContribution,
			c.topicBidPlaced,
			c.topicWinnerSelected,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		ev, ok := c.decodeLog(lg)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// decodeLog turns one raw log into a typed Event. Returns false for
// logs that cannot be decoded (unknown topic, malformed data).
func (c *Client) decodeLog(lg types.Log) (Event, bool) {
	if len(lg.Topics) < 3 {
		return Event{}, false
	}

	ev := Event{
		GroupID:     new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		Actor:       common.BytesToAddress(lg.Topics[2].Bytes()),
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}

	switch lg.Topics[0] {
	case c.topicGroupStarted:
		ev.Type = ActivityGroupStarted
		out, err := c.abi.Unpack("GroupStarted", lg.Data)
		if err != nil {
			slog.Warn("Undecodable GroupStarted log", "tx", lg.TxHash.Hex(), "error", err)
			return Event{}, false
		}
		ev.GroupName = out[0].(string)
	case c.topicContribution:
		ev.Type = ActivityContribution
		amount, ok := unpackAmount(c.abi, "ContributionDeposited", lg)
		if !ok {
			return Event{}, false
		}
		ev.Amount = amount
	case c.topicBidPlaced:
		ev.Type = ActivityBidPlaced
		amount, ok := unpackAmount(c.abi, "BidPlaced", lg)
		if !ok {
			return Event{}, false
		}
		ev.Amount = amount
	case c.topicWinnerSelected:
		ev.Type = ActivityAuctionSettled
		amount, ok := unpackAmount(c.abi, "AuctionWinnerSelected", lg)
		if !ok {
			return Event{}, false
		}
		ev.Amount = amount
	default:
		return Event{}, false
	}
	return ev, true
}

// unpackAmount extracts the single non-indexed uint256 shared by the
// contribution, bid, and settlement events.
func unpackAmount(parsed abi.ABI, name string, lg types.Log) (*big.Int, bool) {
	out, err := parsed.Unpack(name, lg.Data)
	if err != nil {
		slog.Warn("Undecodable contract log", "event", name, "tx", lg.TxHash.Hex(), "error", err)
		return nil, false
	}
	amount, ok := out[0].(*big.Int)
	return amount, ok
}

// Compile-time check: Client satisfies the ingestor's log source and
// the sweeper's settlement backend.
var (
	_ LogSource         = (*Client)(nil)
	_ SettlementBackend = (*Client)(nil)
)
