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

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// erc20ABI is the minimal ERC-20 surface the treasury uses.
const erc20ABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// tokenContract is the slice of bind.BoundContract the treasury uses,
// split out so tests can run without a node.
type tokenContract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// Treasury manages the orchestrator wallet's USDC: balances, the
// allowance granted to the settlement contract, and dividend payouts.
//
// The settlement contract pulls contributions via transferFrom, so
// every deposit needs the allowance pre-flight in EnsureAllowance
// first. Skipping it turns a recoverable precondition into an on-chain
// revert that costs gas.
type Treasury struct {
	client *Client
	bound  tokenContract
	waiter bind.DeployBackend
	token  common.Address
}

// TreasuryStatus is a snapshot of the wallet's USDC position.
type TreasuryStatus struct {
	Wallet    common.Address `json:"wallet"`
	Balance   string         `json:"balance"`
	Allowance string         `json:"allowance"`
	Dividends string         `json:"dividends"`
}

// Payout is one recipient in a batch distribution.
type Payout struct {
	Recipient common.Address
	Amount    *big.Int
}

// PayoutResult reports the outcome for one recipient. Err is nil on
// success.
type PayoutResult struct {
	Recipient common.Address
	TxHash    common.Hash
	Err       error
}

// NewTreasury binds the USDC token contract on the client's connection.
func NewTreasury(client *Client, usdcAddress string) (*Treasury, error) {
	if !common.IsHexAddress(usdcAddress) {
		return nil, fmt.Errorf("treasury: invalid USDC address %q", usdcAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("treasury: parse ERC-20 ABI: %w", err)
	}
	token := common.HexToAddress(usdcAddress)
	return &Treasury{
		client: client,
		bound:  bind.NewBoundContract(token, parsed, client.eth, client.eth, client.eth),
		waiter: client.eth,
		token:  token,
	}, nil
}

// Balance returns addr's USDC balance.
func (t *Treasury) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.bound.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", addr); err != nil {
		return nil, fmt.Errorf("balanceOf(%s): %w", addr.Hex(), err)
	}
	return out[0].(*big.Int), nil
}

// Allowance returns what the settlement contract may pull from the
// orchestrator wallet.
func (t *Treasury) Allowance(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	err := t.bound.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", t.client.from, t.client.contract)
	if err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	return out[0].(*big.Int), nil
}

// EnsureAllowance guarantees the settlement contract may pull at least
// amount. Issues an approve transaction only when the current allowance
// is short; the common case is a read and no write.
func (t *Treasury) EnsureAllowance(ctx context.Context, amount *big.Int) error {
	current, err := t.Allowance(ctx)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	balance, err := t.Balance(ctx, t.client.from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return &PreconditionError{
			Op: "approve",
			Reason: fmt.Sprintf("wallet holds %s USDC, needs %s",
				FormatUSDC(balance), FormatUSDC(amount)),
		}
	}

	slog.Info("Raising USDC allowance",
		"current", FormatUSDC(current),
		"target", FormatUSDC(amount),
	)
	_, err = t.transact(ctx, "approve", t.client.contract, amount)
	return err
}

// Transfer sends amount USDC from the orchestrator wallet to recipient.
func (t *Treasury) Transfer(ctx context.Context, recipient common.Address, amount *big.Int) (TxResult, error) {
	balance, err := t.Balance(ctx, t.client.from)
	if err != nil {
		return TxResult{}, err
	}
	if balance.Cmp(amount) < 0 {
		return TxResult{}, &PreconditionError{
			Op: "transfer",
			Reason: fmt.Sprintf("wallet holds %s USDC, needs %s",
				FormatUSDC(balance), FormatUSDC(amount)),
		}
	}
	return t.transact(ctx, "transfer", recipient, amount)
}

// BatchDistribute pays each recipient independently. One failed payout
// never aborts the rest; callers inspect the per-recipient results.
func (t *Treasury) BatchDistribute(ctx context.Context, payouts []Payout) []PayoutResult {
	results := make([]PayoutResult, 0, len(payouts))
	for _, p := range payouts {
		if ctx.Err() != nil {
			results = append(results, PayoutResult{Recipient: p.Recipient, Err: ctx.Err()})
			continue
		}
		tx, err := t.Transfer(ctx, p.Recipient, p.Amount)
		if err != nil {
			slog.Error("Payout failed",
				"recipient", p.Recipient.Hex(),
				"amount", FormatUSDC(p.Amount),
				"error", err,
			)
			results = append(results, PayoutResult{Recipient: p.Recipient, Err: err})
			continue
		}
		results = append(results, PayoutResult{Recipient: p.Recipient, TxHash: tx.TxHash})
	}
	return results
}

// Status assembles the wallet's USDC position including claimable
// dividends from the settlement contract.
func (t *Treasury) Status(ctx context.Context) (TreasuryStatus, error) {
	balance, err := t.Balance(ctx, t.client.from)
	if err != nil {
		return TreasuryStatus{}, err
	}
	allowance, err := t.Allowance(ctx)
	if err != nil {
		return TreasuryStatus{}, err
	}
	dividends, err := t.client.PendingDividends(ctx, t.client.from)
	if err != nil {
		return TreasuryStatus{}, err
	}
	return TreasuryStatus{
		Wallet:    t.client.from,
		Balance:   FormatUSDC(balance),
		Allowance: FormatUSDC(allowance),
		Dividends: FormatUSDC(dividends),
	}, nil
}

func (t *Treasury) transact(ctx context.Context, method string, args ...interface{}) (TxResult, error) {
	opts := *t.client.opts
	opts.Context = ctx

	tx, err := t.bound.Transact(&opts, method, args...)
	if err != nil {
		return TxResult{}, &ExternalOperationError{Op: method, Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.client.txTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, t.waiter, tx)
	if err != nil {
		return TxResult{}, &ExternalOperationError{Op: method, TxHash: tx.Hash(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return TxResult{}, &ExternalOperationError{Op: method, TxHash: tx.Hash()}
	}
	return TxResult{
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}
