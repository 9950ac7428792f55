// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ensRegistryAddress is the canonical ENS registry, identical on
// mainnet and the test networks that deploy ENS.
const ensRegistryAddress = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"

const ensRegistryABI = `[
  {"type":"function","name":"resolver","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
]`

const ensResolverABI = `[
  {"type":"function","name":"addr","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"text","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"},{"name":"key","type":"string"}],"outputs":[{"name":"","type":"string"}]}
]`

// ErrNameNotFound is returned when an ENS name has no resolver or no
// address record. Callers treat resolution as best effort and fall
// back to raw addresses.
var ErrNameNotFound = errors.New("ens name not found")

// ENS resolves .eth names to addresses and reads text records. All
// lookups are read-only.
type ENS struct {
	eth         *ethclient.Client
	registry    *bind.BoundContract
	resolverABI abi.ABI
}

// NewENS binds the canonical registry on the given connection.
func NewENS(eth *ethclient.Client) (*ENS, error) {
	regABI, err := abi.JSON(strings.NewReader(ensRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("ens: parse registry ABI: %w", err)
	}
	resABI, err := abi.JSON(strings.NewReader(ensResolverABI))
	if err != nil {
		return nil, fmt.Errorf("ens: parse resolver ABI: %w", err)
	}
	registry := common.HexToAddress(ensRegistryAddress)
	return &ENS{
		eth:         eth,
		registry:    bind.NewBoundContract(registry, regABI, eth, eth, eth),
		resolverABI: resABI,
	}, nil
}

// Resolve maps a name like "alice.eth" to its address record.
func (e *ENS) Resolve(ctx context.Context, name string) (common.Address, error) {
	resolver, node, err := e.resolverFor(ctx, name)
	if err != nil {
		return common.Address{}, err
	}

	var out []interface{}
	if err := resolver.Call(&bind.CallOpts{Context: ctx}, &out, "addr", node); err != nil {
		return common.Address{}, fmt.Errorf("ens: addr(%s): %w", name, err)
	}
	addr := out[0].(common.Address)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s has no address record", ErrNameNotFound, name)
	}
	return addr, nil
}

// Text reads a text record (e.g. "url", "com.twitter") for a name.
// Missing records return the empty string with no error.
func (e *ENS) Text(ctx context.Context, name, key string) (string, error) {
	resolver, node, err := e.resolverFor(ctx, name)
	if err != nil {
		return "", err
	}

	var out []interface{}
	if err := resolver.Call(&bind.CallOpts{Context: ctx}, &out, "text", node, key); err != nil {
		return "", fmt.Errorf("ens: text(%s, %s): %w", name, key, err)
	}
	return out[0].(string), nil
}

func (e *ENS) resolverFor(ctx context.Context, name string) (*bind.BoundContract, [32]byte, error) {
	node := Namehash(name)

	var out []interface{}
	if err := e.registry.Call(&bind.CallOpts{Context: ctx}, &out, "resolver", node); err != nil {
		return nil, node, fmt.Errorf("ens: resolver(%s): %w", name, err)
	}
	resolverAddr := out[0].(common.Address)
	if resolverAddr == (common.Address{}) {
		return nil, node, fmt.Errorf("%w: %s has no resolver", ErrNameNotFound, name)
	}

	return bind.NewBoundContract(resolverAddr, e.resolverABI, e.eth, e.eth, e.eth), node, nil
}

// Namehash implements the EIP-137 recursive name hash.
func Namehash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(strings.ToLower(strings.TrimSuffix(name, ".")), ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = [32]byte(crypto.Keccak256(node[:], labelHash))
	}
	return node
}

// IsENSName reports whether the string looks like an ENS name rather
// than a hex address.
func IsENSName(s string) bool {
	return strings.Contains(s, ".") && !common.IsHexAddress(s)
}
