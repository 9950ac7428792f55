// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package yellow

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces the wallet signature for the gateway's auth
// challenge.
type Signer interface {
	Address() common.Address
	SignChallenge(challenge string) (string, error)
}

// KeySigner signs with a raw ECDSA key using the personal_sign scheme
// (EIP-191 prefixed hash), which is what the gateway verifies against.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(privateKeyHex string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: load private key: %w", err)
	}
	return &KeySigner{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *KeySigner) Address() common.Address {
	return s.addr
}

// SignChallenge returns the hex-encoded 65-byte signature with the
// recovery id in Ethereum convention (v = 27 or 28).
func (s *KeySigner) SignChallenge(challenge string) (string, error) {
	hash := accounts.TextHash([]byte(challenge))
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return "", fmt.Errorf("signer: sign challenge: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

var _ Signer = (*KeySigner)(nil)
