// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Reference vectors from EIP-137.
func TestNamehash(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", "0000000000000000000000000000000000000000000000000000000000000000"},
		{"eth", "93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae"},
		{"foo.eth", "de9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f"},
	}
	for _, tt := range tests {
		got := Namehash(tt.name)
		assert.Equal(t, tt.want, hex.EncodeToString(got[:]), "Namehash(%q)", tt.name)
	}
}

func TestNamehash_Normalization(t *testing.T) {
	assert.Equal(t, Namehash("foo.eth"), Namehash("FOO.eth"))
	assert.Equal(t, Namehash("foo.eth"), Namehash("foo.eth."))
}

func TestIsENSName(t *testing.T) {
	assert.True(t, IsENSName("alice.eth"))
	assert.True(t, IsENSName("pay.alice.eth"))
	assert.False(t, IsENSName("0x8ba1f109551bD432803012645Ac136ddd64DBA72"))
	assert.False(t, IsENSName("alice"))
}
