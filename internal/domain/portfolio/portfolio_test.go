package portfolio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenTable_Lookup(t *testing.T) {
	table := NewTokenTable([]Token{
		{Address: "0x1::aptos_coin::AptosCoin", Symbol: "APT", Decimals: 8},
		{Address: "0xBAE2", Symbol: "USDC", Decimals: 6},
	})

	tok, ok := table.Lookup("0x1::aptos_coin::AptosCoin")
	assert.True(t, ok)
	assert.Equal(t, "APT", tok.Symbol)

	tok, ok = table.Lookup("0xbae2")
	assert.True(t, ok)
	assert.Equal(t, 6, tok.Decimals)

	tok, ok = table.Lookup("0xunknown")
	assert.False(t, ok)
	assert.Equal(t, "0xunknown", tok.Symbol)
	assert.Equal(t, DefaultDecimals, tok.Decimals)
}

func TestTokenTable_NilSafe(t *testing.T) {
	var table *TokenTable
	tok, ok := table.Lookup("0x1")
	assert.False(t, ok)
	assert.Equal(t, DefaultDecimals, tok.Decimals)
	assert.Equal(t, 0, table.Len())
}

func TestBalance_UnknownPriceOmitted(t *testing.T) {
	raw, err := json.Marshal(Balance{AssetType: "0x1", Symbol: "X", RawAmount: "1", Decimals: 0, Amount: "1", NormalizedAmount: 1})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "usdValue")
	assert.NotContains(t, string(raw), "usdPrice")

	zero := 0.0
	raw, err = json.Marshal(Balance{USDValue: &zero, USDPrice: &zero})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"usdValue":0`)
}

func TestSourceConfig_TransformKind(t *testing.T) {
	assert.Equal(t, TransformDefault, SourceConfig{}.TransformKind())
	assert.Equal(t, TransformDefault, SourceConfig{Transform: &Transform{}}.TransformKind())
	assert.Equal(t, TransformScript, SourceConfig{Transform: &Transform{Kind: TransformScript}}.TransformKind())
}

func TestSourceConfig_Clone(t *testing.T) {
	src := SourceConfig{Name: "a", Headers: map[string]string{"k": "v"}, Transform: &Transform{Kind: TransformMapping}}
	cp := src.Clone()
	cp.Headers["k"] = "changed"
	cp.Transform.Kind = TransformCustom

	assert.Equal(t, "v", src.Headers["k"])
	assert.Equal(t, TransformMapping, src.Transform.Kind)
}
