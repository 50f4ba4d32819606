package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/defi_portfolio/internal/config"
	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
)

func newBuilder(t *testing.T, cfg config.ProtocolConfig) *EntryFunctionBuilder {
	t.Helper()
	b, err := NewEntryFunctionBuilder(cfg)
	require.NoError(t, err)
	return b
}

func TestBuildDeposit_TokenAsTypeArgument(t *testing.T) {
	b := newBuilder(t, config.ProtocolConfig{Name: "aries", Module: "0xabc::controller"})

	p, err := b.BuildDeposit("1500000", "0x1::aptos_coin::AptosCoin")
	require.NoError(t, err)
	assert.Equal(t, PayloadType, p.Type)
	assert.Equal(t, "0xabc::controller::deposit", p.Function)
	assert.Equal(t, []string{"0x1::aptos_coin::AptosCoin"}, p.TypeArguments)
	assert.Equal(t, []interface{}{"1500000"}, p.Arguments)
}

func TestBuildWithdraw_TokenAsValue(t *testing.T) {
	b := newBuilder(t, config.ProtocolConfig{
		Name: "echelon", Module: "0xdef::scripts", Withdraw: "withdraw_fa", TokenArgument: TokenAsValue,
	})

	p, err := b.BuildWithdraw("0xmarket", "42", "0xa")
	require.NoError(t, err)
	assert.Equal(t, "0xdef::scripts::withdraw_fa", p.Function)
	assert.Empty(t, p.TypeArguments)
	assert.Equal(t, []interface{}{"0xa", "0xmarket", "42"}, p.Arguments)
}

func TestBuildClaimRewards(t *testing.T) {
	b := newBuilder(t, config.ProtocolConfig{Name: "aries", Module: "0xabc::controller"})

	p, err := b.BuildClaimRewards([]string{"1", "2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "0xabc::controller::claim_rewards", p.Function)
	assert.Equal(t, []interface{}{[]string{"1", "2"}, []string{}}, p.Arguments)

	_, err = b.BuildClaimRewards(nil, nil)
	assert.True(t, svcerrors.IsValidation(err))
}

func TestBuilder_ValidatesInput(t *testing.T) {
	b := newBuilder(t, config.ProtocolConfig{Name: "aries", Module: "0xabc::controller"})

	for _, amount := range []string{"", "0", "-1", "1.5", "abc"} {
		_, err := b.BuildDeposit(amount, "0xa")
		assert.True(t, svcerrors.IsValidation(err), amount)
	}
	_, err := b.BuildDeposit("1", "")
	assert.True(t, svcerrors.IsValidation(err))
	_, err = b.BuildWithdraw("", "1", "0xa")
	assert.True(t, svcerrors.IsValidation(err))
}

func TestNewEntryFunctionBuilder_RejectsBadConfig(t *testing.T) {
	_, err := NewEntryFunctionBuilder(config.ProtocolConfig{Name: "x", Module: "nomodule"})
	assert.Error(t, err)
	_, err = NewEntryFunctionBuilder(config.ProtocolConfig{Name: "x", Module: "0x1::m", TokenArgument: "both"})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]config.ProtocolConfig{
		{Name: "echelon", Module: "0x2::m"},
		{Name: "Aries", Module: "0x1::m"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Aries", "echelon"}, r.Protocols())

	b, err := r.Get("aries")
	require.NoError(t, err)
	assert.Equal(t, "Aries", b.Protocol())

	_, err = r.Get("thala")
	assert.True(t, svcerrors.IsNotFound(err))

	_, err = NewRegistry([]config.ProtocolConfig{{Name: "a", Module: "0x1::m"}, {Name: "A", Module: "0x1::m"}})
	assert.Error(t, err)
}
