// Package actions builds unsigned Move entry-function payloads for protocol
// deposit, withdraw and claim actions.
package actions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/defi_portfolio/internal/config"
	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
)

// PayloadType is the wallet payload kind for entry-function calls.
const PayloadType = "entry_function_payload"

// Token argument placement.
const (
	TokenAsType  = "type"
	TokenAsValue = "value"
)

// Builder produces payloads for one protocol. Amounts are integer minimal units.
type Builder interface {
	Protocol() string
	BuildDeposit(amount, token string) (*portfolio.TransactionPayload, error)
	BuildWithdraw(market, amount, token string) (*portfolio.TransactionPayload, error)
	BuildClaimRewards(positionIDs, tokenTypes []string) (*portfolio.TransactionPayload, error)
}

// EntryFunctionBuilder is a Builder driven by a protocol's module and function names.
type EntryFunctionBuilder struct {
	cfg config.ProtocolConfig
}

// NewEntryFunctionBuilder creates a builder for cfg. Empty function names fall back
// to deposit, withdraw and claim_rewards.
func NewEntryFunctionBuilder(cfg config.ProtocolConfig) (*EntryFunctionBuilder, error) {
	if cfg.Name == "" {
		return nil, svcerrors.Required("protocol.name")
	}
	if !strings.Contains(cfg.Module, "::") {
		return nil, svcerrors.Validation("protocol.module", fmt.Sprintf("%q must be <address>::<module>", cfg.Module))
	}
	if cfg.Deposit == "" {
		cfg.Deposit = "deposit"
	}
	if cfg.Withdraw == "" {
		cfg.Withdraw = "withdraw"
	}
	if cfg.Claim == "" {
		cfg.Claim = "claim_rewards"
	}
	switch cfg.TokenArgument {
	case "":
		cfg.TokenArgument = TokenAsType
	case TokenAsType, TokenAsValue:
	default:
		return nil, svcerrors.Validation("protocol.token_argument", fmt.Sprintf("unsupported value %q", cfg.TokenArgument))
	}
	return &EntryFunctionBuilder{cfg: cfg}, nil
}

func (b *EntryFunctionBuilder) Protocol() string { return b.cfg.Name }

func (b *EntryFunctionBuilder) BuildDeposit(amount, token string) (*portfolio.TransactionPayload, error) {
	amount, err := validateAmount(amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, svcerrors.Required("token")
	}
	return b.payload(b.cfg.Deposit, token, amount), nil
}

func (b *EntryFunctionBuilder) BuildWithdraw(market, amount, token string) (*portfolio.TransactionPayload, error) {
	if strings.TrimSpace(market) == "" {
		return nil, svcerrors.Required("market")
	}
	amount, err := validateAmount(amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, svcerrors.Required("token")
	}
	return b.payload(b.cfg.Withdraw, token, market, amount), nil
}

func (b *EntryFunctionBuilder) BuildClaimRewards(positionIDs, tokenTypes []string) (*portfolio.TransactionPayload, error) {
	if len(positionIDs) == 0 {
		return nil, svcerrors.Required("positionIds")
	}
	for _, id := range positionIDs {
		if strings.TrimSpace(id) == "" {
			return nil, svcerrors.Validation("positionIds", "must not contain empty ids")
		}
	}
	if tokenTypes == nil {
		tokenTypes = []string{}
	}
	return &portfolio.TransactionPayload{
		Type:          PayloadType,
		Function:      b.function(b.cfg.Claim),
		TypeArguments: []string{},
		Arguments:     []interface{}{positionIDs, tokenTypes},
	}, nil
}

// payload places token per TokenArgument ahead of args.
func (b *EntryFunctionBuilder) payload(fn, token string, args ...string) *portfolio.TransactionPayload {
	p := &portfolio.TransactionPayload{
		Type:          PayloadType,
		Function:      b.function(fn),
		TypeArguments: []string{},
		Arguments:     make([]interface{}, 0, len(args)+1),
	}
	if b.cfg.TokenArgument == TokenAsType {
		p.TypeArguments = append(p.TypeArguments, token)
	} else {
		p.Arguments = append(p.Arguments, token)
	}
	for _, a := range args {
		p.Arguments = append(p.Arguments, a)
	}
	return p
}

func (b *EntryFunctionBuilder) function(name string) string {
	return b.cfg.Module + "::" + name
}

func validateAmount(amount string) (string, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return "", svcerrors.Required("amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() || !d.IsPositive() {
		return "", svcerrors.Validation("amount", "must be a positive integer in minimal units")
	}
	return d.String(), nil
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps protocol names to builders. It is built once at startup.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry builds an EntryFunctionBuilder for every configured protocol.
func NewRegistry(protocols []config.ProtocolConfig) (*Registry, error) {
	r := &Registry{builders: make(map[string]Builder, len(protocols))}
	for _, p := range protocols {
		b, err := NewEntryFunctionBuilder(p)
		if err != nil {
			return nil, fmt.Errorf("protocol %s: %w", p.Name, err)
		}
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds b. Names are case-insensitive and must be unique.
func (r *Registry) Register(b Builder) error {
	key := strings.ToLower(b.Protocol())
	if _, exists := r.builders[key]; exists {
		return fmt.Errorf("protocol %s registered twice", b.Protocol())
	}
	r.builders[key] = b
	return nil
}

// Get returns the builder for protocol or a NOT_FOUND error.
func (r *Registry) Get(protocol string) (Builder, error) {
	b, ok := r.builders[strings.ToLower(protocol)]
	if !ok {
		return nil, svcerrors.NotFound("protocol", protocol)
	}
	return b, nil
}

// Protocols returns the registered names in sorted order.
func (r *Registry) Protocols() []string {
	names := make([]string, 0, len(r.builders))
	for _, b := range r.builders {
		names = append(names, b.Protocol())
	}
	sort.Strings(names)
	return names
}
