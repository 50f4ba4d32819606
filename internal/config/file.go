package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
)

// DefaultCacheTTL applies to sources that do not set cache_ttl.
const DefaultCacheTTL = 10 * time.Second

// FileConfig is the YAML portfolio file: pool sources, the token table and
// action protocols.
type FileConfig struct {
	DefaultCacheTTL time.Duration            `yaml:"default_cache_ttl"`
	Sources         []portfolio.SourceConfig `yaml:"sources"`
	Tokens          []portfolio.Token        `yaml:"tokens"`
	Protocols       []ProtocolConfig         `yaml:"protocols"`
}

// ProtocolConfig describes the entry functions of one protocol's module.
type ProtocolConfig struct {
	Name     string `yaml:"name"`
	Module   string `yaml:"module"`
	Deposit  string `yaml:"deposit"`
	Withdraw string `yaml:"withdraw"`
	Claim    string `yaml:"claim"`
	// TokenArgument is "type" to pass the token as a type argument or "value"
	// to pass it as a regular argument.
	TokenArgument string `yaml:"token_argument"`
}

// envRef matches ${VAR}. Bare $name is left alone since GraphQL variables and
// JSONPath roots use it.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// LoadFile reads the YAML file at path. ${VAR} references are expanded from the environment.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio config: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse portfolio config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFileOrDefault returns DefaultFileConfig when path does not exist.
func LoadFileOrDefault(path string) (*FileConfig, error) {
	cfg, err := LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultFileConfig(), nil
	}
	return cfg, err
}

// DefaultFileConfig knows the native coin and nothing else.
func DefaultFileConfig() *FileConfig {
	cfg := &FileConfig{
		Tokens: []portfolio.Token{
			{Address: "0x1::aptos_coin::AptosCoin", Symbol: "APT", Name: "Aptos Coin", Decimals: 8},
			{Address: "0xa", Symbol: "APT", Name: "Aptos Coin", Decimals: 8},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *FileConfig) applyDefaults() {
	if c.DefaultCacheTTL == 0 {
		c.DefaultCacheTTL = DefaultCacheTTL
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Kind == "" {
			s.Kind = portfolio.SourceREST
		}
		if s.CacheTTL == 0 {
			s.CacheTTL = c.DefaultCacheTTL
		}
	}
	for i := range c.Protocols {
		p := &c.Protocols[i]
		if p.Deposit == "" {
			p.Deposit = "deposit"
		}
		if p.Withdraw == "" {
			p.Withdraw = "withdraw"
		}
		if p.Claim == "" {
			p.Claim = "claim_rewards"
		}
		if p.TokenArgument == "" {
			p.TokenArgument = "type"
		}
	}
}

// ResolveViewURLs prefixes view sources whose url is a bare path ("/v1/view")
// with the fullnode base url.
func (c *FileConfig) ResolveViewURLs(fullnode string) {
	if fullnode == "" {
		return
	}
	base := strings.TrimRight(fullnode, "/")
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Kind == portfolio.SourceView && strings.HasPrefix(s.URL, "/") {
			s.URL = base + s.URL
		}
	}
}

// Validate checks names are unique and every variant carries its required fields.
func (c *FileConfig) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("source %s: duplicate name", s.Name)
		}
		seen[s.Name] = true

		if s.URL == "" {
			return fmt.Errorf("source %s: url is required", s.Name)
		}
		switch s.Kind {
		case portfolio.SourceREST:
		case portfolio.SourceGraphQL:
			if s.Query == "" {
				return fmt.Errorf("source %s: graphql sources need a query", s.Name)
			}
		case portfolio.SourceView:
			if s.View == nil || s.View.Function == "" {
				return fmt.Errorf("source %s: view sources need view.function", s.Name)
			}
		default:
			return fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)
		}
		if err := validateTransform(s); err != nil {
			return err
		}
	}

	for i, tok := range c.Tokens {
		if tok.Address == "" {
			return fmt.Errorf("tokens[%d]: address is required", i)
		}
		if tok.Decimals < 0 || tok.Decimals > 32 {
			return fmt.Errorf("token %s: decimals %d out of range", tok.Address, tok.Decimals)
		}
	}

	protocols := make(map[string]bool, len(c.Protocols))
	for i, p := range c.Protocols {
		if p.Name == "" {
			return fmt.Errorf("protocols[%d]: name is required", i)
		}
		if protocols[p.Name] {
			return fmt.Errorf("protocol %s: duplicate name", p.Name)
		}
		protocols[p.Name] = true
		if !strings.Contains(p.Module, "::") {
			return fmt.Errorf("protocol %s: module must be <address>::<module>", p.Name)
		}
		if p.TokenArgument != "type" && p.TokenArgument != "value" {
			return fmt.Errorf("protocol %s: token_argument must be type or value", p.Name)
		}
	}
	return nil
}

func validateTransform(s portfolio.SourceConfig) error {
	switch s.TransformKind() {
	case portfolio.TransformDefault:
		return nil
	case portfolio.TransformMapping:
		if len(s.Transform.Fields) == 0 {
			return fmt.Errorf("source %s: mapping transform needs fields", s.Name)
		}
	case portfolio.TransformScript:
		if strings.TrimSpace(s.Transform.Script) == "" {
			return fmt.Errorf("source %s: script transform needs a script", s.Name)
		}
	case portfolio.TransformCustom:
		if s.Transform.Name == "" {
			return fmt.Errorf("source %s: custom transform needs a name", s.Name)
		}
	default:
		return fmt.Errorf("source %s: unknown transform kind %q", s.Name, s.Transform.Kind)
	}
	return nil
}
