package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dop251/goja"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
)

const (
	DefaultScriptTimeout = time.Second
	DefaultScriptEntry   = "transform"
	MaxScriptSize        = 64 * 1024
)

// CustomTransform converts a raw source body into pools.
type CustomTransform func(body []byte, src portfolio.SourceConfig) ([]portfolio.Pool, error)

// defaultFields maps pool fields to their key in the default envelope items.
var defaultFields = map[string]string{
	"id":          "id",
	"protocol":    "protocol",
	"asset":       "asset",
	"apr":         "apr",
	"totalStaked": "totalStaked",
	"minStake":    "minStake",
	"maxStake":    "maxStake",
	"isActive":    "isActive",
}

// Transformer applies a source's Transform variant to its body.
type Transformer struct {
	mu            sync.RWMutex
	custom        map[string]CustomTransform
	scriptTimeout time.Duration
}

// NewTransformer creates a transformer with no custom transforms.
func NewTransformer() *Transformer {
	return &Transformer{
		custom:        make(map[string]CustomTransform),
		scriptTimeout: DefaultScriptTimeout,
	}
}

// RegisterCustom makes fn available to sources with transform kind "custom" and this name.
func (t *Transformer) RegisterCustom(name string, fn CustomTransform) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.custom[name] = fn
}

// Apply converts body into pools. Panics in transform code are returned as errors.
func (t *Transformer) Apply(ctx context.Context, src portfolio.SourceConfig, body []byte) (pools []portfolio.Pool, err error) {
	defer func() {
		if r := recover(); r != nil {
			pools = nil
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()

	switch src.TransformKind() {
	case portfolio.TransformDefault:
		return decodeEnvelope(body, src)
	case portfolio.TransformMapping:
		return applyMapping(body, src)
	case portfolio.TransformScript:
		return t.runScript(ctx, body, src)
	case portfolio.TransformCustom:
		t.mu.RLock()
		fn, ok := t.custom[src.Transform.Name]
		t.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("custom transform %q not registered", src.Transform.Name)
		}
		return fn(body, src)
	default:
		return nil, fmt.Errorf("unknown transform kind %q", src.Transform.Kind)
	}
}

// =============================================================================
// default
// =============================================================================

// decodeEnvelope reads {data: [...]} with items already in pool shape.
func decodeEnvelope(body []byte, src portfolio.SourceConfig) ([]portfolio.Pool, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json")
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("response is not a {data: [...]} envelope")
	}
	return poolsFromItems(data, nil, src)
}

// =============================================================================
// mapping
// =============================================================================

func applyMapping(body []byte, src portfolio.SourceConfig) ([]portfolio.Pool, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json")
	}

	items := gjson.ParseBytes(body)
	if root := strings.TrimSpace(src.Transform.Root); root != "" && root != "$" {
		var doc interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		selected, err := jsonpath.Get(root, doc)
		if err != nil {
			return nil, fmt.Errorf("jsonpath %s: %w", root, err)
		}
		raw, err := json.Marshal(selected)
		if err != nil {
			return nil, fmt.Errorf("re-encode %s: %w", root, err)
		}
		items = gjson.ParseBytes(raw)
	}

	if !items.IsArray() {
		return nil, fmt.Errorf("mapping root does not select an array")
	}
	return poolsFromItems(items, src.Transform.Fields, src)
}

// =============================================================================
// script
// =============================================================================

// runScript evaluates the source script in a fresh goja runtime and calls its
// entry function with the parsed body. The function must return an array of
// pool-shaped objects.
func (t *Transformer) runScript(ctx context.Context, body []byte, src portfolio.SourceConfig) ([]portfolio.Pool, error) {
	script := src.Transform.Script
	if len(script) > MaxScriptSize {
		return nil, fmt.Errorf("script exceeds maximum size of %d bytes", MaxScriptSize)
	}

	var input interface{}
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	vm := goja.New()

	timeout := t.scriptTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("execution timeout")
		case <-ctx.Done():
			vm.Interrupt("cancelled")
		case <-done:
		}
	}()
	defer close(done)

	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}

	entry := src.Transform.Entry
	if entry == "" {
		entry = DefaultScriptEntry
	}
	entryFn, ok := goja.AssertFunction(vm.Get(entry))
	if !ok {
		return nil, fmt.Errorf("entry point '%s' is not a function", entry)
	}

	result, err := entryFn(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		return nil, fmt.Errorf("execution error: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, fmt.Errorf("entry point '%s' returned nothing", entry)
	}

	raw, err := json.Marshal(result.Export())
	if err != nil {
		return nil, fmt.Errorf("encode script result: %w", err)
	}
	items := gjson.ParseBytes(raw)
	if !items.IsArray() {
		return nil, fmt.Errorf("entry point '%s' must return an array", entry)
	}
	return poolsFromItems(items, nil, src)
}

// =============================================================================
// Pool construction
// =============================================================================

func poolsFromItems(items gjson.Result, fields map[string]string, src portfolio.SourceConfig) ([]portfolio.Pool, error) {
	arr := items.Array()
	pools := make([]portfolio.Pool, 0, len(arr))
	for i, item := range arr {
		if !item.IsObject() {
			return nil, fmt.Errorf("item %d is not an object", i)
		}
		pools = append(pools, poolFromItem(item, fields, src))
	}
	return pools, nil
}

func poolFromItem(item gjson.Result, fields map[string]string, src portfolio.SourceConfig) portfolio.Pool {
	get := func(field string) gjson.Result {
		path, ok := fields[field]
		if !ok {
			path = defaultFields[field]
		}
		return item.Get(path)
	}

	pool := portfolio.Pool{
		ID:          scalarString(get("id")),
		Protocol:    scalarString(get("protocol")),
		Asset:       scalarString(get("asset")),
		APR:         get("apr").Float(),
		TotalStaked: scalarString(get("totalStaked")),
		MinStake:    scalarString(get("minStake")),
		MaxStake:    scalarString(get("maxStake")),
		IsActive:    true,
	}
	if active := get("isActive"); active.Exists() && active.Type != gjson.Null {
		pool.IsActive = active.Bool()
	}

	if pool.Protocol == "" {
		pool.Protocol = src.Protocol
	}
	if pool.Protocol == "" {
		pool.Protocol = src.Name
	}
	if pool.ID == "" {
		pool.ID = pool.Protocol + ":" + pool.Asset
	}
	if pool.TotalStaked == "" {
		pool.TotalStaked = "0"
	}
	return pool
}

// scalarString renders numbers by their literal text so minimal-unit integers keep every digit.
func scalarString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	case gjson.True, gjson.False:
		return v.Raw
	default:
		return ""
	}
}
