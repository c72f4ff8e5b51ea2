package market

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ParseFunc extracts the canonical item identifiers from one raw payload.
// Parsers are pure: same payload, same result.
type ParseFunc func(payload []byte) ([]string, error)

// SchemaError reports a payload that does not match the shape expected for
// its source kind. It is never retried: the payload will not get better on
// its own, so the caller skips the cycle instead of hammering the endpoint.
type SchemaError struct {
	Kind   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s payload: %s", e.Kind, e.Reason)
}

// parsers is the static registry keyed by source kind. Validated at config
// load so an unknown kind fails at startup, not at first poll.
var parsers = map[string]ParseFunc{
	"upbit":   parseUpbit,
	"bittrex": parseBittrex,
	"binance": parseBinance,
}

// Parser returns the extraction rule for a source kind.
func Parser(kind string) (ParseFunc, error) {
	p, ok := parsers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown source kind %q (known: %v)", kind, Kinds())
	}
	return p, nil
}

// KnownKind reports whether a parser is registered for kind.
func KnownKind(kind string) bool {
	_, ok := parsers[kind]
	return ok
}

// Kinds lists the registered source kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(parsers))
	for k := range parsers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// parseUpbit handles GET /v1/market/all:
//
//	[{"market":"KRW-BTC","korean_name":...}, ...]
func parseUpbit(payload []byte) ([]string, error) {
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, &SchemaError{Kind: "upbit", Reason: "expected array of objects: " + err.Error()}
	}
	items := make([]string, 0, len(rows))
	for i, row := range rows {
		raw, ok := row["market"]
		if !ok {
			return nil, &SchemaError{Kind: "upbit", Reason: fmt.Sprintf("element %d: missing market field", i)}
		}
		var m string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &SchemaError{Kind: "upbit", Reason: fmt.Sprintf("element %d: market is not a string", i)}
		}
		items = append(items, m)
	}
	return items, nil
}

// parseBittrex handles the v1.1 getmarkets envelope:
//
//	{"success":true,"result":[{"MarketName":"ETH-NPXS","Created":...}, ...]}
func parseBittrex(payload []byte) ([]string, error) {
	var body struct {
		Result []map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &SchemaError{Kind: "bittrex", Reason: "expected result envelope: " + err.Error()}
	}
	if body.Result == nil {
		return nil, &SchemaError{Kind: "bittrex", Reason: "missing result field"}
	}
	items := make([]string, 0, len(body.Result))
	for i, row := range body.Result {
		raw, ok := row["MarketName"]
		if !ok {
			return nil, &SchemaError{Kind: "bittrex", Reason: fmt.Sprintf("result %d: missing MarketName field", i)}
		}
		var m string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &SchemaError{Kind: "bittrex", Reason: fmt.Sprintf("result %d: MarketName is not a string", i)}
		}
		items = append(items, m)
	}
	return items, nil
}

// parseBinance handles GET /api/v3/exchangeInfo:
//
//	{"timezone":"UTC","symbols":[{"symbol":"BTCUSDT",...}, ...]}
func parseBinance(payload []byte) ([]string, error) {
	var body struct {
		Symbols []map[string]json.RawMessage `json:"symbols"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &SchemaError{Kind: "binance", Reason: "expected exchangeInfo envelope: " + err.Error()}
	}
	if body.Symbols == nil {
		return nil, &SchemaError{Kind: "binance", Reason: "missing symbols field"}
	}
	items := make([]string, 0, len(body.Symbols))
	for i, row := range body.Symbols {
		raw, ok := row["symbol"]
		if !ok {
			return nil, &SchemaError{Kind: "binance", Reason: fmt.Sprintf("symbol %d: missing symbol field", i)}
		}
		var m string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &SchemaError{Kind: "binance", Reason: fmt.Sprintf("symbol %d: symbol is not a string", i)}
		}
		items = append(items, m)
	}
	return items, nil
}
