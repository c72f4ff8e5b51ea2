package market

import (
	"errors"
	"testing"
)

func TestParseUpbit(t *testing.T) {
	payload := []byte(`[{"market":"KRW-BTC","korean_name":"비트코인"},{"market":"BTC-NCASH"}]`)
	items, err := parseUpbit(payload)
	if err != nil {
		t.Fatalf("parseUpbit: %v", err)
	}
	if len(items) != 2 || items[0] != "KRW-BTC" || items[1] != "BTC-NCASH" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestParseUpbitMissingField(t *testing.T) {
	payload := []byte(`[{"name":"KRW-BTC"}]`)
	_, err := parseUpbit(payload)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if se.Kind != "upbit" {
		t.Fatalf("unexpected kind: %s", se.Kind)
	}
}

func TestParseUpbitWrongShape(t *testing.T) {
	if _, err := parseUpbit([]byte(`{"market":"KRW-BTC"}`)); err == nil {
		t.Fatal("expected error for non-array payload")
	}
	if _, err := parseUpbit([]byte(`[{"market":42}]`)); err == nil {
		t.Fatal("expected error for non-string market")
	}
}

func TestParseBittrex(t *testing.T) {
	payload := []byte(`{"success":true,"message":"","result":[{"MarketName":"ETH-NPXS","Created":"2018-12-06T17:40:19.817"},{"MarketName":"BTC-LTC"}]}`)
	items, err := parseBittrex(payload)
	if err != nil {
		t.Fatalf("parseBittrex: %v", err)
	}
	if len(items) != 2 || items[0] != "ETH-NPXS" || items[1] != "BTC-LTC" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestParseBittrexMissingResult(t *testing.T) {
	_, err := parseBittrex([]byte(`{"success":true}`))
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestParseBinance(t *testing.T) {
	payload := []byte(`{"timezone":"UTC","symbols":[{"symbol":"BTCUSDT","status":"TRADING"},{"symbol":"ETHUSDT"}]}`)
	items, err := parseBinance(payload)
	if err != nil {
		t.Fatalf("parseBinance: %v", err)
	}
	if len(items) != 2 || items[0] != "BTCUSDT" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestParserRegistry(t *testing.T) {
	for _, kind := range []string{"upbit", "bittrex", "binance"} {
		if !KnownKind(kind) {
			t.Errorf("expected %s to be known", kind)
		}
		if _, err := Parser(kind); err != nil {
			t.Errorf("Parser(%s): %v", kind, err)
		}
	}
	if KnownKind("kraken") {
		t.Error("kraken should not be registered")
	}
	if _, err := Parser("kraken"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
