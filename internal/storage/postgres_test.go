package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.UTC)
	id := uuid.New()

	cursor := encodeCursor(at, id)
	gotAt, gotID, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotAt.Equal(at) {
		t.Fatalf("timestamp mismatch: %v vs %v", gotAt, at)
	}
	if gotID != id {
		t.Fatalf("id mismatch: %s vs %s", gotID, id)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{
		"not base64 ***",
		"bm8tcGlwZQ==",
		"bm90LWEtdGltZXxub3QtYS11dWlk",
	} {
		if _, _, err := decodeCursor(cursor); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("cursor %q: expected invalid cursor error, got %v", cursor, err)
		}
	}
}

func TestOrderRemaining(t *testing.T) {
	order := Order{
		Quantity:       decimal.NewFromInt(10),
		FilledQuantity: decimal.NewFromInt(3),
	}
	if !order.Remaining().Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected remaining 7, got %s", order.Remaining())
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := parseDecimal("101.25", "price")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.String() != "101.25" {
		t.Fatalf("expected 101.25, got %s", d)
	}
	if _, err := parseDecimal("abc", "price"); err == nil {
		t.Fatalf("expected parse failure")
	}
}
