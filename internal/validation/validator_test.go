package validation

import "testing"

const validAccountID = "8a6f0b1e-58b5-4b84-9c5d-3a1a2b3c4d5e"

func fieldIn(errs ValidationErrors, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidOrderRequest(t *testing.T) {
	errs := ValidateOrderRequest(validAccountID, "ssnlf", "BUY", "100.50", "10")
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestMissingFields(t *testing.T) {
	errs := ValidateOrderRequest("", "", "", "", "")
	for _, field := range []string{"account_id", "instrument", "side", "price", "quantity"} {
		if !fieldIn(errs, field) {
			t.Fatalf("expected error for %s, got %v", field, errs)
		}
	}
}

func TestInvalidAccountID(t *testing.T) {
	errs := ValidateOrderRequest("not-a-uuid", "SSNLF", "buy", "100", "10")
	if !fieldIn(errs, "account_id") {
		t.Fatalf("expected account_id error, got %v", errs)
	}
}

func TestInvalidSide(t *testing.T) {
	errs := ValidateOrderRequest(validAccountID, "SSNLF", "hold", "100", "10")
	if !fieldIn(errs, "side") {
		t.Fatalf("expected side error, got %v", errs)
	}
}

func TestInstrumentTooLong(t *testing.T) {
	errs := ValidateOrderRequest(validAccountID, "TOOLONGTICKER", "buy", "100", "10")
	if !fieldIn(errs, "instrument") {
		t.Fatalf("expected instrument error, got %v", errs)
	}
}

func TestNonPositiveAmounts(t *testing.T) {
	errs := ValidateOrderRequest(validAccountID, "SSNLF", "buy", "0", "-5")
	if !fieldIn(errs, "price") || !fieldIn(errs, "quantity") {
		t.Fatalf("expected price and quantity errors, got %v", errs)
	}
}

func TestNonNumericAmounts(t *testing.T) {
	errs := ValidateOrderRequest(validAccountID, "SSNLF", "sell", "abc", "ten")
	if !fieldIn(errs, "price") || !fieldIn(errs, "quantity") {
		t.Fatalf("expected price and quantity errors, got %v", errs)
	}
}

func TestNormalizeInstrument(t *testing.T) {
	if got := NormalizeInstrument("  ssnlf "); got != "SSNLF" {
		t.Fatalf("expected SSNLF, got %q", got)
	}
}

func TestParsePositiveDecimal(t *testing.T) {
	d, err := ParsePositiveDecimal(" 100.25 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.String() != "100.25" {
		t.Fatalf("expected 100.25, got %s", d)
	}
	if _, err := ParsePositiveDecimal("0"); err == nil {
		t.Fatalf("zero must be rejected")
	}
	if _, err := ParsePositiveDecimal("nope"); err == nil {
		t.Fatalf("non-numeric must be rejected")
	}
}
