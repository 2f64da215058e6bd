package dispatcher

import "testing"

func TestParseFlagsKeyValueAndBool(t *testing.T) {
	fa := parseFlags(trimmedFields("destination-ip 10.0.0.1 port 20000 do-not-fragment count 5"))

	if v, ok := fa.get("destination-ip"); !ok || v != "10.0.0.1" {
		t.Errorf("destination-ip = %q, %v", v, ok)
	}
	if v, ok := fa.get("port"); !ok || v != "20000" {
		t.Errorf("port = %q, %v", v, ok)
	}
	if !fa.flag("do-not-fragment") {
		t.Error("expected do-not-fragment flag to be set")
	}
	if v, ok := fa.get("count"); !ok || v != "5" {
		t.Errorf("count = %q, %v", v, ok)
	}
}

func TestRequireMissingArgument(t *testing.T) {
	fa := parseFlags(nil)
	if _, err := fa.require("name"); err == nil {
		t.Error("expected an error for a missing required argument")
	}
}

func TestGetIntDefault(t *testing.T) {
	fa := parseFlags(trimmedFields("port 862"))
	n, err := fa.getInt("count", 10)
	if err != nil {
		t.Fatalf("getInt: %v", err)
	}
	if n != 10 {
		t.Errorf("expected default 10, got %d", n)
	}
}

func TestGetIntInvalid(t *testing.T) {
	fa := parseFlags(trimmedFields("count not-a-number"))
	if _, err := fa.getInt("count", 0); err == nil {
		t.Error("expected an error for a non-integer value")
	}
}
