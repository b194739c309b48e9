package main

import "testing"

func TestEnvFlag_AccumulatesEntries(t *testing.T) {
	var e envFlag
	if err := e.Set("FOO=bar"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Set("BAZ=qux"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(e) != 2 || e[0] != "FOO=bar" || e[1] != "BAZ=qux" {
		t.Fatalf("got %v, want [FOO=bar BAZ=qux]", e)
	}
}

func TestEnvFlag_StringNonEmpty(t *testing.T) {
	e := envFlag{"FOO=bar"}
	if e.String() == "" {
		t.Fatal("expected a non-empty String() representation")
	}
}
