package hookpipeline

import "testing"

func TestOrderedStringPairs_PreservesJSONKeyOrder(t *testing.T) {
	pairs, err := orderedStringPairs([]byte(`{"lodash":"^4.17.21","zod":"^3.24.2"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pairs) != 2 || pairs[0].Key != "lodash" || pairs[1].Key != "zod" {
		t.Fatalf("expected order [lodash, zod], got %+v", pairs)
	}
}

func TestDiffSection_UpdatedAddedRemovedInCurrentThenLeftoverPreviousOrder(t *testing.T) {
	current := []kv{{Key: "lodash", Value: "^4.17.21"}, {Key: "zod", Value: "^3.24.2"}}
	previous := []kv{{Key: "lodash", Value: "^4.17.20"}, {Key: "chalk", Value: "^5.0.0"}}

	changes := diffSection("dependencies", current, previous)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %+v", len(changes), changes)
	}
	if changes[0].Name != "lodash" || changes[0].Detail != "^4.17.20→^4.17.21" {
		t.Fatalf("expected lodash updated first, got %+v", changes[0])
	}
	if changes[1].Name != "zod" {
		t.Fatalf("expected zod added second, got %+v", changes[1])
	}
	if changes[2].Name != "chalk" {
		t.Fatalf("expected chalk removed third, got %+v", changes[2])
	}
}

func TestParseSections_MalformedJSONReturnsNotOK(t *testing.T) {
	if _, ok := parseSections([]byte(`{not json`)); ok {
		t.Fatal("expected malformed JSON to report not-ok")
	}
}

func TestParseSections_MissingSectionsAreOmitted(t *testing.T) {
	sections, ok := parseSections([]byte(`{"name":"pkg"}`))
	if !ok {
		t.Fatal("expected valid JSON with no dependency sections to parse ok")
	}
	if len(sections) != 0 {
		t.Fatalf("expected no sections, got %+v", sections)
	}
}
