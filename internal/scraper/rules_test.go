package scraper

import "testing"

func TestRulesetHash_StableAcrossFieldOrder(t *testing.T) {
	a := Ruleset{
		"title": {Selector: "h1"},
		"body":  {Selector: "p", Multiple: true},
	}
	b := Ruleset{
		"body":  {Selector: "p", Multiple: true},
		"title": {Selector: "h1"},
	}

	if RulesetHash(a) != RulesetHash(b) {
		t.Error("expected ruleset hash to be independent of map iteration / construction order")
	}
}

func TestRulesetHash_ChangesWhenRuleChanges(t *testing.T) {
	a := Ruleset{"title": {Selector: "h1"}}
	b := Ruleset{"title": {Selector: "h2"}}

	if RulesetHash(a) == RulesetHash(b) {
		t.Error("expected ruleset hash to change when a selector changes")
	}
}

func TestCacheKey_BindsURLAndRulesetHash(t *testing.T) {
	rules := Ruleset{"title": {Selector: "h1"}}
	key := CacheKey("https://example.com", rules)

	want := "scrape:https://example.com:" + RulesetHash(rules)
	if key != want {
		t.Errorf("expected %q, got %q", want, key)
	}
}

func TestValidateRuleset_RejectsEmpty(t *testing.T) {
	if err := ValidateRuleset(Ruleset{}); err == nil {
		t.Error("expected an error for an empty ruleset")
	}
}

func TestValidateRuleset_RejectsBlankSelector(t *testing.T) {
	if err := ValidateRuleset(Ruleset{"title": {Selector: "  "}}); err == nil {
		t.Error("expected an error for a blank selector")
	}
}

func TestValidateURL_RejectsNonHTTPScheme(t *testing.T) {
	if err := ValidateURL("ftp://example.com"); err == nil {
		t.Error("expected an error for a non-http(s) scheme")
	}
	if err := ValidateURL("javascript:alert(1)"); err == nil {
		t.Error("expected an error for a javascript: pseudo-url")
	}
}

func TestValidateURL_AcceptsHTTPAndHTTPS(t *testing.T) {
	if err := ValidateURL("http://example.com"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateURL("https://example.com"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
