package derive

import (
	_ "embed"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/weftgraph/weft/internal/werr"
)

// Derivation names a single transformation the worker knows how to run.
// New formats are added by giving a rule a new name here and a case in
// Worker.runDerivation, per spec section 9's "mime-driven derivation
// table is intentionally data-driven" note.
const (
	DerivationSubs          = "subs"
	DerivationWebmTranscode = "webm_transcode"
	DerivationAACTranscode  = "aac_transcode"
	DerivationEpubHTML      = "epub_html"
	DerivationComicExtract  = "comic_extract"
)

// slowDerivations are gated on the include_slow flag (spec section 4.F:
// only the video family is withheld on the fast pass; audio, epub, and
// comic derivations always run). Grounded on original_source/.../
// background.rs's generate_files, whose only `if include_slow` guard is
// on the ("video", _) match arm.
var slowDerivations = map[string]bool{
	DerivationSubs:          true,
	DerivationWebmTranscode: true,
}

// Rule matches a source mimetype against an optional exact value or
// prefix, excluding named subtypes, and names the derivations to run.
type Rule struct {
	MimeExact      string   `toml:"mime_exact"`
	MimePrefix     string   `toml:"mime_prefix"`
	ExceptSubtypes []string `toml:"except_subtypes"`
	Derivations    []string `toml:"derivations"`
}

// RuleSet is an ordered mime-dispatch table.
type RuleSet struct {
	Rules []Rule `toml:"rule"`
}

//go:embed rules.toml
var defaultRulesTOML []byte

// DefaultRules returns the built-in mime-dispatch table (spec section 4.F's
// table), decoded from the embedded rules.toml.
func DefaultRules() (*RuleSet, error) {
	var rs RuleSet
	if _, err := toml.Decode(string(defaultRulesTOML), &rs); err != nil {
		return nil, werr.Integrityf("failed to decode embedded default rules: %w", err)
	}
	return &rs, nil
}

// LoadRules decodes a mime-dispatch table from a TOML file at path,
// letting an operator add a new format without a code change.
func LoadRules(path string) (*RuleSet, error) {
	var rs RuleSet
	if _, err := toml.DecodeFile(path, &rs); err != nil {
		return nil, werr.Inputf("rules_path", "failed to decode derivation rules %q: %w", path, err)
	}
	return &rs, nil
}

// Match returns the derivations named by the first rule whose mime_exact
// or mime_prefix matches mimetype and whose subtype is not excluded, or
// nil if no rule matches.
func (rs *RuleSet) Match(mimetype string) []string {
	subtype := ""
	if i := strings.Index(mimetype, "/"); i >= 0 {
		subtype = mimetype[i+1:]
	}
	for _, r := range rs.Rules {
		if ruleMatches(r, mimetype, subtype) {
			return r.Derivations
		}
	}
	return nil
}

func ruleMatches(r Rule, mimetype, subtype string) bool {
	for _, except := range r.ExceptSubtypes {
		if except == subtype {
			return false
		}
	}
	if r.MimeExact != "" {
		return r.MimeExact == mimetype
	}
	if r.MimePrefix != "" {
		return strings.HasPrefix(mimetype, r.MimePrefix)
	}
	return false
}
