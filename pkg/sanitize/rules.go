package sanitize

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Redaction reasons emitted by the builtin rules.
const (
	ReasonInstructionOverride = "instruction_override"
	ReasonPersonaSwap         = "persona_swap"
	ReasonNewInstructions     = "new_instructions"
	ReasonForgetDirective     = "forget_directive"
	ReasonRoleplay            = "roleplay"
	ReasonHeadingInjection    = "heading_injection"
	ReasonSystemTag           = "system_tag"
	ReasonInstructionsTag     = "instructions_tag"
	ReasonInstMarker          = "inst_marker"
	ReasonChatTemplate        = "chat_template"
	ReasonRolePrefix          = "role_prefix"
	ReasonDataURI             = "data_uri"
	ReasonBase64Blob          = "base64_blob"
	ReasonZeroWidth           = "zero_width"
	ReasonBidiOverride        = "bidi_override"
	// ReasonTruncated flags entries cut to the size budget.
	ReasonTruncated = "truncated"
)

// rule pairs a compiled pattern with the reason tag used in its
// replacement literal.
type rule struct {
	reason  string
	pattern *regexp.Regexp
}

// builtinRules returns the fixed detection set. When matches overlap,
// the span starting earliest wins and keeps its reason.
func builtinRules() []rule {
	return []rule{
		{ReasonInstructionOverride, regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|context|prompts?|directions?|constraints?)`)},
		{ReasonInstructionOverride, regexp.MustCompile(`(?i)\bbegin\s+new\s+instructions\b`)},
		{ReasonNewInstructions, regexp.MustCompile(`(?i)\b(new|updated?|revised|secret|hidden)\s+instructions?\s*:`)},
		{ReasonForgetDirective, regexp.MustCompile(`(?i)\bforget\s+(everything|all|your|what|prior)\b`)},
		{ReasonPersonaSwap, regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the)\s+\w+`)},
		{ReasonRoleplay, regexp.MustCompile(`(?i)\b(act|behave|pretend|roleplay)\s+as\s+(if\s+)?(a|an|the)?\s*\w+`)},
		{ReasonHeadingInjection, regexp.MustCompile(`(?i)#{1,3}\s*(system|instructions?|prompt)\s*:`)},
		{ReasonSystemTag, regexp.MustCompile(`(?is)<\s*system\s*>.*?<\s*/\s*system\s*>`)},
		{ReasonSystemTag, regexp.MustCompile(`(?i)<\s*/?\s*system\s*>`)},
		{ReasonInstructionsTag, regexp.MustCompile(`(?is)<\s*instructions?\s*>.*?<\s*/\s*instructions?\s*>`)},
		{ReasonInstMarker, regexp.MustCompile(`(?s)\[INST\].*?\[/INST\]`)},
		{ReasonChatTemplate, regexp.MustCompile(`<\|im_start\|>`)},
		{ReasonChatTemplate, regexp.MustCompile(`\|\s*im_start\s*\|`)},
		{ReasonRolePrefix, regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:`)},
		{ReasonDataURI, regexp.MustCompile(`(?i)data:[a-z0-9.+-]+/[a-z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)},
		{ReasonBase64Blob, regexp.MustCompile(`[A-Za-z0-9+/]{257,}={0,2}`)},
		{ReasonZeroWidth, regexp.MustCompile("[​‌‍⁠\uFEFF]+")},
		// Best-effort bidi set: embeddings, overrides, isolates.
		{ReasonBidiOverride, regexp.MustCompile("[‪-‮⁦-⁩]+")},
	}
}

// RuleFile is the on-disk shape of user-supplied rules:
//
//	[[rule]]
//	pattern = '(?i)override the plan'
//	reason  = "custom_phrase"
//
//	[allowlist]
//	regexes = ['TrustedBot:']
type RuleFile struct {
	Rules     []UserRule `toml:"rule"`
	Allowlist Allowlist  `toml:"allowlist"`
}

// UserRule is one additional detection pattern.
type UserRule struct {
	Pattern string `toml:"pattern"`
	Reason  string `toml:"reason"`
}

// Allowlist lists regexes whose matches are never redacted.
type Allowlist struct {
	Regexes []string `toml:"regexes"`
}

// LoadRuleFile parses and validates a TOML rule file. A missing file is
// an error; callers skip loading when no path is configured. Every
// pattern must compile (fail-fast).
func LoadRuleFile(path string) (*RuleFile, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat rule file: %w", err)
	}

	var rf RuleFile
	if _, err := toml.DecodeFile(path, &rf); err != nil {
		return nil, fmt.Errorf("invalid rule file %s: %w", path, err)
	}

	for _, r := range rf.Rules {
		if r.Reason == "" {
			return nil, fmt.Errorf("rule file %s: rule with pattern %q has no reason", path, r.Pattern)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return nil, fmt.Errorf("rule file %s: invalid pattern %q: %w", path, r.Pattern, err)
		}
	}
	for _, p := range rf.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("rule file %s: invalid allowlist pattern %q: %w", path, p, err)
		}
	}
	return &rf, nil
}
