// Package sanitize neutralizes known prompt-injection patterns before
// text enters persistent memory or reaches the model.
//
// Detection is pattern-based and explicitly advisory: it catches the
// known injection families (instruction overrides, persona swaps, role
// prefixes, chat-template markers, smuggled payloads such as data URIs,
// long base64 runs, zero-width and bidi control characters) and makes
// no promise against novel adaptive attacks. Matches are replaced with
// a reason-tagged [REDACTED:<reason>] literal so redactions stay
// visible and attributable in the observation log.
//
// Entry size is budgeted: bodies over the configured limit are cut at a
// rune boundary and suffixed with a [TRUNCATED] marker; callers
// escalate the priority of truncated observations.
//
// External text must additionally be wrapped in <external_content>
// delimiters before it is shown to the model for observation
// extraction.
package sanitize
