// Package agentmem is the public entry point to the memory store.
//
// A Manager owns one store directory for its lifetime: the observation
// log with its audit chain, the session transcript buffer, the task
// anchor, and run state. Every mutation flows through it, so writes are
// totally ordered and each one lands in the audit chain.
//
// The write protocol is: session messages buffer until the observer
// threshold, then one model call compresses them into observations;
// when the log itself outgrows the reflector threshold, a second model
// call consolidates it in a single atomic rewrite. Manual observations
// and drift warnings append directly. All bodies pass the sanitizer
// before persistence, and external content is additionally wrapped in
// origin-bearing delimiters before any model sees it.
package agentmem
