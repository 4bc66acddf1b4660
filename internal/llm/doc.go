// Package llm contains adapters and failover orchestration for invoking
// large language models. It abstracts away provider-specific APIs behind a
// uniform message contract and routes every request through a primary
// provider with an automatic handoff to a fallback on failure.
package llm
