// Package agent contains the request pipeline at the core of the assistant.
//
// A query moves through seven stages: parse, permission check, tool
// selection, concurrent execution, policy filtering, aggregation and
// response synthesis; a missing grant short-circuits into the error
// response branch. Whatever fails along the way, the pipeline always
// terminates with a complete {response, sources, errors} triple. When a
// write intent is detected the pipeline dispatches read tools only and
// renders the pending action as a confirmation message; the write itself
// must be re-initiated externally after explicit confirmation.
package agent
