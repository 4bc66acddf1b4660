// Package api exposes the assistant's REST surface: session token issue,
// synchronous queries, confirmed tool execution, async task management,
// provider statistics, resource and prompt catalogues. Authentication,
// audit and metrics are applied per route; policy enforcement stays in the
// layers below and cannot be bypassed from here.
package api
