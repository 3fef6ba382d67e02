/*
Package query implements the per-helper query processor: the state
machine (Empty -> Preparing -> AwaitingInputs -> Running ->
Completed/Failed) driving one query on one helper, plus the leader-side
fan-out of `prepare` and `complete` to its two followers.

Processor owns every QueryId this helper currently tracks. The leader
path (CreateQuery) allocates a QueryId, assigns roles, and runs a
two-round PRSS key-agreement handshake with both followers over
RoutePrepareQuery before arming a gateway.Gateway, prss.Generator,
validator.Validator, and execctx.Context for the query (wire.go
documents the handshake's message shapes). The follower path
(handlePrepareRequest / handlePrepareFinalize, reached through the
Transport's RoutePrepareQuery registration) mirrors the same
arming once it has both halves of its own pairwise seeds.

SubmitInput buffers decrypted records until RecordCount have arrived,
then hands them to the registry-resolved protocols.Driver on a
background goroutine; Status and Results are read-only lookups a
collector polls. TimeoutSupervisor (timeout.go) is a ticking sweep,
grounded in the same pattern as the shape of a periodic reconciliation
loop, that fails any query stuck past its wall-clock deadline
regardless of which state it is stuck in.
*/
package query
