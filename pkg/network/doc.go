/*
Package network is the network layer: one HTTPS listener per helper,
routed with gorilla/mux, serving two logical APIs that share a single
port and are distinguished purely by URL path.

The Query API (POST /query, POST /query/{id}/input, GET
/query/{id}/status, GET /query/{id}/results) is collector-facing and
carries no client-certificate requirement; its bodies use the same
length-prefixed binary encoding pkg/query already uses for its H2H
control messages (query.EncodeQueryConfig / DecodeQueryConfig /
EncodeQueryState).

The H2H API (POST /query/{id}/prepare, POST /query/{id}/step/{path},
POST /query/{id}/complete) requires a verified client certificate;
security.IdentityFromRequest recovers the caller's HelperIdentity from
the TLS handshake's Subject CN, and each handler delegates to the
matching method on pkg/transport/https.Transport, which already knows
how to route prepare/complete bodies into pkg/query and how to
rendezvous a step's incoming byte stream with whichever gateway
RecvHandle eventually reads it.

Server itself owns none of the protocol logic; it exists to translate
net/http's request/response model into the calls pkg/query and
pkg/transport/https already expose, and to keep the step handler's
goroutine alive until the records stream it handed off has actually
been drained, since returning from ServeHTTP early would let net/http
reclaim the request body out from under a reader running on another
goroutine.
*/
package network
