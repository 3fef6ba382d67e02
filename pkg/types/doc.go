/*
Package types defines the data model shared by every layer of the helper
runtime: query identity, the immutable query configuration, the
three-party role ring, the leader-chosen role assignment, and the
per-helper query state machine tag.

None of these types carry behavior beyond small, total helper methods
(Role.Left/Right, RoleAssignment lookups). They exist so that
pkg/query, pkg/network, pkg/gateway, and pkg/execctx can all agree on
one vocabulary without importing each other.
*/
package types
