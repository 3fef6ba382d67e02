/*
Package crypto provides the AEAD sealing/opening used on the `input`
Query API call: a collector streams encrypted record blobs to
each helper, which must decrypt them before parsing out its local
secret-share elements.

This is transport-level confidentiality between a collector and one
helper, not the secret-sharing scheme itself (pkg/share) and not the
interactive protocol (pkg/protocols, pkg/execctx). Key distribution is
out of band, mirroring how pkg/security treats certificate provisioning
as an external concern.
*/
package crypto
