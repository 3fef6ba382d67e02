/*
Package security implements the certificate-based identity mechanism:
a helper's HelperIdentity is carried as the subject CN of its TLS
client certificate, and H2H requests authenticate peers by reading
that CN back out of the verified certificate chain.

Certificate provisioning and rotation are explicitly out of scope for
this runtime - this package does not issue or sign certificates. It assumes
certificates already exist on disk (delivered out of band, e.g. by an
operator or an external PKI) and provides:

  - GetCertDir: the on-disk layout convention for a helper's certificate
    material, keyed by HelperIdentity.
  - SaveCertToFile / LoadCertFromFile, SaveCACertToFile / LoadCACertFromFile:
    PEM encode/decode helpers for the node certificate, its key, and the
    trusted CA root.
  - CertExists, CertNeedsRotation, GetCertExpiry, GetCertTimeRemaining,
    ValidateCertChain, GetCertInfo: inspection helpers an operator-facing
    CLI or startup check can use to decide whether a certificate is
    usable or due for replacement.
  - IdentityFromCert / IdentityFromRequest: the authentication boundary
    itself - given a verified peer certificate (or an *http.Request whose
    TLS state already completed client-cert verification), extract the
    HelperIdentity the peer is asserting.

pkg/network's H2H listener is configured with
tls.RequireAndVerifyClientCert against a CA pool built from the trusted
peer set (see pkg/config); IdentityFromRequest only ever returns an
identity for a certificate the TLS handshake already validated against
that pool. This package is not a substitute for that handshake - it
reads the identity the handshake already vouched for.
*/
package security
