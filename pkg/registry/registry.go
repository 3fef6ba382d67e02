// Package registry holds the fixed, closed dispatch table: a
// QueryType maps to exactly one protocol Driver, decided once at
// package init and never mutated afterward. There is no Register
// function — adding a protocol means adding a line here and
// recompiling the runtime, not a runtime plugin call. Clients cannot
// add protocols at runtime.
package registry

import (
	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/protocols"
	"github.com/ipaproto/helper/pkg/types"
)

var drivers = map[types.QueryType]protocols.Driver{
	types.QueryTypeTestBooleanAnd: protocols.BooleanAND,
	types.QueryTypeTestFieldSum:   protocols.VectorSum,
	types.QueryTypeIPA:            protocols.IPA,
	types.QueryTypeLogistic:       protocols.LogisticStub,
}

// Lookup resolves a QueryType to its driver. An unknown type is a
// bad query config, not a programmer error — callers reach this from
// a query a leader or client constructed, so the failure is reported
// back as KindBadInput rather than panicking.
func Lookup(t types.QueryType) (protocols.Driver, error) {
	d, ok := drivers[t]
	if !ok {
		return nil, apperr.Newf(apperr.KindBadInput, "registry: unknown query type %q", t)
	}
	return d, nil
}

// Supported reports the closed set of query types this runtime
// revision's registry recognizes, in a fixed, stable order for
// display (e.g. in an error message or a status endpoint).
func Supported() []types.QueryType {
	return []types.QueryType{
		types.QueryTypeTestBooleanAnd,
		types.QueryTypeTestFieldSum,
		types.QueryTypeIPA,
		types.QueryTypeLogistic,
	}
}
