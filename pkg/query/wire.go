package query

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ipaproto/helper/pkg/types"
)

// Control-message bodies exchanged over RoutePrepareQuery carry a
// stable binary encoding of the structs involved: strings are
// length-prefixed, and integers, flags and keys have fixed widths. Two message
// shapes share the route, distinguished by a leading kind
// byte: prepareKindRequest is the leader's initial prepare, carrying
// the query config, role assignment, and the leader's own PRSS public
// key; prepareKindFinalize is a second round the leader sends once it
// has collected both followers' public keys, relaying each follower's
// ring neighbor's key so H2 and H3 (who never talk to each other
// directly in the Query API) can still agree their own pairwise PRSS
// seed.

const (
	prepareKindRequest  byte = 0
	prepareKindFinalize byte = 1
)

type prepareRequest struct {
	Config       types.QueryConfig
	Roles        types.RoleAssignment
	LeaderPublic [32]byte
	MACKeyScalar uint64
}

type prepareFinalize struct {
	PeerPublic [32]byte
}

func putString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("query: wire: read string length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("query: wire: read string body: %w", err)
	}
	return string(b), nil
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func getUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("query: wire: read uint32: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func getUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("query: wire: read uint64: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func putBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func getBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("query: wire: read bool: %w", err)
	}
	return b != 0, nil
}

func encodeQueryConfig(buf *bytes.Buffer, cfg types.QueryConfig) {
	putString(buf, string(cfg.Type))
	putString(buf, string(cfg.Field))
	putUint32(buf, cfg.RecordCount)
	putUint32(buf, cfg.VectorWidth)
	putBool(buf, cfg.MaliciousSecurity)

	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	putUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		putString(buf, k)
		putUint32(buf, cfg.Params[k])
	}
}

func decodeQueryConfig(r *bytes.Reader) (types.QueryConfig, error) {
	var cfg types.QueryConfig

	qType, err := getString(r)
	if err != nil {
		return cfg, err
	}
	field, err := getString(r)
	if err != nil {
		return cfg, err
	}
	recordCount, err := getUint32(r)
	if err != nil {
		return cfg, err
	}
	vectorWidth, err := getUint32(r)
	if err != nil {
		return cfg, err
	}
	malicious, err := getBool(r)
	if err != nil {
		return cfg, err
	}
	paramCount, err := getUint32(r)
	if err != nil {
		return cfg, err
	}
	params := make(map[string]uint32, paramCount)
	for i := uint32(0); i < paramCount; i++ {
		k, err := getString(r)
		if err != nil {
			return cfg, err
		}
		v, err := getUint32(r)
		if err != nil {
			return cfg, err
		}
		params[k] = v
	}

	cfg.Type = types.QueryType(qType)
	cfg.Field = types.FieldID(field)
	cfg.RecordCount = recordCount
	cfg.VectorWidth = vectorWidth
	cfg.MaliciousSecurity = malicious
	cfg.Params = params
	return cfg, nil
}

func encodeRoleAssignment(buf *bytes.Buffer, roles types.RoleAssignment) {
	putString(buf, string(roles.IdentityOf(types.RoleH1)))
	putString(buf, string(roles.IdentityOf(types.RoleH2)))
	putString(buf, string(roles.IdentityOf(types.RoleH3)))
}

func decodeRoleAssignment(r *bytes.Reader) (types.RoleAssignment, error) {
	h1, err := getString(r)
	if err != nil {
		return types.RoleAssignment{}, err
	}
	h2, err := getString(r)
	if err != nil {
		return types.RoleAssignment{}, err
	}
	h3, err := getString(r)
	if err != nil {
		return types.RoleAssignment{}, err
	}
	return types.NewRoleAssignment(types.HelperIdentity(h1), []types.HelperIdentity{types.HelperIdentity(h2), types.HelperIdentity(h3)})
}

func encodePrepareRequest(req prepareRequest) []byte {
	var buf bytes.Buffer
	buf.WriteByte(prepareKindRequest)
	encodeQueryConfig(&buf, req.Config)
	encodeRoleAssignment(&buf, req.Roles)
	buf.Write(req.LeaderPublic[:])
	putUint64(&buf, req.MACKeyScalar)
	return buf.Bytes()
}

func encodePrepareFinalize(msg prepareFinalize) []byte {
	var buf bytes.Buffer
	buf.WriteByte(prepareKindFinalize)
	buf.Write(msg.PeerPublic[:])
	return buf.Bytes()
}

// decodePrepareBody sniffs the leading kind byte and returns exactly
// one of (*prepareRequest, *prepareFinalize) populated.
func decodePrepareBody(body []byte) (*prepareRequest, *prepareFinalize, error) {
	if len(body) == 0 {
		return nil, nil, fmt.Errorf("query: wire: empty prepare body")
	}
	kind := body[0]
	r := bytes.NewReader(body[1:])

	switch kind {
	case prepareKindRequest:
		cfg, err := decodeQueryConfig(r)
		if err != nil {
			return nil, nil, err
		}
		roles, err := decodeRoleAssignment(r)
		if err != nil {
			return nil, nil, err
		}
		var pub [32]byte
		if _, err := io.ReadFull(r, pub[:]); err != nil {
			return nil, nil, fmt.Errorf("query: wire: read leader public key: %w", err)
		}
		macKey, err := getUint64(r)
		if err != nil {
			return nil, nil, err
		}
		return &prepareRequest{Config: cfg, Roles: roles, LeaderPublic: pub, MACKeyScalar: macKey}, nil, nil

	case prepareKindFinalize:
		var pub [32]byte
		if _, err := io.ReadFull(r, pub[:]); err != nil {
			return nil, nil, fmt.Errorf("query: wire: read peer public key: %w", err)
		}
		return nil, &prepareFinalize{PeerPublic: pub}, nil

	default:
		return nil, nil, fmt.Errorf("query: wire: unknown prepare message kind %d", kind)
	}
}

// EncodeQueryConfig renders cfg in the same length-prefixed binary
// encoding used for prepare bodies, for pkg/network's `POST /query`
// Query API handler.
func EncodeQueryConfig(cfg types.QueryConfig) []byte {
	var buf bytes.Buffer
	encodeQueryConfig(&buf, cfg)
	return buf.Bytes()
}

// DecodeQueryConfig is the inverse of EncodeQueryConfig.
func DecodeQueryConfig(data []byte) (types.QueryConfig, error) {
	return decodeQueryConfig(bytes.NewReader(data))
}

// EncodeQueryState renders the collector-visible fields of a
// QueryState (tag, failure reason, failure detail) for pkg/network's
// `GET /query/{id}/status` handler. OutputShares are served separately
// by `GET /query/{id}/results`.
func EncodeQueryState(s types.QueryState) []byte {
	var buf bytes.Buffer
	putString(&buf, string(s.Tag))
	putString(&buf, string(s.FailureReason))
	putString(&buf, s.FailureDetail)
	return buf.Bytes()
}

// DecodeQueryState is the inverse of EncodeQueryState.
func DecodeQueryState(data []byte) (types.QueryStateTag, types.FailureReason, string, error) {
	r := bytes.NewReader(data)
	tag, err := getString(r)
	if err != nil {
		return "", "", "", err
	}
	reason, err := getString(r)
	if err != nil {
		return "", "", "", err
	}
	detail, err := getString(r)
	if err != nil {
		return "", "", "", err
	}
	return types.QueryStateTag(tag), types.FailureReason(reason), detail, nil
}
