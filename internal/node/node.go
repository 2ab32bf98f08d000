// Package node implements the tagged-union Node and Triple types that are
// the atoms of the graph: a node is either a File (a content-addressed blob
// reference) or a Value (an arbitrary JSON scalar, array, or object).
//
// Nodes serialise to a canonical envelope ({"t": ..., "v": ...}) that is the
// only form stored in the graph store's object column, so the same column
// can be queried by type and by value without a schema migration per node
// kind.
package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/weftgraph/weft/internal/werr"
)

// Kind tags which variant a Node holds.
type Kind string

const (
	KindFile   Kind = "file"
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

// FileHash is a strong content hash in "<algorithm>:<hex>" form, e.g.
// "sha256:9f86d0...". It is the textual identity of a blob in the file
// blob store (component C) and must match the blob's computed hash
// byte-for-byte (spec section 3 invariants).
type FileHash string

var fileHashPattern = regexp.MustCompile(`^[a-z0-9]+:[0-9a-f]{16,128}$`)

// ParseFileHash validates and returns h as a FileHash. It does not verify
// the hash against any blob; callers that need that guarantee should use
// blobstore.Store.Read or the commit path's hash verification.
func ParseFileHash(h string) (FileHash, error) {
	if !fileHashPattern.MatchString(h) {
		return "", werr.Inputf("hash", "malformed file hash %q", h)
	}
	return FileHash(h), nil
}

// Node is a tagged union: either a File reference or a Value. The zero
// Node is not valid; construct with NewFile or NewValue.
type Node struct {
	kind Kind
	file FileHash
	val  any // nil, bool, json.Number, string, []any, or map[string]any
}

// NewFile constructs a File node.
func NewFile(hash FileHash) Node {
	return Node{kind: KindFile, file: hash}
}

// NewNull, NewBool, NewNumber, NewString construct scalar Value nodes.
func NewNull() Node           { return Node{kind: KindNull} }
func NewBool(b bool) Node     { return Node{kind: KindBool, val: b} }
func NewString(s string) Node { return Node{kind: KindString, val: s} }

// NewNumber constructs a Value node from a decimal literal, preserving its
// exact text (arbitrary precision: never silently coerced to float64).
func NewNumber(literal string) (Node, error) {
	n := json.Number(literal)
	if _, err := n.Float64(); err != nil {
		return Node{}, werr.Inputf("value", "not a valid JSON number: %q", literal)
	}
	return Node{kind: KindNumber, val: n}, nil
}

// NewArray and NewObject construct opaque compound Value nodes: they
// participate in structural equality and hashing but cannot be compared
// with typed filter suffix operators (spec section 4.D).
func NewArray(v []any) Node         { return Node{kind: KindArray, val: v} }
func NewObject(v map[string]any) Node { return Node{kind: KindObject, val: v} }

func (n Node) Kind() Kind { return n.kind }

// File returns the node's hash and true if the node is a File; otherwise
// ("", false).
func (n Node) File() (FileHash, bool) {
	if n.kind != KindFile {
		return "", false
	}
	return n.file, true
}

// Scalar returns the node's decoded payload for non-File kinds: nil for
// null, bool for bool, json.Number for number, string for string, []any
// for array, map[string]any for object.
func (n Node) Scalar() any { return n.val }

// MarshalJSON encodes the node as its canonical envelope ({"t": ..., "v":
// ...}), built path-at-a-time with sjson rather than a struct literal so
// the "v" payload can be spliced in as raw JSON without a double
// marshal/unmarshal round trip.
func (n Node) MarshalJSON() ([]byte, error) {
	out, err := sjson.SetBytes(nil, "t", string(n.kind))
	if err != nil {
		return nil, err
	}
	switch n.kind {
	case KindFile:
		out, err = sjson.SetBytes(out, "v", string(n.file))
	case KindNull:
		out, err = sjson.SetRawBytes(out, "v", []byte("null"))
	default:
		var raw []byte
		raw, err = marshalCanonical(n.val)
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetRawBytes(out, "v", raw)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnmarshalJSON decodes a canonical envelope, failing with a werr
// KindInput error (MalformedNode) if "t" is missing or inconsistent with
// "v". Uses gjson to pull "t" and "v" out of data without committing to
// a struct shape, since "v" may be any JSON type depending on "t".
func (n *Node) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return werr.Inputf("t", "malformed node envelope: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	tRes := root.Get("t")
	if !tRes.Exists() || tRes.Type != gjson.String {
		return werr.Inputf("t", "malformed node: missing type tag")
	}
	envT := tRes.String()
	vRes := root.Get("v")
	if !vRes.Exists() {
		return werr.Inputf("v", "malformed node: missing value for type %q", envT)
	}
	rawV := []byte(vRes.Raw)

	kind := Kind(envT)
	switch kind {
	case KindFile:
		var s string
		if err := json.Unmarshal(rawV, &s); err != nil {
			return werr.Inputf("v", "file node value must be a string hash: %v", err)
		}
		hash, err := ParseFileHash(s)
		if err != nil {
			return err
		}
		*n = Node{kind: KindFile, file: hash}
		return nil
	case KindNull, KindBool, KindNumber, KindString, KindArray, KindObject:
		val, decodedKind, err := decodeValue(rawV)
		if err != nil {
			return werr.Input("v", err)
		}
		if decodedKind != kind {
			return werr.Inputf("t", "node type tag %q inconsistent with value kind %q", envT, decodedKind)
		}
		*n = Node{kind: kind, val: val}
		return nil
	default:
		return werr.Inputf("t", "unrecognised node type tag %q", envT)
	}
}

// decodeValue decodes a raw JSON value into the in-memory representation
// used by Node.val, returning the Kind it corresponds to.
func decodeValue(raw json.RawMessage) (any, Kind, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, "", fmt.Errorf("malformed JSON value: %w", err)
	}
	switch t := v.(type) {
	case nil:
		return nil, KindNull, nil
	case bool:
		return t, KindBool, nil
	case json.Number:
		return t, KindNumber, nil
	case string:
		return t, KindString, nil
	case []any:
		return t, KindArray, nil
	case map[string]any:
		return t, KindObject, nil
	default:
		return nil, "", fmt.Errorf("unrecognised decoded JSON type %T", v)
	}
}

// marshalCanonical re-encodes v canonically: object keys are sorted
// (encoding/json.Marshal already sorts map[string]any keys), and numbers
// keep their original decimal text via json.Number.
func marshalCanonical(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Fingerprint returns a stable string suitable as a map key for this node:
// two nodes compare equal (structurally) iff their fingerprints are equal.
// Needed because Node.val may hold a Go map or slice, which are not
// themselves comparable.
func (n Node) Fingerprint() string {
	data, err := n.MarshalJSON()
	if err != nil {
		// MarshalJSON only fails on non-UTF8 strings smuggled in via
		// NewString/NewArray/NewObject, which is a caller bug, not a
		// recoverable runtime condition.
		panic(fmt.Sprintf("node: cannot fingerprint malformed node: %v", err))
	}
	return string(data)
}

// Equal reports structural equality: same kind and same canonical value.
func (n Node) Equal(o Node) bool {
	return n.Fingerprint() == o.Fingerprint()
}

// String returns a human-readable form for logging, not the canonical
// encoding.
func (n Node) String() string {
	switch n.kind {
	case KindFile:
		return fmt.Sprintf("File(%s)", n.file)
	default:
		data, err := marshalCanonical(n.val)
		if err != nil {
			return fmt.Sprintf("Value(<unencodable: %v>)", err)
		}
		return fmt.Sprintf("Value(%s)", data)
	}
}
