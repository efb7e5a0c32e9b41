// Package identity provides deterministic identifier derivation for the
// session memory registry. All functions are pure: the same inputs always
// produce the same identifier, regardless of which process or session
// performs the derivation. No I/O, no clock reads except where a timestamp
// is an explicit argument.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identifier prefixes. Prefixes make the id class recognizable in logs and
// foreign-key columns without a lookup.
const (
	prefixNamespace = "ns"
	prefixEntity    = "ent"
	prefixInstance  = "ins"
	prefixEdge      = "lnk"
)

// Normalize canonicalizes entity text before hashing: lowercase, interior
// whitespace collapsed to single spaces, leading/trailing whitespace
// stripped. Two restatements that differ only in casing or spacing
// normalize to the same string and therefore the same canonical id.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContentHash returns the full hex SHA-256 of normalized content.
func ContentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// NamespaceID derives a project's namespace identifier from its name.
// The namespace salts all entity identity within the project, so equal
// content in two projects never collides.
func NamespaceID(project string) string {
	return derive(prefixNamespace, 16, project)
}

// CanonicalID derives an entity's canonical identifier from the project
// namespace and the normalized content. It is independent of which session
// or archive mentioned the entity: equal content in the same project always
// maps to the same record.
func CanonicalID(namespace, normalized string) string {
	return derive(prefixEntity, 32, namespace, ContentHash(normalized))
}

// InstanceID derives the identifier of one mention of an entity from the
// session that made it and the session-local reference label. Resubmitting
// the same mention yields the same instance id.
func InstanceID(sessionID, label string) string {
	return derive(prefixInstance, 32, sessionID, label)
}

// EdgeID derives an order-independent identifier for the lineage hop
// between two sessions. EdgeID(a, b) == EdgeID(b, a): the operands are
// sorted before combining, so discovering the same hop from either
// direction yields the same edge.
func EdgeID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return derive(prefixEdge, 32, a, b)
}

// RecordID builds a time-sortable identifier for non-identity records
// (sync audit rows, resolutions). The embedded millisecond timestamp makes
// lexicographic order match creation order, so recency queries need no
// secondary time index. The uuid suffix disambiguates records created in
// the same millisecond.
func RecordID(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%012x-%s", prefix, t.UnixMilli(), uuid.NewString()[:8])
}

// derive hashes the parts with a field separator and returns a prefixed,
// truncated hex digest. The 0x1f separator prevents boundary ambiguity
// ("ab"+"c" vs "a"+"bc").
func derive(prefix string, hexLen int, parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	return prefix + "-" + hex.EncodeToString(h.Sum(nil))[:hexLen]
}
