package badger

import (
	"encoding/binary"

	"github.com/poiesic/folio/core"
)

// Key prefixes for different data types.
// Every key continues with ":<tenant>:" so a tenant prefix scan never sees another tenant.
const (
	documentPrefix    = "doc"
	pagePrefix        = "page"
	parentPrefix      = "par"
	childPrefix       = "chd"
	parentChildPrefix = "pch"
	sessionTurnPrefix = "ses"
	sessionSeqPrefix  = "sesn"
	checkpointPrefix  = "chk"
)

// tenantPrefix returns prefix:tenant:
func tenantPrefix(prefix string, tenant core.TenantID) []byte {
	buf := make([]byte, 0, len(prefix)+len(tenant)+2)
	buf = append(buf, prefix...)
	buf = append(buf, ':')
	buf = append(buf, tenant...)
	buf = append(buf, ':')
	return buf
}

// appendID writes an ID in BigEndian order so lexicographic sort matches numeric sort.
func appendID(buf []byte, id core.ID) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// makeDocumentKey generates a key for a document.
// Format: doc:tenant:documentID
func makeDocumentKey(tenant core.TenantID, id core.ID) []byte {
	return appendID(tenantPrefix(documentPrefix, tenant), id)
}

// makePartialPageKey generates the prefix shared by all pages of a document.
// Format: page:tenant:documentID
func makePartialPageKey(tenant core.TenantID, documentID core.ID) []byte {
	return appendID(tenantPrefix(pagePrefix, tenant), documentID)
}

// makePageKey generates a key for a page.
// Format: page:tenant:documentID:pageNumber
func makePageKey(tenant core.TenantID, documentID core.ID, page int) []byte {
	return binary.BigEndian.AppendUint32(makePartialPageKey(tenant, documentID), uint32(page))
}

// makeParentKey generates a key for a parent chunk.
// Format: par:tenant:parentID
func makeParentKey(tenant core.TenantID, id core.ID) []byte {
	return appendID(tenantPrefix(parentPrefix, tenant), id)
}

// makeChildKey generates a key for a child chunk.
// Format: chd:tenant:childID
func makeChildKey(tenant core.TenantID, id core.ID) []byte {
	return appendID(tenantPrefix(childPrefix, tenant), id)
}

// makePartialParentChildKey generates the prefix of a parent's child index.
// Format: pch:tenant:parentID
func makePartialParentChildKey(tenant core.TenantID, parentID core.ID) []byte {
	return appendID(tenantPrefix(parentChildPrefix, tenant), parentID)
}

// makeParentChildKey generates a composite key for the parent to child index.
// Format: pch:tenant:parentID:childID
func makeParentChildKey(tenant core.TenantID, parentID, childID core.ID) []byte {
	return appendID(makePartialParentChildKey(tenant, parentID), childID)
}

// childIDFromIndexKey extracts the child ID from a parent to child index key.
func childIDFromIndexKey(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makePartialSessionKey generates the prefix shared by all turns of a session.
// Format: ses:tenant:sessionID:
func makePartialSessionKey(tenant core.TenantID, sessionID string) []byte {
	buf := tenantPrefix(sessionTurnPrefix, tenant)
	buf = append(buf, sessionID...)
	return append(buf, ':')
}

// makeSessionTurnKey generates a key for a session turn.
// Format: ses:tenant:sessionID:sequence
func makeSessionTurnKey(tenant core.TenantID, sessionID string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(makePartialSessionKey(tenant, sessionID), seq)
}

// makeSessionSeqKey generates the key holding a session's next turn sequence.
// Format: sesn:tenant:sessionID
func makeSessionSeqKey(tenant core.TenantID, sessionID string) []byte {
	return append(tenantPrefix(sessionSeqPrefix, tenant), sessionID...)
}

// makeCheckpointKey generates a key for a tenant's job checkpoint.
// Format: chk:tenant:processorType
func makeCheckpointKey(tenant core.TenantID, processorType string) []byte {
	return append(tenantPrefix(checkpointPrefix, tenant), processorType...)
}
