// Package schema supplies the static per-collection property tables the
// ORM and document write pipeline dispatch on: for every typed
// property, which kind of index it carries, whether it is required, and
// the bound on its stored length.
package schema

import "github.com/cuemby/driftbox/pkg/dkey"

// PropertyId names one property within a collection's property table.
type PropertyId uint16

// IndexKind is the small closed set of index shapes a property can have,
// the dynamic-dispatch trait every typed property is generic over.
type IndexKind int

const (
	KindNone IndexKind = iota
	KindText
	KindTextList
	KindInteger
	KindLongInteger
	KindIntegerList
)

// PropertyDef describes one property's storage and indexing shape.
type PropertyDef struct {
	Id        PropertyId
	Name      string
	Kind      IndexKind
	Field     dkey.FieldId
	Required  bool
	MaxLength int // 0 means unbounded
	Stored    bool
	Indexed   bool
}

// Table is an ordered property table for one collection.
type Table struct {
	Collection dkey.Collection
	Order      []PropertyId
	Defs       map[PropertyId]PropertyDef
}

func newTable(coll dkey.Collection, defs []PropertyDef) Table {
	t := Table{Collection: coll, Defs: make(map[PropertyId]PropertyDef, len(defs))}
	for _, d := range defs {
		t.Order = append(t.Order, d.Id)
		t.Defs[d.Id] = d
	}
	return t
}

// Mail properties: subject/from/to are sortable text, receivedAt is a
// sortable integer, and the raw text body feeds full-text indexing
// only (not stored).
const (
	MailSubject PropertyId = iota + 1
	MailFrom
	MailTo
	MailReceivedAt
	MailBody
	MailThreadId
)

var Mail = newTable(dkey.CollectionMail, []PropertyDef{
	{Id: MailSubject, Name: "subject", Kind: KindText, Field: 1, MaxLength: 512, Stored: true, Indexed: true},
	{Id: MailFrom, Name: "from", Kind: KindText, Field: 2, MaxLength: 512, Stored: true, Indexed: true},
	{Id: MailTo, Name: "to", Kind: KindTextList, Field: 3, MaxLength: 512, Stored: true, Indexed: true},
	{Id: MailReceivedAt, Name: "receivedAt", Kind: KindLongInteger, Field: 4, Required: true, Stored: true, Indexed: true},
	{Id: MailBody, Name: "body", Kind: KindText, Field: 5, Stored: false, Indexed: false},
	{Id: MailThreadId, Name: "threadId", Kind: KindInteger, Field: 6, Required: true, Stored: true, Indexed: true},
})

// Mailbox properties: name, sortOrder, and parentId drive the
// tree-aware sort pass.
const (
	MailboxName PropertyId = iota + 1
	MailboxParentId
	MailboxSortOrder
	MailboxRole
)

// MailMailboxTag is the tag field a Mail document's mailbox-membership
// bitmaps are keyed under: set by pkg/ingest on delivery, cleared and
// re-set on a move, never part of the Mail property table itself
// (mailbox membership is a many-valued tag set, not a single indexed
// property pkg/orm's required/max-length diff logic needs to see).
const MailMailboxTag PropertyId = 100

var Mailbox = newTable(dkey.CollectionMailbox, []PropertyDef{
	{Id: MailboxName, Name: "name", Kind: KindText, Field: 1, Required: true, MaxLength: 255, Stored: true, Indexed: true},
	{Id: MailboxParentId, Name: "parentId", Kind: KindInteger, Field: 2, Stored: true, Indexed: true},
	{Id: MailboxSortOrder, Name: "sortOrder", Kind: KindInteger, Field: 3, Stored: true, Indexed: true},
	{Id: MailboxRole, Name: "role", Kind: KindText, Field: 4, MaxLength: 64, Stored: true, Indexed: false},
})

// Principal properties: email/secret/members drive the validation
// rules in pkg/principal.
const (
	PrincipalType PropertyId = iota + 1
	PrincipalName
	PrincipalEmail
	PrincipalSecret
	PrincipalMembers
	PrincipalAliases
)

var Principal = newTable(dkey.CollectionPrincipal, []PropertyDef{
	{Id: PrincipalType, Name: "type", Kind: KindInteger, Field: 1, Required: true, Stored: true, Indexed: true},
	{Id: PrincipalName, Name: "name", Kind: KindText, Field: 2, Required: true, MaxLength: 255, Stored: true, Indexed: true},
	{Id: PrincipalEmail, Name: "email", Kind: KindText, Field: 3, MaxLength: 255, Stored: true, Indexed: true},
	{Id: PrincipalSecret, Name: "secret", Kind: KindNone, Field: 4, Stored: true, Indexed: false},
	{Id: PrincipalMembers, Name: "members", Kind: KindIntegerList, Field: 5, Stored: true, Indexed: true},
	{Id: PrincipalAliases, Name: "aliases", Kind: KindTextList, Field: 6, MaxLength: 255, Stored: true, Indexed: true},
})

// PushSubscription properties.
const (
	PushSubscriptionDeviceClientId PropertyId = iota + 1
	PushSubscriptionUrl
	PushSubscriptionExpires
)

var PushSubscription = newTable(dkey.CollectionPushSubscription, []PropertyDef{
	{Id: PushSubscriptionDeviceClientId, Name: "deviceClientId", Kind: KindText, Field: 1, Required: true, MaxLength: 255, Stored: true, Indexed: false},
	{Id: PushSubscriptionUrl, Name: "url", Kind: KindText, Field: 2, Required: true, MaxLength: 1024, Stored: true, Indexed: false},
	{Id: PushSubscriptionExpires, Name: "expires", Kind: KindLongInteger, Field: 3, Stored: true, Indexed: true},
})

// SieveScript properties.
const (
	SieveScriptName PropertyId = iota + 1
	SieveScriptIsActive
	SieveScriptBlobId
)

var SieveScript = newTable(dkey.CollectionSieveScript, []PropertyDef{
	{Id: SieveScriptName, Name: "name", Kind: KindText, Field: 1, Required: true, MaxLength: 255, Stored: true, Indexed: true},
	{Id: SieveScriptIsActive, Name: "isActive", Kind: KindInteger, Field: 2, Stored: true, Indexed: true},
	{Id: SieveScriptBlobId, Name: "blobId", Kind: KindNone, Field: 3, Stored: true, Indexed: false},
})

// EmailSubmission properties.
const (
	EmailSubmissionEmailId PropertyId = iota + 1
	EmailSubmissionIdentityId
	EmailSubmissionSendAt
	EmailSubmissionUndoStatus
)

var EmailSubmission = newTable(dkey.CollectionEmailSubmission, []PropertyDef{
	{Id: EmailSubmissionEmailId, Name: "emailId", Kind: KindInteger, Field: 1, Required: true, Stored: true, Indexed: true},
	{Id: EmailSubmissionIdentityId, Name: "identityId", Kind: KindInteger, Field: 2, Required: true, Stored: true, Indexed: true},
	{Id: EmailSubmissionSendAt, Name: "sendAt", Kind: KindLongInteger, Field: 3, Stored: true, Indexed: true},
	{Id: EmailSubmissionUndoStatus, Name: "undoStatus", Kind: KindText, Field: 4, MaxLength: 32, Stored: true, Indexed: false},
})

// ForCollection returns the property table for coll, or ok=false if
// coll has none registered.
func ForCollection(coll dkey.Collection) (Table, bool) {
	switch coll {
	case dkey.CollectionMail:
		return Mail, true
	case dkey.CollectionMailbox:
		return Mailbox, true
	case dkey.CollectionPrincipal:
		return Principal, true
	case dkey.CollectionPushSubscription:
		return PushSubscription, true
	case dkey.CollectionSieveScript:
		return SieveScript, true
	case dkey.CollectionEmailSubmission:
		return EmailSubmission, true
	default:
		return Table{}, false
	}
}
