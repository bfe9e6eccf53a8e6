// Package principal implements the validation and uniqueness rules of
// the Principal entity: Domain, Individual, Group, List, and Resource
// principals, addressable by e-mail and subject to ACLs.
package principal

import (
	"fmt"

	"github.com/cuemby/driftbox/pkg/bitmap"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/orm"
	"github.com/cuemby/driftbox/pkg/schema"
)

// Type is the Principal subtype, stored as the integer value of
// schema.PrincipalType.
type Type int64

const (
	Domain Type = iota
	Individual
	Group
	List
	Resource
)

// ValidationError is a client-visible principal rule violation,
// wrapped by pkg/core into InvalidProperties.
type ValidationError struct {
	Property string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("principal: %s: %s", e.Property, e.Reason)
}

// Validate enforces Principal invariants against merged, the
// fully-merged ORM object a create or update would produce (the
// caller passes pkg/core's already-computed "current with changes
// applied" snapshot, not the raw diff — uniqueness and cross-reference
// checks need the final values, not which properties actually moved).
// self is the document id being validated (0 for a not-yet-assigned
// create); it is excluded from its own uniqueness scan.
func Validate(store kv.Store, acct dkey.AccountId, self dkey.DocumentId, isCreate bool, merged *orm.Object) error {
	typ := Type(asInt64(merged.Properties[schema.PrincipalType]))
	email, _ := merged.Properties[schema.PrincipalEmail].(string)
	secret, hasSecret := merged.Properties[schema.PrincipalSecret]
	name, _ := merged.Properties[schema.PrincipalName].(string)
	members, _ := merged.Properties[schema.PrincipalMembers].([]int64)
	aliases, _ := merged.Properties[schema.PrincipalAliases].([]string)

	switch typ {
	case Individual:
		if email == "" {
			return &ValidationError{Property: "email", Reason: "individual principal requires email"}
		}
		if !hasSecret || secret == nil {
			return &ValidationError{Property: "secret", Reason: "individual principal requires secret"}
		}
	case List:
		if email == "" {
			return &ValidationError{Property: "email", Reason: "list principal requires email"}
		}
	case Domain:
		if name == "" {
			return &ValidationError{Property: "name", Reason: "domain principal requires name"}
		}
		ok, err := nameIsUnique(store, acct, self, isCreate, name)
		if err != nil {
			return err
		}
		if !ok {
			return &ValidationError{Property: "name", Reason: "domain name already in use"}
		}
	}

	if typ != Domain && email != "" {
		ok, err := emailIsUnique(store, acct, self, isCreate, email)
		if err != nil {
			return err
		}
		okAlias, err := aliasIsUnique(store, acct, self, isCreate, email)
		if err != nil {
			return err
		}
		if !ok || !okAlias {
			return &ValidationError{Property: "email", Reason: "email already in use by another principal"}
		}
	}

	// Email and alias addresses share one global namespace across every
	// non-Domain principal: an alias colliding with another principal's
	// email (or vice versa) is rejected exactly like an email collision.
	if typ != Domain {
		for _, alias := range aliases {
			okEmail, err := emailIsUnique(store, acct, self, isCreate, alias)
			if err != nil {
				return err
			}
			okAlias, err := aliasIsUnique(store, acct, self, isCreate, alias)
			if err != nil {
				return err
			}
			if !okEmail || !okAlias {
				return &ValidationError{Property: "aliases", Reason: fmt.Sprintf("alias %q already in use", alias)}
			}
		}
	}

	if typ == List {
		for _, memberId := range members {
			exists, err := documentExists(store, acct, dkey.DocumentId(memberId))
			if err != nil {
				return err
			}
			if !exists {
				return &ValidationError{Property: "members", Reason: fmt.Sprintf("member %d does not exist", memberId)}
			}
		}
	}

	return nil
}

// emailIsUnique reports whether email is not already held by another
// principal document, scanning the email field's sortable index rather
// than every principal's stored value.
func emailIsUnique(store kv.Store, acct dkey.AccountId, self dkey.DocumentId, isCreate bool, email string) (bool, error) {
	field := schema.Principal.Defs[schema.PrincipalEmail].Field
	prefix := dkey.IndexPrefix(acct, dkey.CollectionPrincipal, field)
	matches, err := kv.RangeToBitmap(store, prefix, kv.OpEQ, []byte(email))
	if err != nil {
		return false, err
	}
	switch matches.GetCardinality() {
	case 0:
		return true, nil
	case 1:
		return !isCreate && matches.Contains(uint32(self)), nil
	default:
		return false, nil
	}
}

// nameIsUnique is the Domain-collection analogue of emailIsUnique,
// scanned against the shared "name" property field.
func nameIsUnique(store kv.Store, acct dkey.AccountId, self dkey.DocumentId, isCreate bool, name string) (bool, error) {
	field := schema.Principal.Defs[schema.PrincipalName].Field
	prefix := dkey.IndexPrefix(acct, dkey.CollectionPrincipal, field)
	matches, err := kv.RangeToBitmap(store, prefix, kv.OpEQ, []byte(name))
	if err != nil {
		return false, err
	}
	switch matches.GetCardinality() {
	case 0:
		return true, nil
	case 1:
		return !isCreate && matches.Contains(uint32(self)), nil
	default:
		return false, nil
	}
}

// aliasIsUnique is emailIsUnique's counterpart over the aliases index
// field, catching a collision between two principals' alias lists that
// emailIsUnique's email-field scan alone would miss.
func aliasIsUnique(store kv.Store, acct dkey.AccountId, self dkey.DocumentId, isCreate bool, alias string) (bool, error) {
	field := schema.Principal.Defs[schema.PrincipalAliases].Field
	prefix := dkey.IndexPrefix(acct, dkey.CollectionPrincipal, field)
	matches, err := kv.RangeToBitmap(store, prefix, kv.OpEQ, []byte(alias))
	if err != nil {
		return false, err
	}
	switch matches.GetCardinality() {
	case 0:
		return true, nil
	case 1:
		return !isCreate && matches.Contains(uint32(self)), nil
	default:
		return false, nil
	}
}

func documentExists(store kv.Store, acct dkey.AccountId, doc dkey.DocumentId) (bool, error) {
	raw, err := store.Get(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, dkey.CollectionPrincipal, dkey.BitmapUsedIds))
	if err != nil {
		return false, err
	}
	used, ok, err := bitmap.GetBitmap(raw)
	if err != nil {
		return false, err
	}
	return ok && used.Contains(uint32(doc)), nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
