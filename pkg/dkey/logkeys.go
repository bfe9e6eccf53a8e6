package dkey

// LogPrefix is the first byte of every key in the Logs family,
// discriminating which of the four log kinds a key belongs to.
type LogPrefix byte

const (
	LogPrefixChange         LogPrefix = '0'
	LogPrefixRaft           LogPrefix = '1'
	LogPrefixPendingUpdates LogPrefix = '2'
	// LogPrefixTombstone is deliberately its own prefix byte rather than
	// sharing LogPrefixPendingUpdates: the two entry kinds are replayed
	// by different consumers (pending-update retry vs tombstone purge),
	// and collapsing them onto one prefix would make a prefix scan over
	// one kind return entries belonging to the other.
	LogPrefixTombstone LogPrefix = '3'
)

// ChangeLogKey addresses one change-log entry: prefix '0', acct(BE4),
// collection(1B), changeId(BE8).
func ChangeLogKey(acct AccountId, coll Collection, changeID ChangeId) []byte {
	k := make([]byte, 0, 14)
	k = append(k, byte(LogPrefixChange))
	k = PutBE32(k, uint32(acct))
	k = append(k, byte(coll))
	k = PutBE64(k, uint64(changeID))
	return k
}

// ChangeLogPrefix addresses every change-log entry for one
// (account,collection) pair, for prefix iteration.
func ChangeLogPrefix(acct AccountId, coll Collection) []byte {
	k := make([]byte, 0, 6)
	k = append(k, byte(LogPrefixChange))
	k = PutBE32(k, uint32(acct))
	k = append(k, byte(coll))
	return k
}

// ParseChangeLogKey is the inverse of ChangeLogKey. It tolerates (skips,
// reports ok=false) keys of a different length than expected so that a
// prefix scan over mixed-length keys never misparses a foreign entry as
// its own.
func ParseChangeLogKey(k []byte) (acct AccountId, coll Collection, changeID ChangeId, ok bool) {
	if len(k) != 14 || LogPrefix(k[0]) != LogPrefixChange {
		return 0, 0, 0, false
	}
	a, err := BE32(k[1:5])
	if err != nil {
		return 0, 0, 0, false
	}
	c, err := BE64(k[6:14])
	if err != nil {
		return 0, 0, 0, false
	}
	return AccountId(a), Collection(k[5]), ChangeId(c), true
}

// RaftLogKey addresses one Raft log entry: prefix '1', index(BE8), term(BE8).
func RaftLogKey(index LogIndex, term TermId) []byte {
	k := make([]byte, 0, 17)
	k = append(k, byte(LogPrefixRaft))
	k = PutBE64(k, uint64(index))
	k = PutBE64(k, uint64(term))
	return k
}

// RaftLogPrefix addresses the entire Raft log for prefix iteration.
func RaftLogPrefix() []byte {
	return []byte{byte(LogPrefixRaft)}
}

// ParseRaftLogKey is the inverse of RaftLogKey, tolerant of foreign-length
// keys sharing the same byte range.
func ParseRaftLogKey(k []byte) (index LogIndex, term TermId, ok bool) {
	if len(k) != 17 || LogPrefix(k[0]) != LogPrefixRaft {
		return 0, 0, false
	}
	i, err := BE64(k[1:9])
	if err != nil {
		return 0, 0, false
	}
	t, err := BE64(k[9:17])
	if err != nil {
		return 0, 0, false
	}
	return LogIndex(i), TermId(t), true
}

// RaftStableKey addresses a raft.StableStore entry (the small set of
// fixed keys hashicorp/raft itself uses for current term and last
// vote): prefix '1', marker 0xFF, then the caller-supplied key bytes.
// The marker keeps these entries out of the (prefix, BE8 index, BE8
// term) shape RaftLogKey uses, so a prefix-and-length filtered scan
// over the log entries never mistakes one for a log record.
func RaftStableKey(key []byte) []byte {
	k := make([]byte, 0, 2+len(key))
	k = append(k, byte(LogPrefixRaft), 0xFF)
	k = append(k, key...)
	return k
}

// TombstoneLogKey addresses a logged tombstone-purge marker, used by
// followers to replay a physical deletion: prefix '3', acct(BE4),
// collection(1B), doc(BE4).
func TombstoneLogKey(acct AccountId, coll Collection, doc DocumentId) []byte {
	k := make([]byte, 0, 10)
	k = append(k, byte(LogPrefixTombstone))
	k = PutBE32(k, uint32(acct))
	k = append(k, byte(coll))
	k = PutBE32(k, uint32(doc))
	return k
}
