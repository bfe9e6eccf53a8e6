package orm

import "encoding/binary"

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asStringList(v interface{}) []string {
	l, _ := v.([]string)
	return l
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asInt64List(v interface{}) []int64 {
	l, _ := v.([]int64)
	return l
}

// beInt64 encodes n as a big-endian key, biased so that the byte-wise
// order of the encoding matches signed numeric order.
func beInt64(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n)^(1<<63))
	return b
}

// stringSetDiff returns (removed, added) = (old \ new, new \ old).
func stringSetDiff(oldList, newList []string) (removed, added []string) {
	oldSet := make(map[string]bool, len(oldList))
	for _, s := range oldList {
		oldSet[s] = true
	}
	newSet := make(map[string]bool, len(newList))
	for _, s := range newList {
		newSet[s] = true
	}
	for _, s := range oldList {
		if !newSet[s] {
			removed = append(removed, s)
		}
	}
	for _, s := range newList {
		if !oldSet[s] {
			added = append(added, s)
		}
	}
	return removed, added
}

// int64SetDiff returns (removed, added) = (old \ new, new \ old).
func int64SetDiff(oldList, newList []int64) (removed, added []int64) {
	oldSet := make(map[int64]bool, len(oldList))
	for _, n := range oldList {
		oldSet[n] = true
	}
	newSet := make(map[int64]bool, len(newList))
	for _, n := range newList {
		newSet[n] = true
	}
	for _, n := range oldList {
		if !newSet[n] {
			removed = append(removed, n)
		}
	}
	for _, n := range newList {
		if !oldSet[n] {
			added = append(added, n)
		}
	}
	return removed, added
}
