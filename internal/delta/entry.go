package delta

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/custodian/types"
)

// DefaultPrefix is the key prefix of ownership entries in the store bucket.
const DefaultPrefix = "ownership"

// Entry is the KV value of one ownership record.
type Entry struct {
	Record      types.OwnershipRecord `json:"record"`
	Senior      types.MemberID        `json:"senior"`
	PublishedAt time.Time             `json:"publishedAt"`
}

// KeyFor returns the KV key of a partition.
func KeyFor(prefix string, partition int) string {
	return prefix + "." + strconv.Itoa(partition)
}

// ParseKey extracts the partition from a key produced by KeyFor.
func ParseKey(prefix, key string) (int, error) {
	rest, ok := strings.CutPrefix(key, prefix+".")
	if !ok {
		return 0, fmt.Errorf("%w: key %q outside prefix %q", types.ErrInvalidPartition, key, prefix)
	}

	p, err := strconv.Atoi(rest)
	if err != nil || p < 0 {
		return 0, fmt.Errorf("%w: key %q", types.ErrInvalidPartition, key)
	}

	return p, nil
}

// Decode parses an entry and checks that it belongs to the key's partition.
func Decode(partition int, value []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(value, &e); err != nil {
		return Entry{}, fmt.Errorf("failed to decode ownership entry: %w", err)
	}
	if e.Record.Partition != partition {
		return Entry{}, fmt.Errorf("%w: entry for partition %d stored under %d",
			types.ErrInvalidPartition, e.Record.Partition, partition)
	}

	return e, nil
}
