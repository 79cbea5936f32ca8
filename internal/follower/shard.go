package follower

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

// Shard selects the positions one follower instance owns.
type Shard struct {
	Index int
	Count int
}

// ParseShard reads "i/n". The empty string is the single shard 0/1.
func ParseShard(s string) (Shard, error) {
	if s == "" {
		return Shard{Index: 0, Count: 1}, nil
	}

	i, n, ok := strings.Cut(s, "/")
	if !ok {
		return Shard{}, errors.Newf(errors.ErrCodeInvalidParameter, "shard %q is not i/n", s)
	}

	index, err := strconv.Atoi(i)
	if err != nil {
		return Shard{}, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "shard index %q", i)
	}

	count, err := strconv.Atoi(n)
	if err != nil {
		return Shard{}, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "shard count %q", n)
	}

	if count < 1 || index < 0 || index >= count {
		return Shard{}, errors.Newf(errors.ErrCodeInvalidParameter, "shard %d/%d out of range", index, count)
	}

	return Shard{Index: index, Count: count}, nil
}

// Owns reports whether the position belongs to this shard: fnv32a(id) mod n.
func (s Shard) Owns(positionID int64) bool {
	if s.Count <= 1 {
		return true
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(positionID, 10)))

	return int(h.Sum32()%uint32(s.Count)) == s.Index
}
