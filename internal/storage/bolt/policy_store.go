package bolt

import (
	"context"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"
)

type policyStore struct {
	db *bbolt.DB
}

func (s *policyStore) GetFlags(ctx context.Context) (map[string]bool, error) {
	flags := make(map[string]bool)
	return flags, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPolicy))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			flags[string(k)] = string(v) == "1"
			return nil
		})
	})
}

func (s *policyStore) SetFlag(ctx context.Context, group string, blocked bool) error {
	group = strings.ToLower(strings.TrimSpace(group))
	if group == "" {
		return fmt.Errorf("empty policy group")
	}

	value := []byte("0")
	if blocked {
		value = []byte("1")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketPolicy))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketPolicy)
		}
		return b.Put([]byte(group), value)
	})
}
