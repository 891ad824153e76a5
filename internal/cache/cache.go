// Package cache is the client's durable copy of posts and user names.
//
// Key layout:
//
//	p:<post id>                    post JSON
//	t:<thread id>:p:<post id>      thread index entry, empty value
//	u:<user uuid>                  display name
//
// Numeric segments are zero padded to 20 digits so byte order matches
// numeric order.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/cockroachdb/pebble"

	"github.com/yymmt/bbs-test/internal/client"
)

const padWidth = 20

var ErrClosed = errors.New("cache closed")

type Cache struct {
	db *pebble.DB
}

// Open opens or creates the cache under dir.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func postKey(postID int64) []byte {
	return []byte(fmt.Sprintf("p:%0*d", padWidth, postID))
}

func threadPrefix(threadID int64) string {
	return fmt.Sprintf("t:%0*d:p:", padWidth, threadID)
}

func indexKey(threadID, postID int64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", threadPrefix(threadID), padWidth, postID))
}

func userKey(userUUID string) []byte {
	return []byte("u:" + userUUID)
}

// indexUpper is the exclusive end of a thread's index range.
func indexUpper(threadID int64) []byte {
	prefix := []byte(threadPrefix(threadID))
	prefix[len(prefix)-1]++
	return prefix
}

// PutPosts upserts posts and their thread index entries. The last write
// of a post id wins.
func (c *Cache) PutPosts(posts []client.Post) error {
	if c.db == nil {
		return ErrClosed
	}
	if len(posts) == 0 {
		return nil
	}
	batch := c.db.NewBatch()
	defer batch.Close()
	for _, post := range posts {
		raw, err := json.Marshal(post)
		if err != nil {
			return fmt.Errorf("encode post %d: %w", post.ID, err)
		}
		if err := batch.Set(postKey(post.ID), raw, nil); err != nil {
			return fmt.Errorf("put post %d: %w", post.ID, err)
		}
		if err := batch.Set(indexKey(post.ThreadID, post.ID), nil, nil); err != nil {
			return fmt.Errorf("put index %d: %w", post.ID, err)
		}
	}
	return batch.Commit(pebble.Sync)
}

func (c *Cache) PutUsers(users []client.User) error {
	if c.db == nil {
		return ErrClosed
	}
	if len(users) == 0 {
		return nil
	}
	batch := c.db.NewBatch()
	defer batch.Close()
	for _, user := range users {
		if err := batch.Set(userKey(user.UUID), []byte(user.Name), nil); err != nil {
			return fmt.Errorf("put user %s: %w", user.UUID, err)
		}
	}
	return batch.Commit(pebble.Sync)
}

// LatestPosts returns up to limit cached posts of a thread, newest first.
func (c *Cache) LatestPosts(threadID int64, limit int) ([]client.Post, error) {
	return c.scanDesc(threadID, indexUpper(threadID), limit)
}

// PostsBefore returns up to limit cached posts with ids below beforeID,
// newest first.
func (c *Cache) PostsBefore(threadID, beforeID int64, limit int) ([]client.Post, error) {
	return c.scanDesc(threadID, indexKey(threadID, beforeID), limit)
}

// MaxPostID is the highest cached post id of a thread, or zero.
func (c *Cache) MaxPostID(threadID int64) (int64, error) {
	ids, err := c.indexDesc(threadID, indexUpper(threadID), 1)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	return ids[0], nil
}

// DeletePost drops a post and its index entry. threadID may be zero when
// the caller does not know it; the stored post supplies it then.
func (c *Cache) DeletePost(threadID, postID int64) error {
	if c.db == nil {
		return ErrClosed
	}
	if threadID == 0 {
		post, ok, err := c.getPost(postID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		threadID = post.ThreadID
	}
	batch := c.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(postKey(postID), nil); err != nil {
		return fmt.Errorf("delete post %d: %w", postID, err)
	}
	if err := batch.Delete(indexKey(threadID, postID), nil); err != nil {
		return fmt.Errorf("delete index %d: %w", postID, err)
	}
	return batch.Commit(pebble.Sync)
}

// UserNames returns the cached names of ids. Unknown ids are absent from
// the result.
func (c *Cache) UserNames(ids []string) (map[string]string, error) {
	if c.db == nil {
		return nil, ErrClosed
	}
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		value, closer, err := c.db.Get(userKey(id))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get user %s: %w", id, err)
		}
		names[id] = string(value)
		closer.Close()
	}
	return names, nil
}

func (c *Cache) getPost(postID int64) (client.Post, bool, error) {
	value, closer, err := c.db.Get(postKey(postID))
	if errors.Is(err, pebble.ErrNotFound) {
		return client.Post{}, false, nil
	}
	if err != nil {
		return client.Post{}, false, fmt.Errorf("get post %d: %w", postID, err)
	}
	defer closer.Close()
	var post client.Post
	if err := json.Unmarshal(value, &post); err != nil {
		return client.Post{}, false, fmt.Errorf("decode post %d: %w", postID, err)
	}
	return post, true, nil
}

func (c *Cache) scanDesc(threadID int64, upper []byte, limit int) ([]client.Post, error) {
	ids, err := c.indexDesc(threadID, upper, limit)
	if err != nil {
		return nil, err
	}
	posts := make([]client.Post, 0, len(ids))
	for _, id := range ids {
		post, ok, err := c.getPost(id)
		if err != nil {
			return nil, err
		}
		if ok {
			posts = append(posts, post)
		}
	}
	return posts, nil
}

// indexDesc walks a thread's index backwards from upper (exclusive).
func (c *Cache) indexDesc(threadID int64, upper []byte, limit int) ([]int64, error) {
	if c.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	prefix := threadPrefix(threadID)
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	ids := make([]int64, 0, limit)
	for ok := iter.Last(); ok && len(ids) < limit; ok = iter.Prev() {
		id, err := strconv.ParseInt(string(iter.Key()[len(prefix):]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse index key %q: %w", iter.Key(), err)
		}
		ids = append(ids, id)
	}
	return ids, iter.Error()
}
