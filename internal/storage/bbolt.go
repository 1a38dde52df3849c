package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"govorilka/internal/models"
)

var (
	bucketUsers        = []byte("users")
	bucketUsernames    = []byte("usernames")
	bucketEmails       = []byte("emails")
	bucketChats        = []byte("chats")
	bucketRequests     = []byte("requests")
	bucketRequestKeys  = []byte("request_keys")
	bucketPrivatePairs = []byte("private_pairs")
	bucketMessages     = []byte("messages")
)

var allBuckets = [][]byte{
	bucketUsers,
	bucketUsernames,
	bucketEmails,
	bucketChats,
	bucketRequests,
	bucketRequestKeys,
	bucketPrivatePairs,
	bucketMessages,
}

// Store is the bbolt-backed persistence layer. Every mutation runs inside a
// single bbolt write transaction: Update either commits all touched buckets
// or none of them.
type Store struct {
	db *bbolt.DB
}

func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in a read-write transaction. Domain errors returned by fn
// abort the transaction and are passed through unchanged; commit failures
// are reported as models.ErrTransaction.
func (s *Store) Update(fn func(*Tx) error) error {
	var domainErr error
	err := s.db.Update(func(btx *bbolt.Tx) error {
		domainErr = fn(&Tx{tx: btx})
		return domainErr
	})
	if err != nil {
		if err == domainErr {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrTransaction, err)
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(*Tx) error) error {
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// Tx exposes typed entity access within one bbolt transaction. Authorization
// checks made through a Tx see the same state the mutation will commit
// against.
type Tx struct {
	tx *bbolt.Tx
}

func get[T any, PT interface {
	*T
	Storeable
}](t *Tx, bucket, key []byte) (PT, error) {
	data := t.tx.Bucket(bucket).Get(key)
	if data == nil {
		return nil, models.ErrNotFound
	}
	v := PT(new(T))
	if err := v.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("corrupt record %q: %w", key, err)
	}
	return v, nil
}

func put(t *Tx, bucket []byte, v Storeable) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return t.tx.Bucket(bucket).Put(v.Key(), data)
}

// User loads a user by id. Returns models.ErrNotFound if absent.
func (t *Tx) User(id string) (*models.User, error) {
	u, err := get[DBUser](t, bucketUsers, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return u.toModel(), nil
}

// UserByUsername resolves a username through the index.
func (t *Tx) UserByUsername(username string) (*models.User, error) {
	id := t.tx.Bucket(bucketUsernames).Get([]byte(username))
	if id == nil {
		return nil, fmt.Errorf("username %s: %w", username, models.ErrNotFound)
	}
	return t.User(string(id))
}

// UserByEmail resolves an email through the index.
func (t *Tx) UserByEmail(email string) (*models.User, error) {
	id := t.tx.Bucket(bucketEmails).Get([]byte(email))
	if id == nil {
		return nil, fmt.Errorf("email %s: %w", email, models.ErrNotFound)
	}
	return t.User(string(id))
}

// CreateUser inserts a new user, enforcing username and email uniqueness.
func (t *Tx) CreateUser(u *models.User) error {
	if t.tx.Bucket(bucketUsernames).Get([]byte(u.Username)) != nil {
		return fmt.Errorf("username taken: %w", models.ErrConflict)
	}
	if t.tx.Bucket(bucketEmails).Get([]byte(u.Email)) != nil {
		return fmt.Errorf("email taken: %w", models.ErrConflict)
	}
	if err := put(t, bucketUsers, userToDB(u)); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketUsernames).Put([]byte(u.Username), []byte(u.ID)); err != nil {
		return err
	}
	return t.tx.Bucket(bucketEmails).Put([]byte(u.Email), []byte(u.ID))
}

// PutUser saves an existing user. Username and email are immutable, so the
// indexes are not touched.
func (t *Tx) PutUser(u *models.User) error {
	return put(t, bucketUsers, userToDB(u))
}

// DeleteUser removes the user record and its index entries.
func (t *Tx) DeleteUser(u *models.User) error {
	if err := t.tx.Bucket(bucketUsers).Delete([]byte(u.ID)); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketUsernames).Delete([]byte(u.Username)); err != nil {
		return err
	}
	return t.tx.Bucket(bucketEmails).Delete([]byte(u.Email))
}

// EachUser iterates over all users.
func (t *Tx) EachUser(fn func(*models.User) error) error {
	return t.tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
		var u DBUser
		if err := u.UnmarshalBinary(v); err != nil {
			return err
		}
		return fn(u.toModel())
	})
}

// Chat loads a chat by id. Returns models.ErrNotFound if absent.
func (t *Tx) Chat(id string) (*models.Chat, error) {
	c, err := get[DBChat](t, bucketChats, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", id, err)
	}
	return c.toModel(), nil
}

func (t *Tx) PutChat(c *models.Chat) error {
	return put(t, bucketChats, chatToDB(c))
}

// CreatePrivateChat inserts a private chat and claims the pair slot.
// Fails with models.ErrConflict if a private chat already links the pair.
func (t *Tx) CreatePrivateChat(c *models.Chat) error {
	if len(c.Members) != 2 {
		return fmt.Errorf("private chat needs two members: %w", models.ErrValidation)
	}
	key := pairKey(c.Members[0], c.Members[1])
	if t.tx.Bucket(bucketPrivatePairs).Get(key) != nil {
		return fmt.Errorf("private chat exists: %w", models.ErrConflict)
	}
	if err := put(t, bucketChats, chatToDB(c)); err != nil {
		return err
	}
	return t.tx.Bucket(bucketPrivatePairs).Put(key, []byte(c.ID))
}

// PrivateChatID returns the id of the private chat linking the pair, if any.
func (t *Tx) PrivateChatID(u1, u2 string) (string, bool) {
	id := t.tx.Bucket(bucketPrivatePairs).Get(pairKey(u1, u2))
	if id == nil {
		return "", false
	}
	return string(id), true
}

// DeleteChat removes the chat, its message log, and (for private chats) the
// pair slot.
func (t *Tx) DeleteChat(c *models.Chat) error {
	if err := t.tx.Bucket(bucketChats).Delete([]byte(c.ID)); err != nil {
		return err
	}
	msgs := t.tx.Bucket(bucketMessages)
	if msgs.Bucket([]byte(c.ID)) != nil {
		if err := msgs.DeleteBucket([]byte(c.ID)); err != nil {
			return err
		}
	}
	if c.Type == models.ChatTypePrivate && len(c.Members) == 2 {
		return t.tx.Bucket(bucketPrivatePairs).Delete(pairKey(c.Members[0], c.Members[1]))
	}
	return nil
}

// Request loads a pending request by id. A consumed or unknown id yields
// models.ErrNotFound, which is what makes resolution replay-safe.
func (t *Tx) Request(id string) (*models.Request, error) {
	r, err := get[DBRequest](t, bucketRequests, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", id, err)
	}
	return r.toModel(), nil
}

// CreateRequest inserts a request, enforcing at most one unresolved request
// per (type, sender-or-chat, receiver-or-sender) key.
func (t *Tx) CreateRequest(r *models.Request) error {
	key := []byte(r.UniqueKey())
	if t.tx.Bucket(bucketRequestKeys).Get(key) != nil {
		return fmt.Errorf("request already pending: %w", models.ErrConflict)
	}
	if err := put(t, bucketRequests, requestToDB(r)); err != nil {
		return err
	}
	return t.tx.Bucket(bucketRequestKeys).Put(key, []byte(r.ID))
}

// DeleteRequest consumes a request, freeing its uniqueness slot.
func (t *Tx) DeleteRequest(r *models.Request) error {
	if err := t.tx.Bucket(bucketRequests).Delete([]byte(r.ID)); err != nil {
		return err
	}
	return t.tx.Bucket(bucketRequestKeys).Delete([]byte(r.UniqueKey()))
}

// EachRequest iterates over all pending requests. Used by cascade deletes.
func (t *Tx) EachRequest(fn func(*models.Request) error) error {
	var reqs []*models.Request
	err := t.tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
		var r DBRequest
		if err := r.UnmarshalBinary(v); err != nil {
			return err
		}
		reqs = append(reqs, r.toModel())
		return nil
	})
	if err != nil {
		return err
	}
	// Collected first so fn may delete requests without invalidating the cursor.
	for _, r := range reqs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// PutMessage appends a message to the chat's log bucket, keyed by sequence
// number.
func (t *Tx) PutMessage(m *models.Message) error {
	chatBucket, err := t.tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(m.ChatID))
	if err != nil {
		return fmt.Errorf("failed to create chat message bucket: %w", err)
	}
	dbMsg := messageToDB(m)
	data, err := dbMsg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return chatBucket.Put(dbMsg.Key(), data)
}

// Messages returns the chat's messages with seq in [from, to].
func (t *Tx) Messages(chatID string, from, to int64) ([]models.Message, error) {
	var messages []models.Message
	chatBucket := t.tx.Bucket(bucketMessages).Bucket([]byte(chatID))
	if chatBucket == nil {
		return messages, nil
	}

	c := chatBucket.Cursor()

	minKey := make([]byte, 8)
	binary.BigEndian.PutUint64(minKey, uint64(from))
	maxKey := make([]byte, 8)
	binary.BigEndian.PutUint64(maxKey, uint64(to))

	for k, v := c.Seek(minKey); k != nil && bytes.Compare(k, maxKey) <= 0; k, v = c.Next() {
		var m DBMessage
		if err := m.UnmarshalBinary(v); err != nil {
			return nil, err
		}
		messages = append(messages, m.toModel())
	}
	return messages, nil
}

func pairKey(u1, u2 string) []byte {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return []byte(u1 + "|" + u2)
}
