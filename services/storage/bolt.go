package storage

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// Bolt implementation of Interface scoped to a bucket.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

func NewBolt(db *bolt.DB, bucket string) *Bolt {
	return &Bolt{
		db:     db,
		bucket: []byte(bucket),
	}
}

func (b *Bolt) Put(key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return boltTx{b: b, tx: tx}.Put(key, value)
	})
}

func (b *Bolt) Get(key string) (kv *KeyValue, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		kv, err = boltTx{b: b, tx: tx}.Get(key)
		return err
	})
	return
}

func (b *Bolt) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return boltTx{b: b, tx: tx}.Delete(key)
	})
}

func (b *Bolt) Exists(key string) (exists bool, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		exists, err = boltTx{b: b, tx: tx}.Exists(key)
		return err
	})
	return
}

func (b *Bolt) List(prefix string) (kvs []*KeyValue, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		kvs, err = boltTx{b: b, tx: tx}.List(prefix)
		return err
	})
	return
}

func (b *Bolt) Update(f func(Tx) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return f(boltTx{b: b, tx: tx})
	})
}

// boltTx wraps an underlying bolt.Tx type to implement the Tx interface.
type boltTx struct {
	b  *Bolt
	tx *bolt.Tx
}

func (t boltTx) Put(key string, value []byte) error {
	bucket, err := t.tx.CreateBucketIfNotExists(t.b.bucket)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(key), value)
}

func (t boltTx) Get(key string) (*KeyValue, error) {
	bucket := t.tx.Bucket(t.b.bucket)
	if bucket == nil {
		return nil, ErrNoKeyExists
	}
	val := bucket.Get([]byte(key))
	if val == nil {
		return nil, ErrNoKeyExists
	}
	return &KeyValue{
		Key:   key,
		Value: append([]byte(nil), val...),
	}, nil
}

func (t boltTx) Delete(key string) error {
	bucket := t.tx.Bucket(t.b.bucket)
	if bucket == nil {
		return nil
	}
	return bucket.Delete([]byte(key))
}

func (t boltTx) Exists(key string) (bool, error) {
	bucket := t.tx.Bucket(t.b.bucket)
	if bucket == nil {
		return false, nil
	}
	return bucket.Get([]byte(key)) != nil, nil
}

func (t boltTx) List(prefixStr string) (kvs []*KeyValue, err error) {
	bucket := t.tx.Bucket(t.b.bucket)
	if bucket == nil {
		return nil, nil
	}
	cursor := bucket.Cursor()
	prefix := []byte(prefixStr)
	for key, v := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, v = cursor.Next() {
		kvs = append(kvs, &KeyValue{
			Key:   string(key),
			Value: append([]byte(nil), v...),
		})
	}
	return
}
