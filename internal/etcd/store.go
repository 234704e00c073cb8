package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cybertec-postgresql/fitlog_sync/internal/auth"
	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/remote"
)

const requestTimeout = 10 * time.Second

var errConcurrentUpdate = errors.New("document modified concurrently")

// document is the value stored under {prefix}/{collection}/{key}
type document struct {
	Owner   string          `json:"owner"`
	Version int64           `json:"version"`
	Updated time.Time       `json:"updated"`
	Payload json.RawMessage `json:"payload"`
}

func (d document) toRemote(key string) remote.Document {
	return remote.Document{Key: key, Payload: d.Payload, Version: d.Version, Updated: d.Updated}
}

// Bind implements remote.Service. Documents of other owners are invisible to the returned store.
func (c *Client) Bind(session auth.Session) remote.Store {
	return &collectionStore{
		kv:     c.client.KV,
		prefix: c.prefix,
		owner:  session.Owner,
		now:    func() time.Time { return time.Now().UTC() },
		newKey: uuid.NewString,
	}
}

// RequiresToken is false: etcd access is authorized by the client connection, not the session
func (c *Client) RequiresToken() bool {
	return false
}

type collectionStore struct {
	kv     clientv3.KV
	prefix string
	owner  string
	now    func() time.Time
	newKey func() string
}

func documentKey(prefix string, kind record.Kind, key string) string {
	return prefix + "/" + kind.Collection() + "/" + key
}

func (s *collectionStore) Create(ctx context.Context, kind record.Kind, owner string, payload json.RawMessage, version int64) (remote.Document, error) {
	fail := transportFailure("create", kind)
	if owner != s.owner {
		return fail(http.StatusForbidden, fmt.Errorf("session owner %q cannot create records for %q", s.owner, owner))
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	rk := s.newKey()
	doc := document{Owner: owner, Version: version, Updated: s.now(), Payload: payload}
	value, err := json.Marshal(doc)
	if err != nil {
		return fail(http.StatusBadRequest, err)
	}
	key := documentKey(s.prefix, kind, rk)
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return fail(0, err)
	}
	if !resp.Succeeded {
		return fail(http.StatusConflict, fmt.Errorf("key %s already exists", rk))
	}

	logrus.WithFields(logrus.Fields{
		"key":      key,
		"revision": resp.Header.Revision,
	}).Debug("Created document in etcd")
	return doc.toRemote(rk), nil
}

func (s *collectionStore) Get(ctx context.Context, kind record.Kind, key string) (remote.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	doc, _, err := s.load(ctx, "get", kind, key)
	if err != nil {
		return remote.Document{}, err
	}
	return doc.toRemote(key), nil
}

func (s *collectionStore) Update(ctx context.Context, kind record.Kind, key string, payload json.RawMessage, version int64) (remote.Document, error) {
	fail := transportFailure("update", kind)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	doc, modRevision, err := s.load(ctx, "update", kind, key)
	if err != nil {
		return remote.Document{}, err
	}
	doc.Payload = payload
	doc.Version = version
	doc.Updated = s.now()
	value, err := json.Marshal(doc)
	if err != nil {
		return fail(http.StatusBadRequest, err)
	}

	etcdKey := documentKey(s.prefix, kind, key)
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(etcdKey), "=", modRevision)).
		Then(clientv3.OpPut(etcdKey, string(value))).
		Commit()
	if err != nil {
		return fail(0, err)
	}
	if !resp.Succeeded {
		return fail(0, errConcurrentUpdate)
	}
	return doc.toRemote(key), nil
}

// load reads a document visible to the bound owner along with its mod revision
func (s *collectionStore) load(ctx context.Context, op string, kind record.Kind, key string) (document, int64, error) {
	fail := func(status int, err error) (document, int64, error) {
		return document{}, 0, &remote.TransportError{Op: op, Collection: kind.Collection(), Status: status, Err: err}
	}

	resp, err := s.kv.Get(ctx, documentKey(s.prefix, kind, key))
	if err != nil {
		return fail(0, err)
	}
	if len(resp.Kvs) == 0 {
		return fail(http.StatusNotFound, fmt.Errorf("document %s not found", key))
	}
	var doc document
	if err := json.Unmarshal(resp.Kvs[0].Value, &doc); err != nil {
		return fail(http.StatusUnprocessableEntity, fmt.Errorf("failed to decode document %s: %w", key, err))
	}
	if doc.Owner != s.owner {
		return fail(http.StatusNotFound, fmt.Errorf("document %s not found", key))
	}
	return doc, resp.Kvs[0].ModRevision, nil
}

func transportFailure(op string, kind record.Kind) func(int, error) (remote.Document, error) {
	return func(status int, err error) (remote.Document, error) {
		return remote.Document{}, &remote.TransportError{Op: op, Collection: kind.Collection(), Status: status, Err: err}
	}
}
