package registry

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/sha3"

	"github.com/tos-network/gtos-faas/kvstore"
	"github.com/tos-network/gtos-faas/log"
)

// Registry is the C3 function registry. The kvstore tables `functions`
// (current version) and `function_history` (every version) are the
// source of truth; an LRU cache of hot FunctionVersion reads sits in
// front of `functions`, mirroring the teacher's hashicorp/golang-lru use
// for hot-path reads.
type Registry struct {
	store kvstore.Store
	cache *lru.Cache
	log   log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Registry backed by store with a cache of cacheSize hot
// FunctionVersion entries.
func New(store kvstore.Store, cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{
		store: store,
		cache: c,
		log:   log.New("component", "registry"),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (r *Registry) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	return m
}

func contentHash(code string) string {
	sum := sha3.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func validateRegistration(name, description, code string, trigger TriggerSpec) error {
	if len(name) < MinNameLen || len(name) > MaxNameLen {
		return ErrInvalidName
	}
	if len(description) > MaxDescriptionLen {
		return ErrInvalidDescription
	}
	if len(code) < MinCodeLen || len(code) > MaxCodeLen {
		return ErrInvalidCode
	}
	return trigger.Validate()
}

func historyKey(id string, version uint64) []byte {
	return []byte(fmt.Sprintf("%s:%020d", id, version))
}

// Register creates version 1 of a new function.
func (r *Registry) Register(req RegisterRequest) (*FunctionVersion, error) {
	if err := validateRegistration(req.Name, req.Description, req.Code, req.Trigger); err != nil {
		return nil, err
	}
	lock := r.lockFor(req.ID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := r.get(req.ID); err == nil {
		return nil, ErrAlreadyExists
	} else if err != ErrNotFound {
		return nil, err
	}

	now := time.Now()
	fn := &FunctionVersion{
		ID:            req.ID,
		Principal:     req.Principal,
		Version:       1,
		Name:          req.Name,
		Description:   req.Description,
		Code:          req.Code,
		RuntimeTag:    req.RuntimeTag,
		SecurityLevel: req.Security,
		Trigger:       req.Trigger,
		Permissions:   req.Permissions,
		Resources:     req.Resources,
		CreatedAt:     now,
		UpdatedAt:     now,
		Hash:          contentHash(req.Code),
	}
	if err := r.persist(fn); err != nil {
		return nil, err
	}
	r.log.Info("function registered", "id", fn.ID, "principal", fn.Principal)
	return fn, nil
}

// Update fetches the current version, selectively overwrites provided
// fields, bumps version by exactly 1, and stores the result as a new
// version (the prior version remains in function_history, unmutated).
func (r *Registry) Update(req UpdateRequest) (*FunctionVersion, error) {
	lock := r.lockFor(req.ID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := r.get(req.ID)
	if err != nil {
		return nil, err
	}
	next := *cur
	if req.Name != nil {
		next.Name = *req.Name
	}
	if req.Description != nil {
		next.Description = *req.Description
	}
	if req.Code != nil {
		next.Code = *req.Code
		next.Hash = contentHash(*req.Code)
	}
	if req.Security != nil {
		next.SecurityLevel = *req.Security
	}
	if req.Trigger != nil {
		next.Trigger = *req.Trigger
	}
	if req.Permissions != nil {
		next.Permissions = *req.Permissions
	}
	if req.Resources != nil {
		next.Resources = *req.Resources
	}
	if err := validateRegistration(next.Name, next.Description, next.Code, next.Trigger); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now()
	if err := r.persist(&next); err != nil {
		return nil, err
	}
	r.log.Info("function updated", "id", next.ID, "version", next.Version)
	return &next, nil
}

func (r *Registry) persist(fn *FunctionVersion) error {
	raw, err := marshalFn(fn)
	if err != nil {
		return err
	}
	if _, err := r.store.MultiPut([]kvstore.PutEntry{
		{Table: TableFunctions, Key: []byte(fn.ID), Value: raw},
		{Table: TableFunctionHistory, Key: historyKey(fn.ID, fn.Version), Value: raw},
	}); err != nil {
		return fmt.Errorf("registry: storage error persisting function: %w", err)
	}
	r.cache.Add(fn.ID, fn)
	return nil
}

func (r *Registry) get(id string) (*FunctionVersion, error) {
	if v, ok := r.cache.Get(id); ok {
		return v.(*FunctionVersion), nil
	}
	raw, err := r.store.Get(TableFunctions, []byte(id))
	if err == kvstore.ErrNoSuchKey {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: storage error reading function: %w", err)
	}
	fn, err := unmarshalFn(raw)
	if err != nil {
		return nil, err
	}
	r.cache.Add(id, fn)
	return fn, nil
}

// Get returns the current (latest) FunctionVersion for id.
func (r *Registry) Get(id string) (*FunctionVersion, error) {
	return r.get(id)
}

// GetVersion returns a specific historical version of id.
func (r *Registry) GetVersion(id string, version uint64) (*FunctionVersion, error) {
	raw, err := r.store.Get(TableFunctionHistory, historyKey(id, version))
	if err == kvstore.ErrNoSuchKey {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalFn(raw)
}

// List returns every current FunctionVersion, optionally filtered by
// trigger tag.
func (r *Registry) List(triggerTag TriggerTag) ([]*FunctionVersion, error) {
	res, err := r.store.Scan(TableFunctions, kvstore.ScanOptions{})
	if err != nil {
		return nil, fmt.Errorf("registry: storage error listing functions: %w", err)
	}
	out := make([]*FunctionVersion, 0, len(res.Pairs))
	for _, kv := range res.Pairs {
		fn, err := unmarshalFn(kv.Value)
		if err != nil {
			return nil, err
		}
		if triggerTag != "" && fn.Trigger.Tag != triggerTag {
			continue
		}
		out = append(out, fn)
	}
	return out, nil
}

// Delete removes the current pointer and every historical version for id.
// Per SPEC_FULL.md §7.3, the ledger is never touched by Delete.
func (r *Registry) Delete(id string) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur, err := r.get(id)
	if err != nil {
		return err
	}
	dels := make([]kvstore.DeleteEntry, 0, cur.Version+1)
	dels = append(dels, kvstore.DeleteEntry{Table: TableFunctions, Key: []byte(id)})
	for v := uint64(1); v <= cur.Version; v++ {
		dels = append(dels, kvstore.DeleteEntry{Table: TableFunctionHistory, Key: historyKey(id, v)})
	}
	if _, err := r.store.MultiDelete(dels); err != nil {
		return fmt.Errorf("registry: storage error deleting function: %w", err)
	}
	r.cache.Remove(id)
	r.log.Info("function deleted", "id", id)
	return nil
}
