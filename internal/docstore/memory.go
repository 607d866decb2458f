package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/uuid"
)

// Op records one call made against a Memory store.
type Op struct {
	Method string
	Path   string
}

// Memory is a goroutine-safe in-memory Store. Records are kept as a JSON tree
// so that reads of a parent path see its children, as with the REST backend.
type Memory struct {
	mu   sync.Mutex
	root map[string]interface{}
	ops  []Op

	failNext  []error
	failPaths map[string]error
	now       func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		root:      map[string]interface{}{},
		failPaths: map[string]error{},
		now:       time.Now,
	}
}

// FailNext makes the next call fail with err. Calls queue up in order.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, err)
}

// FailPath makes every call touching a path under prefix fail with err until
// cleared with a nil err.
func (m *Memory) FailPath(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix = Join(prefix)
	if err == nil {
		delete(m.failPaths, prefix)
		return
	}
	m.failPaths[prefix] = err
}

// Ops returns the calls made so far, including failed ones.
func (m *Memory) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Op, len(m.ops))
	copy(out, m.ops)
	return out
}

// Len returns the number of leaf records under path.
func (m *Memory) Len(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.lookup(Split(path))
	if !ok {
		return 0
	}
	children, ok := node.(map[string]interface{})
	if !ok {
		return 1
	}
	return len(children)
}

// begin records the call and returns an injected failure, if any. Callers hold mu.
func (m *Memory) begin(ctx context.Context, method, path string) error {
	path = Join(path)
	m.ops = append(m.ops, Op{Method: method, Path: path})

	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, method+" "+path, err)
	}
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, method+" "+path, err)
	}
	for prefix, err := range m.failPaths {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return apperrors.Wrap(apperrors.ErrRemoteUnavailable, method+" "+path, err)
		}
	}
	return ValidatePath(path)
}

func (m *Memory) lookup(segments []string) (interface{}, bool) {
	var node interface{} = m.root
	for _, s := range segments {
		children, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = children[s]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// parent returns the map holding the last segment, creating intermediate maps.
func (m *Memory) parent(segments []string) map[string]interface{} {
	node := m.root
	for _, s := range segments[:len(segments)-1] {
		child, ok := node[s].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			node[s] = child
		}
		node = child
	}
	return node
}

func (m *Memory) set(segments []string, value interface{}) {
	if value == nil {
		m.remove(segments)
		return
	}
	m.parent(segments)[segments[len(segments)-1]] = value
}

// remove deletes the node at segments and prunes parents left empty.
func (m *Memory) remove(segments []string) {
	if len(segments) == 0 {
		return
	}
	parentSegs := segments[:len(segments)-1]
	node, ok := m.lookup(parentSegs)
	if !ok {
		return
	}
	children, ok := node.(map[string]interface{})
	if !ok {
		return
	}
	delete(children, segments[len(segments)-1])
	if len(children) == 0 {
		m.remove(parentSegs)
	}
}

// toTree converts a Go value into its generic JSON form.
func toTree(value interface{}) (interface{}, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode document", err)
	}
	var tree interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode document", err)
	}
	return tree, nil
}

// Read implements Store.
func (m *Memory) Read(ctx context.Context, path string, dst interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "read", path); err != nil {
		return false, err
	}

	node, ok := m.lookup(Split(path))
	if !ok {
		return false, nil
	}
	data, err := json.Marshal(node)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrInternal, "encode stored document", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, apperrors.Wrap(apperrors.ErrInvalid, "decode document", err)
	}
	return true, nil
}

// Write implements Store.
func (m *Memory) Write(ctx context.Context, path string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "write", path); err != nil {
		return err
	}

	tree, err := toTree(value)
	if err != nil {
		return err
	}
	m.set(Split(path), tree)
	return nil
}

// Update implements Store. Field keys may themselves be relative paths.
func (m *Memory) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "update", path); err != nil {
		return err
	}

	base := Split(path)
	for key, value := range fields {
		tree, err := toTree(value)
		if err != nil {
			return err
		}
		segments := append(append([]string{}, base...), Split(key)...)
		m.set(segments, tree)
	}
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "delete", path); err != nil {
		return err
	}
	m.remove(Split(path))
	return nil
}

// ReadRange implements Store.
func (m *Memory) ReadRange(ctx context.Context, collectionPath, startKey, endKey string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "read_range", collectionPath); err != nil {
		return nil, err
	}

	out := map[string]json.RawMessage{}
	node, ok := m.lookup(Split(collectionPath))
	if !ok {
		return out, nil
	}
	children, ok := node.(map[string]interface{})
	if !ok {
		return out, nil
	}

	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if startKey != "" && k < startKey {
			continue
		}
		if endKey != "" && k > endKey {
			break
		}
		data, err := json.Marshal(children[k])
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "encode stored document", err)
		}
		out[k] = data
	}
	return out, nil
}

// Push implements Store. Keys sort by creation time at millisecond resolution.
func (m *Memory) Push(ctx context.Context, collectionPath string, value interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "push", collectionPath); err != nil {
		return "", err
	}

	tree, err := toTree(value)
	if err != nil {
		return "", err
	}
	key := uuid.NewTimeBased(m.now())
	m.set(append(Split(collectionPath), key), tree)
	return key, nil
}
