// Package remember caches human answers an operator asked to keep, per
// application or per origin. Entries never expire on their own; only
// Forget and Clear remove them.
package remember

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/jnlpguard/internal/model"
)

// ErrNotRememberable is returned when recording a decision class whose
// answers are never cached.
var ErrNotRememberable = errors.New("decision class cannot be remembered")

// CachedDecision is one remembered answer.
type CachedDecision struct {
	Kind     model.Kind
	Scope    model.RememberScope
	Key      string
	Action   Action
	Value    string
	LastUsed time.Time
}

// Remember reports whether the entry answers later requests.
func (c CachedDecision) Remember() bool { return c.Action.Remembered() }

// Decision decodes the stored answer.
func (c CachedDecision) Decision() (model.Decision, error) {
	return model.ParseDecision(c.Kind.Shape(), c.Value)
}

// KeyFor returns the key a subject is stored under at scope.
func KeyFor(s model.Subject, scope model.RememberScope) string {
	if scope == model.RememberOrigin {
		return s.OriginKey()
	}
	return s.ApplicationKey()
}

type rowKey struct {
	scope model.RememberScope
	key   string
}

// Cache is safe for concurrent use, although the broker is its only writer.
type Cache struct {
	// writeMu orders store writes the same way as the map changes they
	// mirror. It is taken before mu and held across the store call.
	writeMu sync.Mutex
	mu      sync.RWMutex
	rows    map[rowKey]*Row
	store   Store
	now     func() time.Time
}

// NewCache loads every row from store. A nil store keeps the cache in
// memory only.
func NewCache(ctx context.Context, store Store) (*Cache, error) {
	c := &Cache{
		rows:  make(map[rowKey]*Row),
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	if store == nil {
		return c, nil
	}
	rows, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		r := rows[i]
		c.rows[rowKey{r.Scope, r.Key}] = &r
	}
	return c, nil
}

// Lookup finds a remembered answer for kind, trying the exact application
// first and the subject's origin second.
func (c *Cache) Lookup(kind model.Kind, subject model.Subject) (CachedDecision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, scope := range []model.RememberScope{model.RememberApplication, model.RememberOrigin} {
		key := KeyFor(subject, scope)
		row, ok := c.rows[rowKey{scope, key}]
		if !ok {
			continue
		}
		sa, ok := row.Actions[kind]
		if !ok || !sa.Action.Remembered() {
			continue
		}
		return CachedDecision{
			Kind:     kind,
			Scope:    scope,
			Key:      key,
			Action:   sa.Action,
			Value:    sa.Value,
			LastUsed: row.LastUsed,
		}, true
	}
	return CachedDecision{}, false
}

// MarkUsed refreshes the last-used time of the row a hit came from. A hit
// forgotten since its Lookup is left alone.
func (c *Cache) MarkUsed(ctx context.Context, hit CachedDecision) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	row, ok := c.rows[rowKey{hit.Scope, hit.Key}]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if sa, ok := row.Actions[hit.Kind]; !ok || !sa.Action.Remembered() {
		c.mu.Unlock()
		return nil
	}
	row.LastUsed = c.now()
	snapshot := Row{Scope: row.Scope, Key: row.Key, Actions: row.Actions.clone(), LastUsed: row.LastUsed}
	c.mu.Unlock()
	return c.persist(ctx, snapshot)
}

// Record remembers d for kind at scope. RememberNone is a no-op.
func (c *Cache) Record(ctx context.Context, kind model.Kind, subject model.Subject, d model.Decision, scope model.RememberScope) error {
	if scope == model.RememberNone {
		return nil
	}
	if !kind.Rememberable() {
		return fmt.Errorf("%w: %s", ErrNotRememberable, kind)
	}
	if d.Shape() != kind.Shape() {
		return fmt.Errorf("record %s: decision shape %s does not match %s", kind, d.Shape(), kind.Shape())
	}

	k := rowKey{scope, KeyFor(subject, scope)}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	row, ok := c.rows[k]
	if !ok {
		row = &Row{Scope: scope, Key: k.key, Actions: Actions{}}
		c.rows[k] = row
	}
	row.Actions[kind] = SavedAction{Action: ActionFor(d, true), Value: d.Encode()}
	row.LastUsed = c.now()
	snapshot := Row{Scope: row.Scope, Key: row.Key, Actions: row.Actions.clone(), LastUsed: row.LastUsed}
	c.mu.Unlock()
	return c.persist(ctx, snapshot)
}

// Forget removes the entry for kind under (scope, key), or every kind for
// that key when kind is empty. It returns how many entries were removed.
func (c *Cache) Forget(ctx context.Context, kind model.Kind, scope model.RememberScope, key string) (int, error) {
	k := rowKey{scope, key}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	row, ok := c.rows[k]
	if !ok {
		c.mu.Unlock()
		return 0, nil
	}
	removed := 0
	if kind == "" {
		removed = len(row.Actions)
		row.Actions = Actions{}
	} else if _, ok := row.Actions[kind]; ok {
		delete(row.Actions, kind)
		removed = 1
	}
	empty := len(row.Actions) == 0
	if empty {
		delete(c.rows, k)
	}
	snapshot := Row{Scope: row.Scope, Key: row.Key, Actions: row.Actions.clone(), LastUsed: row.LastUsed}
	c.mu.Unlock()

	if removed == 0 || c.store == nil {
		return removed, nil
	}
	if empty {
		return removed, c.store.Delete(ctx, scope, key)
	}
	return removed, c.store.Put(ctx, snapshot)
}

// Clear removes every remembered answer.
func (c *Cache) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	c.rows = make(map[rowKey]*Row)
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.Clear(ctx)
}

// List returns every entry ordered by scope, key and kind.
func (c *Cache) List() []CachedDecision {
	c.mu.RLock()
	var out []CachedDecision
	for _, row := range c.rows {
		for kind, sa := range row.Actions {
			out = append(out, CachedDecision{
				Kind:     kind,
				Scope:    row.Scope,
				Key:      row.Key,
				Action:   sa.Action,
				Value:    sa.Value,
				LastUsed: row.LastUsed,
			})
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Close releases the backing store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) persist(ctx context.Context, row Row) error {
	if c.store == nil {
		return nil
	}
	return c.store.Put(ctx, row)
}
