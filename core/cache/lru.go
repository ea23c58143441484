package cache

import (
	"container/list"
	"sync"
	"time"
)

type PutOptions struct {
	TTL time.Duration
}

type PutOption func(*PutOptions)

func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
	}
}

type LRUOpts struct {
	Size int
}

type entry[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time
}

// LRU is a fixed-size cache safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu    sync.Mutex
	size  int
	ll    *list.List
	items map[K]*list.Element
	now   func() time.Time
}

func NewLRU[K comparable, V any](opts LRUOpts) *LRU[K, V] {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	return &LRU[K, V]{
		size:  opts.Size,
		ll:    list.New(),
		items: make(map[K]*list.Element),
		now:   time.Now,
	}
}

func (l *LRU[K, V]) Get(key K) (out V, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ele, ok := l.items[key]
	if !ok {
		return out, false
	}
	e := ele.Value.(*entry[K, V])
	if !e.expires.IsZero() && !l.now().Before(e.expires) {
		l.removeLocked(ele)
		return out, false
	}
	l.ll.MoveToFront(ele)
	return e.val, true
}

func (l *LRU[K, V]) Put(key K, val V, opts ...PutOption) {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	var expires time.Time
	if o.TTL > 0 {
		expires = l.now().Add(o.TTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ele, ok := l.items[key]; ok {
		e := ele.Value.(*entry[K, V])
		e.val, e.expires = val, expires
		l.ll.MoveToFront(ele)
		return
	}

	l.items[key] = l.ll.PushFront(&entry[K, V]{key: key, val: val, expires: expires})
	if l.ll.Len() > l.size {
		if last := l.ll.Back(); last != nil {
			l.removeLocked(last)
		}
	}
}

func (l *LRU[K, V]) Delete(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.removeLocked(ele)
	}
}

func (l *LRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU[K, V]) removeLocked(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.items, ele.Value.(*entry[K, V]).key)
}
