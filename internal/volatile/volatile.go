package volatile

import (
	"sync/atomic"
)

// Value is a typed wrapper around atomic.Value. The zero value is not usable,
// use NewValue.
type Value[T any] struct {
	inner atomic.Value
}

type box[T any] struct {
	value T
}

func NewValue[T any](initial T) *Value[T] {
	v := &Value[T]{}
	v.inner.Store(box[T]{value: initial})
	return v
}

func (v *Value[T]) Load() T {
	return v.inner.Load().(box[T]).value
}

func (v *Value[T]) Store(value T) {
	v.inner.Store(box[T]{value: value})
}
