// Package strategy 实现图遍历的工作队列策略
package strategy

import "github.com/pkg/errors"

// ErrEmpty is returned by Pop on an empty worklist.
var ErrEmpty = errors.New("worklist is empty")

type Strategy[T any] interface {
	Size() int
	HasNext() bool
	Pop() (T, error)
	Push(...T) error
}
