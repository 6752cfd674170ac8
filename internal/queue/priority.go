package queue

import (
	"errors"
	"fmt"
)

var ErrInvalidPriority = errors.New("invalid priority")

// backendPriority maps a task priority (1 most urgent, 10 least) to the
// backend scale where a larger number is served first.
var backendPriority = [10]int{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}

// ToBackend converts a task priority in [1, 10] to the backend scale [9, 0].
func ToBackend(p int) (int, error) {
	if p < 1 || p > len(backendPriority) {
		return 0, fmt.Errorf("%w: %d is outside 1..10", ErrInvalidPriority, p)
	}
	return backendPriority[p-1], nil
}

// FromBackend is the inverse of ToBackend.
func FromBackend(b int) (int, error) {
	for i, v := range backendPriority {
		if v == b {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: backend priority %d is outside 0..9", ErrInvalidPriority, b)
}
