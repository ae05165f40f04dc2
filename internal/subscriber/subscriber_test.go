// SPDX-License-Identifier: Unlicense OR MIT

package subscriber

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveDuringIteration(t *testing.T) {
	var l List[func()]
	var calls []string
	var cancelA func()
	cancelA = l.Add(func() {
		calls = append(calls, "a")
		cancelA()
	})
	l.Add(func() {
		calls = append(calls, "b")
		l.Add(func() { calls = append(calls, "c") })
	})

	for _, fn := range l.Snapshot() {
		(*fn)()
	}
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, 2, l.Len())

	calls = nil
	for _, fn := range l.Snapshot() {
		(*fn)()
	}
	assert.Equal(t, []string{"b", "c"}, calls)
	cancelA()
	assert.Equal(t, 3, l.Len())
}
