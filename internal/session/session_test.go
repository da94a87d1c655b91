package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker(t *testing.T) {
	var zero Tracker
	assert.Equal(t, "", zero.ActiveUser())

	tr := NewTracker("NA")
	assert.Equal(t, "NA", tr.ActiveUser())

	var changes [][2]string
	tr.OnChange(func(prev, next string) { changes = append(changes, [2]string{prev, next}) })
	tr.OnChange(nil)

	tr.SetActiveUser("NB")
	tr.SetActiveUser("NB")
	tr.SetActiveUser("")

	assert.Equal(t, "", tr.ActiveUser())
	assert.Equal(t, [][2]string{{"NA", "NB"}, {"NB", ""}}, changes)
}
