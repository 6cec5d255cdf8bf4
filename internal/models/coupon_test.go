package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignmentStatusTerminal(t *testing.T) {
	assert.False(t, AssignmentStatusSent.Terminal())
	assert.True(t, AssignmentStatusRedeemed.Terminal())
	assert.True(t, AssignmentStatusExpired.Terminal())
}
