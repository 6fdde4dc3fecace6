package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "incoming", DirectionIncoming.String())
	assert.Equal(t, "outgoing", DirectionOutgoing.String())
}

func TestMessage_ConversationID(t *testing.T) {
	msg := &Message{DID: "5551234567", Contact: "5557654321", Direction: DirectionIncoming}

	cid := msg.ConversationID()
	assert.Equal(t, ConversationID{DID: "5551234567", Contact: "5557654321"}, cid)
	assert.Equal(t, "5551234567:5557654321", cid.String())
	assert.True(t, msg.IsIncoming())
}
