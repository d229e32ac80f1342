package com

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestLateResponseDoesNotWakeTimedOutCall(t *testing.T) {
	c := &Client{queue: make(map[Uid]*call, 1)}
	id := NewUid()
	task := &call{done: make(chan struct{})}
	c.queue[id] = task

	// the caller timed out and dropped its tracker
	if c.pop(id) == nil {
		t.Fatal("the tracker should still be there to drop")
	}
	if len(c.queue) != 0 {
		t.Fatalf("the queue should be empty, has %v entries", len(c.queue))
	}

	var stray []In
	c.OnPacket(func(p In) { stray = append(stray, p) })

	raw, err := json.Marshal(Out{Id: id.String(), T: 101, Payload: "late"})
	if err != nil {
		t.Fatal(err)
	}
	c.handleMessage(raw, nil)

	select {
	case <-task.done:
		t.Fatal("the dead call came back to life")
	default:
	}
	if len(stray) != 1 {
		t.Fatalf("the late response should fall through to the packet handler, got %v", len(stray))
	}
}
