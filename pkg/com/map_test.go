package com

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

type testClient struct {
	id int
	c  int32
}

func (t *testClient) Id() string      { return fmt.Sprintf("%v", t.id) }
func (t *testClient) Disconnect()     {}
func (t *testClient) change(n int)    { atomic.AddInt32(&t.c, int32(n)) }

func TestPointerValue(t *testing.T) {
	m := NewNetMap[string, *testClient]()
	c := testClient{id: 1}
	m.Add(&c)
	fc, _ := m.FindBy(func(c *testClient) bool { return c.id == 1 })
	c.change(100)
	fc2, _ := m.Find(fc.Id())

	expected := c.c == fc.c && c.c == fc2.c
	if !expected {
		t.Errorf("not expected change, o: %v != %v != %v", c.c, fc.c, fc2.c)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := NewNetMap[string, *testClient]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &testClient{id: i}
			m.Add(c)
			if _, err := m.Find(c.Id()); err != nil {
				t.Errorf("client %v lost", i)
			}
			m.Remove(c)
		}(i)
	}
	wg.Wait()
	if !m.IsEmpty() {
		t.Errorf("the map should be empty")
	}
}
