package notify

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-engine/pkg/types"
)

func newTestHub(size int) *Hub {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewHub(size, logger)
}

func TestPublishAndDrain(t *testing.T) {
	h := newTestHub(10)
	h.Publish("a@x", types.Notification{Type: types.NotificationNewEmail, MessageID: "<1@x>"})
	h.Publish("b@x", types.Notification{Type: types.NotificationEmailRead})

	got := h.Drain("a@x")
	require.Len(t, got, 1)
	assert.Equal(t, "<1@x>", got[0].MessageID)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())

	assert.Empty(t, h.Drain("a@x"))
	assert.Len(t, h.Drain("b@x"), 1)
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	h := newTestHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("a@x", types.Notification{MessageID: fmt.Sprintf("<%d@x>", i)})
	}

	got := h.Drain("a@x")
	require.Len(t, got, 3)
	assert.Equal(t, "<2@x>", got[0].MessageID)
	assert.Equal(t, "<4@x>", got[2].MessageID)
}

func TestPublishConcurrent(t *testing.T) {
	h := newTestHub(1000)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish(fmt.Sprintf("user-%d", i%3), types.Notification{})
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 3; i++ {
		total += len(h.Drain(fmt.Sprintf("user-%d", i)))
	}
	assert.Equal(t, 500, total)
}

func TestSubscribe(t *testing.T) {
	h := newTestHub(2)
	ch := h.Subscribe("a@x")
	h.Publish("a@x", types.Notification{Type: types.NotificationEmailDeleted})
	n := <-ch
	assert.Equal(t, types.NotificationEmailDeleted, n.Type)
}
