package ws

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func drain(l *listener) []string {
	var ids []string
	for {
		select {
		case msg, ok := <-l.outbox:
			if !ok {
				return ids
			}
			ids = append(ids, msg.ConversationID)
		default:
			return ids
		}
	}
}

func expectCounts(t *testing.T, hub *Hub, conns, users int) {
	t.Helper()
	if got := hub.Connections(); got != conns {
		t.Errorf("Connections() = %d, want %d", got, conns)
	}
	if got := hub.Users(); got != users {
		t.Errorf("Users() = %d, want %d", got, users)
	}
}

func TestHub_AttachDetach(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a1 := hub.attach("alex")
	a2 := hub.attach("alex")
	b := hub.attach("blair")
	expectCounts(t, hub, 3, 2)

	hub.detach(a1)
	expectCounts(t, hub, 2, 2)

	hub.detach(a2)
	hub.detach(a2)
	expectCounts(t, hub, 1, 1)

	if _, open := <-a2.outbox; open {
		t.Error("detach should close the outbox")
	}

	hub.detach(b)
	expectCounts(t, hub, 0, 0)
}

func TestHub_SendToUser(t *testing.T) {
	hub := NewHub(zap.NewNop())
	tab1 := hub.attach("alex")
	tab2 := hub.attach("alex")
	other := hub.attach("blair")

	if n := hub.SendToUser("alex", Message{Type: MessageDetailsLearned, ConversationID: "c1"}); n != 2 {
		t.Errorf("SendToUser() = %d, want 2", n)
	}
	for i, l := range []*listener{tab1, tab2} {
		if got := drain(l); !slices.Equal(got, []string{"c1"}) {
			t.Errorf("tab %d received %v, want [c1]", i+1, got)
		}
	}
	if got := drain(other); len(got) != 0 {
		t.Errorf("other user received %v", got)
	}

	if n := hub.SendToUser("nobody", Message{Type: MessageSessionEnded}); n != 0 {
		t.Errorf("SendToUser(nobody) = %d, want 0", n)
	}
}

func TestHub_FullOutboxDropsOldest(t *testing.T) {
	hub := NewHub(zap.NewNop())
	l := hub.attach("alex")
	for i := 0; i < outboxSize; i++ {
		if n := hub.SendToUser("alex", Message{ConversationID: fmt.Sprintf("m%d", i)}); n != 1 {
			t.Fatalf("SendToUser(m%d) = %d, want 1", i, n)
		}
	}

	if n := hub.SendToUser("alex", Message{ConversationID: "latest"}); n != 1 {
		t.Errorf("SendToUser(latest) = %d, want 1", n)
	}
	if got := l.dropped.Load(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	ids := drain(l)
	if len(ids) != outboxSize {
		t.Fatalf("queued %d messages, want %d", len(ids), outboxSize)
	}
	if ids[0] != "m1" || ids[len(ids)-1] != "latest" {
		t.Errorf("queue runs %s..%s, want m1..latest", ids[0], ids[len(ids)-1])
	}
}

func TestListener_PumpStops(t *testing.T) {
	t.Run("detached", func(t *testing.T) {
		hub := NewHub(zap.NewNop())
		l := hub.attach("alex")
		hub.detach(l)
		if err := l.pump(context.Background(), nil); err != nil {
			t.Errorf("pump() error = %v", err)
		}
	})
	t.Run("context cancelled", func(t *testing.T) {
		hub := NewHub(zap.NewNop())
		l := hub.attach("alex")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := l.pump(ctx, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("pump() error = %v, want context.Canceled", err)
		}
	})
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	users := []string{"a", "b", "c", "d", "e"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(user string) {
			defer wg.Done()
			l := hub.attach(user)
			for j := 0; j < 10; j++ {
				drain(l)
			}
			hub.detach(l)
		}(users[i%len(users)])
		go func(user string) {
			defer wg.Done()
			hub.SendToUser(user, Message{Type: MessageSessionEnded})
			_ = hub.Connections()
		}(users[i%len(users)])
	}
	wg.Wait()

	expectCounts(t, hub, 0, 0)
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := hub.attach("alex")
	b := hub.attach("blair")

	hub.closeAll()
	expectCounts(t, hub, 0, 0)
	for _, l := range []*listener{a, b} {
		if err := l.pump(context.Background(), nil); err != nil {
			t.Errorf("pump() after closeAll error = %v", err)
		}
	}

	hub.detach(a)
	if n := hub.SendToUser("alex", Message{}); n != 0 {
		t.Errorf("SendToUser after closeAll = %d, want 0", n)
	}
}
