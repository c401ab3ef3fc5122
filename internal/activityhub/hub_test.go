package activityhub

import "testing"

func TestPublishAndSubscribe(t *testing.T) {
	h := New()
	ch, unsub := h.Subscribe("agent-a@endpoint")
	defer unsub()

	h.Publish(Event{Topic: "agent-a@endpoint", Kind: "enqueue", Message: "hello"})
	h.Publish(Event{Topic: "agent-a@endpoint", Kind: "commit", Message: "world"})

	got := <-ch
	if got.Message != "hello" || got.Kind != "enqueue" {
		t.Fatalf("got %+v", got)
	}
	got = <-ch
	if got.Message != "world" || got.Kind != "commit" {
		t.Fatalf("got %+v", got)
	}
}

func TestCatchupOnSubscribe(t *testing.T) {
	h := New()

	h.Publish(Event{Topic: "t", Message: "line1"})
	h.Publish(Event{Topic: "t", Message: "line2"})
	h.Publish(Event{Topic: "t", Message: "line3"})

	ch, unsub := h.Subscribe("t")
	defer unsub()

	for _, want := range []string{"line1", "line2", "line3"} {
		got := <-ch
		if got.Message != want {
			t.Fatalf("expected %q, got %q", want, got.Message)
		}
	}
}

func TestTopicsAreIndependent(t *testing.T) {
	h := New()
	chA, unsubA := h.Subscribe("a")
	defer unsubA()
	chB, unsubB := h.Subscribe("b")
	defer unsubB()

	h.Publish(Event{Topic: "a", Message: "only-a"})

	got := <-chA
	if got.Message != "only-a" {
		t.Fatalf("got %+v", got)
	}
	select {
	case got := <-chB:
		t.Fatalf("expected no event on topic b, got %+v", got)
	default:
	}
}

func TestRemoveClosesSubscribers(t *testing.T) {
	h := New()
	ch, _ := h.Subscribe("t")

	h.Publish(Event{Topic: "t", Message: "before"})
	h.Remove("t")

	<-ch
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Remove")
	}
}

func TestIsActive(t *testing.T) {
	h := New()
	if h.IsActive("t") {
		t.Fatal("expected inactive before any publish")
	}
	h.Publish(Event{Topic: "t", Message: "x"})
	if !h.IsActive("t") {
		t.Fatal("expected active after publish")
	}
	h.Remove("t")
	if h.IsActive("t") {
		t.Fatal("expected inactive after Remove")
	}
}
