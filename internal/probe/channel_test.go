package probe

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestChannel_FirstPostWins(t *testing.T) {
	id := AttemptID{Run: "r", Seq: 1}
	c := NewChannel(id)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.Post(Result{Value: i, Attempt: AttemptID{Run: "other", Seq: 9}}) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("want exactly one accepted post, got %d", accepted)
	}
	r := <-c.Receive()
	if r.Attempt != id {
		t.Fatalf("attempt id not stamped: %s", r.Attempt)
	}
}

func TestChannel_SealDropsPosts(t *testing.T) {
	c := NewChannel(AttemptID{Run: "r", Seq: 2})
	c.Seal()
	if c.Post(Result{Value: true}) {
		t.Fatalf("sealed channel accepted a post")
	}
	select {
	case r := <-c.Receive():
		t.Fatalf("unexpected result %+v", r)
	default:
	}
}

func TestTags(t *testing.T) {
	for _, tag := range Tags() {
		got, err := ParseTag(string(tag))
		if err != nil || got != tag {
			t.Fatalf("ParseTag(%q) = %q, %v", tag, got, err)
		}
	}
	if got, _ := ParseTag(" Not-Ready "); got != TagNotReady {
		t.Fatalf("spelling not normalised: %q", got)
	}
	if _, err := ParseTag("sometimes"); err == nil {
		t.Fatalf("unknown tag accepted")
	}

	tags, err := ParseTags("unavailable,, timeout")
	if err != nil || len(tags) != 2 || tags[1] != TagTimeout {
		t.Fatalf("ParseTags: %v %v", tags, err)
	}
	if _, err := ParseTags("unavailable,nope"); err == nil {
		t.Fatalf("want error for unknown tag in list")
	}
}

func TestTaggedErrors(t *testing.T) {
	base := errors.New("connection refused")
	err := Tagged(TagUnavailable, base)
	if TagOf(err) != TagUnavailable || !errors.Is(err, base) {
		t.Fatalf("tag or chain lost: %v", err)
	}
	if err.Error() != "unavailable: connection refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if Tagged(TagInvalid, nil) != nil {
		t.Fatalf("Tagged(nil) should stay nil")
	}
	if TagOf(base) != "" {
		t.Fatalf("untagged error has a tag")
	}
}

func TestParseSeconds(t *testing.T) {
	if d, err := ParseSeconds(0.5); err != nil || d != 500*time.Millisecond {
		t.Fatalf("ParseSeconds(0.5) = %s, %v", d, err)
	}
	for _, bad := range []float64{-1, 1e300} {
		if _, err := ParseSeconds(bad); err == nil {
			t.Fatalf("ParseSeconds(%v) accepted", bad)
		}
	}
}

func TestStateStrings(t *testing.T) {
	if StateTimedOut.String() != "timed_out" || KindMismatch.String() != "mismatch" {
		t.Fatalf("unexpected names %s %s", StateTimedOut, KindMismatch)
	}
	if StateRunning.Terminal() || !StateCancelled.Terminal() {
		t.Fatalf("Terminal wrong")
	}
}
