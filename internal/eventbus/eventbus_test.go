package eventbus

import (
	"testing"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("job-1")
	defer unsubscribe()

	b.Publish("job-1", Event{Seq: 1, Type: constants.EventTaskProgress, JobID: "job-1"})

	select {
	case ev := <-ch:
		if ev.Seq != 1 {
			t.Errorf("got seq %d, want 1", ev.Seq)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestPublish_DropsOldestWhenFull(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("job-1")
	defer unsubscribe()

	total := constants.EventChannelBuffer + 5
	for i := 1; i <= total; i++ {
		b.Publish("job-1", Event{Seq: int64(i), Type: constants.EventTaskProgress, JobID: "job-1"})
	}

	var last Event
	count := 0
	for {
		select {
		case ev := <-ch:
			last = ev
			count++
			continue
		default:
		}
		break
	}

	if count != constants.EventChannelBuffer {
		t.Fatalf("got %d buffered events, want %d", count, constants.EventChannelBuffer)
	}
	if last.Seq != int64(total) {
		t.Errorf("newest event not retained: got seq %d, want %d", last.Seq, total)
	}
}

func TestSubscribe_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("job-1")
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	if n := b.SubscriberCount("job-1"); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
}
