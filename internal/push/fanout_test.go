package push

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/yymmt/bbs-test/internal/metrics"
	"github.com/yymmt/bbs-test/internal/store"
)

type fakeSubscriptions struct {
	threadSubscriptionsFn func(ctx context.Context, threadID int64, excludeUUID string) ([]store.PushSubscription, error)
	deleted               []string
}

func (f *fakeSubscriptions) ThreadSubscriptions(ctx context.Context, threadID int64, excludeUUID string) ([]store.PushSubscription, error) {
	if f.threadSubscriptionsFn == nil {
		return nil, nil
	}
	return f.threadSubscriptionsFn(ctx, threadID, excludeUUID)
}

func (f *fakeSubscriptions) DeleteSubscription(_ context.Context, endpoint string) error {
	f.deleted = append(f.deleted, endpoint)
	return nil
}

type fakeSender struct {
	results map[string]error
	sent    []string
	last    []byte
}

func (f *fakeSender) Send(_ context.Context, sub store.PushSubscription, message []byte) error {
	f.sent = append(f.sent, sub.Endpoint)
	f.last = message
	return f.results[sub.Endpoint]
}

func TestNotifySkipsBuilderWithoutRecipients(t *testing.T) {
	subs := &fakeSubscriptions{}
	sender := &fakeSender{}
	f := NewFanout(subs, sender, nil)

	called := false
	err := f.Notify(context.Background(), 1, "alice", func(context.Context) (Payload, error) {
		called = true
		return Payload{}, nil
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if called {
		t.Fatal("builder must not run when nobody is subscribed")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("unexpected sends: %v", sender.sent)
	}
}

func TestNotifyUnconfiguredDoesNothing(t *testing.T) {
	listed := false
	subs := &fakeSubscriptions{threadSubscriptionsFn: func(context.Context, int64, string) ([]store.PushSubscription, error) {
		listed = true
		return nil, nil
	}}
	if err := NewFanout(subs, nil, nil).Notify(context.Background(), 1, "alice", nil); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if listed {
		t.Fatal("unconfigured push should not query subscriptions")
	}
}

func TestNotifyExcludesActorAndPrunesGone(t *testing.T) {
	var excluded string
	subs := &fakeSubscriptions{threadSubscriptionsFn: func(_ context.Context, threadID int64, excludeUUID string) ([]store.PushSubscription, error) {
		excluded = excludeUUID
		return []store.PushSubscription{
			{Endpoint: "https://push/ok", UserUUID: "bob"},
			{Endpoint: "https://push/gone", UserUUID: "carol"},
			{Endpoint: "https://push/missing", UserUUID: "carol"},
			{Endpoint: "https://push/flaky", UserUUID: "dave"},
		}, nil
	}}
	sender := &fakeSender{results: map[string]error{
		"https://push/gone":    &DeliveryError{Status: 410},
		"https://push/missing": &DeliveryError{Status: 404},
		"https://push/flaky":   &DeliveryError{Status: 500},
	}}
	m := metrics.New()
	f := NewFanout(subs, sender, m)

	err := f.Notify(context.Background(), 7, "alice", func(context.Context) (Payload, error) {
		return Composer{}.Created("Lunch", 7, 42, "Where to eat?"), nil
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if excluded != "alice" {
		t.Fatalf("actor should be excluded, got %q", excluded)
	}
	if len(sender.sent) != 4 {
		t.Fatalf("expected 4 deliveries, got %v", sender.sent)
	}
	if len(subs.deleted) != 2 || subs.deleted[0] != "https://push/gone" || subs.deleted[1] != "https://push/missing" {
		t.Fatalf("unexpected pruned endpoints: %v", subs.deleted)
	}

	var decoded Payload
	if err := json.Unmarshal(sender.last, &decoded); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if decoded.PostID != 42 || decoded.Title != "New post in Lunch" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestNotifyPropagatesListingAndBuildErrors(t *testing.T) {
	boom := errors.New("boom")
	subs := &fakeSubscriptions{threadSubscriptionsFn: func(context.Context, int64, string) ([]store.PushSubscription, error) {
		return nil, boom
	}}
	err := NewFanout(subs, &fakeSender{}, nil).Notify(context.Background(), 1, "a", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected listing error, got %v", err)
	}

	subs.threadSubscriptionsFn = func(context.Context, int64, string) ([]store.PushSubscription, error) {
		return []store.PushSubscription{{Endpoint: "e"}}, nil
	}
	sender := &fakeSender{}
	err = NewFanout(subs, sender, nil).Notify(context.Background(), 1, "a", func(context.Context) (Payload, error) {
		return Payload{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected build error, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("nothing should be sent when the payload cannot be built")
	}
}

func TestIsGone(t *testing.T) {
	if !IsGone(&DeliveryError{Status: 410}) || !IsGone(&DeliveryError{Status: 404}) {
		t.Fatal("404 and 410 are permanent")
	}
	if IsGone(&DeliveryError{Status: 429}) || IsGone(errors.New("dial tcp")) {
		t.Fatal("other failures are transient")
	}
}
