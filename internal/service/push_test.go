package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/proteeti/internal/apperror"
)

func TestPush_SubscribeAndBroadcast(t *testing.T) {
	db := newTestDB(t)
	b := &fakeBroadcaster{enabled: true}
	svc := NewPushService(db, b, testLogger())
	ctx := context.Background()

	if err := svc.Subscribe(ctx, "alice", "https://push.example/1", "auth", "key"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := svc.Subscribe(ctx, "", "https://push.example/2", "auth", "key"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := svc.Unsubscribe(ctx, "https://push.example/2"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	res, err := svc.SendCommunity(ctx, "", "Stay safe during the cyclone")
	if err != nil {
		t.Fatalf("SendCommunity() error = %v", err)
	}
	if res.Sent != 1 || len(b.calls[0]) != 1 {
		t.Errorf("result = %+v, want one active subscription", res)
	}
	if b.payload[0].Title != "Proteeti community update" {
		t.Errorf("title = %q", b.payload[0].Title)
	}

	// Subscribing again reactivates.
	if err := svc.Subscribe(ctx, "", "https://push.example/2", "auth", "key"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	res, _ = svc.SendHazard(ctx, "Flood", "Water rising near the river", "flood")
	if res.Sent != 2 {
		t.Errorf("Sent = %d, want 2 after reactivation", res.Sent)
	}
}

func TestPush_Validation(t *testing.T) {
	svc := NewPushService(newTestDB(t), &fakeBroadcaster{enabled: true}, testLogger())
	ctx := context.Background()

	if err := svc.Subscribe(ctx, "alice", "", "auth", "key"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Subscribe() without endpoint error = %v", err)
	}
	if _, err := svc.SendHazard(ctx, "t", "  ", ""); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("SendHazard() without body error = %v", err)
	}
}

func TestPush_Disabled(t *testing.T) {
	svc := NewPushService(newTestDB(t), &fakeBroadcaster{}, testLogger())

	if _, err := svc.PublicKey(); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("PublicKey() error = %v, want ErrNotFound", err)
	}
	if _, err := svc.SendCommunity(context.Background(), "", "hello"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("SendCommunity() error = %v, want ErrValidation", err)
	}
}
