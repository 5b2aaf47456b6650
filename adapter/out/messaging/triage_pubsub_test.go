package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPubSub(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestSubscriberAcksOnSuccessAndRedeliversOnError(t *testing.T) {
	srv, client := newTestPubSub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	topic, err := client.CreateTopic(ctx, "gmail-push")
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if _, err := client.CreateSubscription(ctx, "triage", pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	payload := `{"emailAddress":"shop@example.com","historyId":"77"}`
	if _, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(payload)}).Get(ctx); err != nil {
		t.Fatalf("publish: %v", err)
	}

	s := NewSubscriberFromClient(client, SubscriberConfig{Subscription: "triage", MaxOutstanding: 1}, zerolog.Nop())

	var calls atomic.Int32
	recvCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- s.Receive(recvCtx, func(_ context.Context, data []byte) error {
			if string(data) != payload {
				t.Errorf("unexpected payload %q", data)
			}
			if calls.Add(1) == 1 {
				return errors.New("list unread failed")
			}
			return nil
		})
	}()

	acked := false
	for !acked && ctx.Err() == nil {
		if msgs := srv.Messages(); len(msgs) == 1 && msgs[0].Acks > 0 {
			acked = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	stop()

	if err := <-done; err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !acked {
		t.Fatal("expected the message to be acked")
	}
	if calls.Load() != 2 {
		t.Errorf("expected one redelivery after nack, got %d calls", calls.Load())
	}
}

func TestNewSubscriberRequiresProject(t *testing.T) {
	if _, err := NewSubscriber(context.Background(), SubscriberConfig{Subscription: "s"}, zerolog.Nop()); err == nil {
		t.Error("expected an error without a project id")
	}
}
