package multiagent

import (
	"context"
	"testing"
	"time"

	"github.com/carabistouflette/hive/observability"
)

func TestCommunicationBus_PublishFansOutToEverySubscriber(t *testing.T) {
	bus := NewCommunicationBus(observability.NewNoOpLogger())

	_, ch1 := bus.Subscribe()
	_, ch2 := bus.Subscribe()

	bus.Publish(newMessage("sender", "", MessageContent{Kind: ContentDataFragment, DataFragment: "hello"}))

	select {
	case msg := <-ch1:
		if msg.Content.DataFragment != "hello" {
			t.Errorf("ch1 got %q, want %q", msg.Content.DataFragment, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("ch1 did not receive the broadcast")
	}

	select {
	case msg := <-ch2:
		if msg.Content.DataFragment != "hello" {
			t.Errorf("ch2 got %q, want %q", msg.Content.DataFragment, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("ch2 did not receive the broadcast")
	}
}

func TestCommunicationBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewCommunicationBus(observability.NewNoOpLogger())
	id, ch := bus.Subscribe()
	bus.Unsubscribe(id)

	_, ok := <-ch
	if ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestCommunicationBus_LaggedSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewCommunicationBus(observability.NewNoOpLogger())
	_, ch := bus.Subscribe()

	for i := 0; i < DefaultBusCapacity+5; i++ {
		bus.Publish(newMessage("sender", "", MessageContent{Kind: ContentDataFragment, DataFragment: "x"}))
	}

	stats := bus.Stats()
	if stats.LagEvents == 0 {
		t.Error("expected lag events once the subscriber's buffer overflowed, got 0")
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained == 0 {
				t.Error("subscriber channel was empty despite earlier publishes")
			}
			return
		}
	}
}

func TestCommunicationBus_SubmitAndDrainUpstream(t *testing.T) {
	ctx := context.Background()
	bus := NewCommunicationBus(observability.NewNoOpLogger())

	req := BusRequest{Kind: BusRequestAgentResponse, AgentResponse: &AgentResponse{Kind: AgentResponseTaskCompleted, TaskID: "t1"}}
	if err := bus.SubmitUpstream(ctx, req); err != nil {
		t.Fatalf("SubmitUpstream: %v", err)
	}

	select {
	case got := <-bus.Upstream():
		if got.AgentResponse.TaskID != "t1" {
			t.Errorf("got TaskID %q, want %q", got.AgentResponse.TaskID, "t1")
		}
	case <-time.After(time.Second):
		t.Fatal("upstream request was not delivered")
	}
}

func TestCommunicationBus_SubmitUpstreamRespectsContextCancellation(t *testing.T) {
	bus := NewCommunicationBus(observability.NewNoOpLogger())
	for i := 0; i < DefaultBusCapacity; i++ {
		if err := bus.SubmitUpstream(context.Background(), BusRequest{Kind: BusRequestGeneralMessage}); err != nil {
			t.Fatalf("SubmitUpstream filling queue: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.SubmitUpstream(ctx, BusRequest{Kind: BusRequestGeneralMessage}); err == nil {
		t.Error("SubmitUpstream on a full queue with a cancelled context succeeded, want error")
	}
}

func TestCommunicationBus_SubmitUpstreamDropsDuplicateResponse(t *testing.T) {
	ctx := context.Background()
	bus := NewCommunicationBus(observability.NewNoOpLogger())

	resp := &AgentResponse{ID: "resp-1", Kind: AgentResponseTaskCompleted, TaskID: "t1"}
	if err := bus.SubmitUpstream(ctx, BusRequest{Kind: BusRequestAgentResponse, AgentResponse: resp}); err != nil {
		t.Fatalf("first SubmitUpstream: %v", err)
	}
	if err := bus.SubmitUpstream(ctx, BusRequest{Kind: BusRequestAgentResponse, AgentResponse: resp}); err != nil {
		t.Fatalf("duplicate SubmitUpstream: %v", err)
	}

	select {
	case <-bus.Upstream():
	case <-time.After(time.Second):
		t.Fatal("first submission was not queued")
	}
	select {
	case got := <-bus.Upstream():
		t.Fatalf("duplicate submission was queued a second time: %+v", got)
	default:
	}

	if stats := bus.Stats(); stats.UpstreamDedup != 1 {
		t.Errorf("UpstreamDedup = %d, want 1", stats.UpstreamDedup)
	}
}

func TestCommunicationBus_PublishDirectedSetsReceiver(t *testing.T) {
	bus := NewCommunicationBus(observability.NewNoOpLogger())
	_, ch := bus.Subscribe()

	bus.publishDirected("router", "worker-1", MessageContent{Kind: ContentReturnInformation, ReturnInformation: &InformationResponse{Payload: "answer"}})

	select {
	case msg := <-ch:
		if msg.ReceiverID != "worker-1" {
			t.Errorf("ReceiverID = %q, want %q", msg.ReceiverID, "worker-1")
		}
		if msg.Content.ReturnInformation.Payload != "answer" {
			t.Errorf("Payload = %q, want %q", msg.Content.ReturnInformation.Payload, "answer")
		}
	case <-time.After(time.Second):
		t.Fatal("directed message was not delivered")
	}
}
