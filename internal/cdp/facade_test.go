package cdp

import (
	"context"
	"errors"
	"testing"
)

type fakeTransport struct {
	calls   []string
	sendErr error
	onEvent func(method string, ev any)
}

func (t *fakeTransport) Send(ctx context.Context, method string, params, result any) error {
	t.calls = append(t.calls, method)
	return t.sendErr
}

func (t *fakeTransport) OnEvent(fn func(method string, ev any)) { t.onEvent = fn }

func (t *fakeTransport) Close() error { return nil }

func TestFacadeCommands(t *testing.T) {
	t.Run("send_before_attach_fails", func(t *testing.T) {
		f := NewFacade()
		err := f.SendCommand(context.Background(), "Network.enable", nil, nil)
		if !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("expected ErrNotInitialized, got %v", err)
		}
	})

	t.Run("enable_and_disable_build_domain_methods", func(t *testing.T) {
		f := NewFacade()
		tr := &fakeTransport{}
		f.Attach(tr)

		if err := f.EnableDomain(context.Background(), "Network"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := f.DisableDomain(context.Background(), "Network"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tr.calls) != 2 || tr.calls[0] != "Network.enable" || tr.calls[1] != "Network.disable" {
			t.Fatalf("unexpected command calls: %v", tr.calls)
		}
	})

	t.Run("transport_errors_are_wrapped_with_the_method", func(t *testing.T) {
		f := NewFacade()
		sentinel := errors.New("socket gone")
		f.Attach(&fakeTransport{sendErr: sentinel})

		err := f.SendCommand(context.Background(), "Network.getCookies", nil, nil)
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected wrapped transport error, got %v", err)
		}
	})
}

func TestFacadeSubscriptions(t *testing.T) {
	t.Run("events_reach_matching_subscribers_only", func(t *testing.T) {
		f := NewFacade()
		tr := &fakeTransport{}

		var got []string
		f.Subscribe("Network.responseReceived", func(ev any) {
			got = append(got, ev.(string))
		})
		f.Subscribe("Network.loadingFailed", func(ev any) {
			t.Fatalf("handler for a different event fired")
		})
		f.Attach(tr)

		tr.onEvent("Network.responseReceived", "first")
		tr.onEvent("Network.requestWillBeSent", "unrouted")
		tr.onEvent("Network.responseReceived", "second")

		if len(got) != 2 || got[0] != "first" || got[1] != "second" {
			t.Fatalf("unexpected deliveries: %v", got)
		}
	})

	t.Run("unsubscribe_removes_one_registration", func(t *testing.T) {
		f := NewFacade()
		tr := &fakeTransport{}
		f.Attach(tr)

		var a, b int
		idA := f.Subscribe("Network.dataReceived", func(ev any) { a++ })
		f.Subscribe("Network.dataReceived", func(ev any) { b++ })

		tr.onEvent("Network.dataReceived", nil)
		f.Unsubscribe("Network.dataReceived", idA)
		tr.onEvent("Network.dataReceived", nil)

		if a != 1 || b != 2 {
			t.Fatalf("expected a=1 b=2, got a=%d b=%d", a, b)
		}
	})

	t.Run("unsubscribe_all_silences_everything", func(t *testing.T) {
		f := NewFacade()
		tr := &fakeTransport{}
		f.Attach(tr)

		fired := 0
		f.Subscribe("Network.loadingFinished", func(ev any) { fired++ })
		f.Subscribe("Network.loadingFailed", func(ev any) { fired++ })
		f.UnsubscribeAll()

		tr.onEvent("Network.loadingFinished", nil)
		tr.onEvent("Network.loadingFailed", nil)
		if fired != 0 {
			t.Fatalf("expected no deliveries, got %d", fired)
		}
	})
}
