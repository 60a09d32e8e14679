package realtime_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/mailsentry-console/internal/config"
	"github.com/jrsteele09/mailsentry-console/notify"
	"github.com/jrsteele09/mailsentry-console/notify/notifyfake"
	"github.com/jrsteele09/mailsentry-console/realtime"
	"github.com/jrsteele09/mailsentry-console/session"
	"github.com/stretchr/testify/require"
)

const (
	testToken   = "header.payload.signature"
	waitTimeout = 2 * time.Second
	waitTick    = 5 * time.Millisecond
)

type testFixture struct {
	client    *realtime.Client
	tokens    *fakeTokens
	dialer    *fakeDialer
	scheduler *fakeScheduler
	notifier  *notifyfake.Recorder
}

func setupTestFixture(t *testing.T, token string) *testFixture {
	t.Helper()
	f := &testFixture{
		tokens:    newFakeTokens(token),
		dialer:    &fakeDialer{},
		scheduler: &fakeScheduler{},
		notifier:  notifyfake.NewRecorder(),
	}
	client, err := realtime.New(config.Realtime{}, f.tokens, f.dialer, f.notifier,
		realtime.WithAfterFunc(f.scheduler.AfterFunc))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	f.client = client
	return f
}

func (f *testFixture) requireState(t *testing.T, want realtime.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.client.Status().State == want
	}, waitTimeout, waitTick, "expected state %s, have %s", want, f.client.Status().State)
}

func (f *testFixture) connect(t *testing.T) *fakeConn {
	t.Helper()
	f.client.Connect()
	f.requireState(t, realtime.StateConnected)
	return f.dialer.LastConn()
}

func TestNew_Validation(t *testing.T) {
	tokens := newFakeTokens(testToken)
	dialer := &fakeDialer{}
	notifier := notifyfake.NewRecorder()

	_, err := realtime.New(nil, tokens, dialer, notifier)
	require.Error(t, err)
	_, err = realtime.New(config.Realtime{}, nil, dialer, notifier)
	require.Error(t, err)
	_, err = realtime.New(config.Realtime{}, tokens, nil, notifier)
	require.Error(t, err)
	_, err = realtime.New(config.Realtime{}, tokens, dialer, nil)
	require.Error(t, err)

	client, err := realtime.New(config.Realtime{}, tokens, dialer, notifier)
	require.NoError(t, err)
	require.Equal(t, realtime.Status{State: realtime.StateDisconnected}, client.Status())
	client.Close()
}

func TestConnect_PresentsCredential(t *testing.T) {
	f := setupTestFixture(t, testToken)

	f.connect(t)

	require.Equal(t, []string{testToken}, f.dialer.Tokens())
	require.True(t, f.client.Status().Connected())
	require.Equal(t, 0, f.client.Status().Attempts)
}

func TestConnect_WithoutCredentialDoesNothing(t *testing.T) {
	f := setupTestFixture(t, "")

	f.client.Connect()

	require.Equal(t, realtime.StateDisconnected, f.client.Status().State)
	require.Zero(t, f.dialer.Dials())
}

func TestConnect_IdempotentWhileConnected(t *testing.T) {
	f := setupTestFixture(t, testToken)
	f.connect(t)

	f.client.Connect()
	f.client.Connect()

	require.Equal(t, 1, f.dialer.Dials())
	require.Len(t, f.dialer.Conns(), 1)
	require.False(t, f.dialer.LastConn().IsClosed())
}

func TestConnect_ConcurrentCallsShareOneDial(t *testing.T) {
	f := setupTestFixture(t, testToken)
	gate := make(chan struct{})
	f.dialer.SetGate(gate)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.client.Connect()
		}()
	}
	wg.Wait()
	require.Equal(t, realtime.StateConnecting, f.client.Status().State)

	close(gate)
	f.requireState(t, realtime.StateConnected)
	require.Equal(t, 1, f.dialer.Dials())
}

func TestConnect_ReplacesDeadTransport(t *testing.T) {
	f := setupTestFixture(t, testToken)
	first := f.connect(t)

	// The transport went away without the read loop noticing yet.
	first.alive.Store(false)
	f.client.Connect()

	require.Eventually(t, func() bool { return len(f.dialer.Conns()) == 2 }, waitTimeout, waitTick)
	f.requireState(t, realtime.StateConnected)
	require.Eventually(t, first.IsClosed, waitTimeout, waitTick)
}

func TestReconnect_BackoffDoublesUntilCeiling(t *testing.T) {
	f := setupTestFixture(t, testToken)
	f.dialer.SetFailing(true)

	f.client.Connect()
	require.Eventually(t, func() bool { return f.scheduler.Count() == 1 }, waitTimeout, waitTick)
	require.Equal(t, realtime.Status{State: realtime.StateReconnecting, Attempts: 1}, f.client.Status())

	for i := 0; i < 4; i++ {
		f.scheduler.Fire(i)
		require.Eventually(t, func() bool { return f.scheduler.Count() == i+2 }, waitTimeout, waitTick)
	}
	require.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, f.scheduler.Delays())

	// The fifth retry also fails and the client gives up.
	f.scheduler.Fire(4)
	f.requireState(t, realtime.StateDisconnected)
	require.Equal(t, 6, f.dialer.Dials())
	require.Equal(t, 5, f.scheduler.Count())
}

func TestReconnect_ExplicitConnectResetsAttempts(t *testing.T) {
	f := setupTestFixture(t, testToken)
	f.dialer.SetFailing(true)

	f.client.Connect()
	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool { return f.scheduler.Count() == i+1 }, waitTimeout, waitTick)
		f.scheduler.Fire(i)
	}
	f.requireState(t, realtime.StateDisconnected)

	f.client.Connect()
	require.Eventually(t, func() bool { return f.scheduler.Count() == 6 }, waitTimeout, waitTick)
	require.Equal(t, time.Second, f.scheduler.Delays()[5])
	require.Equal(t, 1, f.client.Status().Attempts)

	f.dialer.SetFailing(false)
	f.scheduler.Fire(5)
	f.requireState(t, realtime.StateConnected)
	require.Equal(t, 0, f.client.Status().Attempts)
}

func TestReconnect_ConnectDuringRetryDialResetsAttempts(t *testing.T) {
	f := setupTestFixture(t, testToken)
	f.dialer.SetFailing(true)

	f.client.Connect()
	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool { return f.scheduler.Count() == i+1 }, waitTimeout, waitTick)
		f.scheduler.Fire(i)
	}
	require.Eventually(t, func() bool { return f.scheduler.Count() == 4 }, waitTimeout, waitTick)
	require.Equal(t, 4, f.client.Status().Attempts)

	gate := make(chan struct{})
	f.dialer.SetGate(gate)
	f.scheduler.Fire(3)
	require.Equal(t, realtime.StateConnecting, f.client.Status().State)

	f.client.Connect()
	require.Equal(t, 0, f.client.Status().Attempts)
	close(gate)

	require.Eventually(t, func() bool { return f.scheduler.Count() == 5 }, waitTimeout, waitTick)
	require.Equal(t, time.Second, f.scheduler.Delays()[4])
	require.Equal(t, 1, f.client.Status().Attempts)
	require.Equal(t, 5, f.dialer.Dials())
}

func TestReconnect_AfterTransportLoss(t *testing.T) {
	f := setupTestFixture(t, testToken)
	conn := f.connect(t)

	conn.lose()

	f.requireState(t, realtime.StateReconnecting)
	require.Equal(t, []time.Duration{time.Second}, f.scheduler.Delays())

	f.scheduler.Fire(0)
	f.requireState(t, realtime.StateConnected)
	require.Len(t, f.dialer.Conns(), 2)
	require.Equal(t, 0, f.client.Status().Attempts)
}

func TestReconnect_AbandonedWhenCredentialDisappears(t *testing.T) {
	f := setupTestFixture(t, testToken)
	conn := f.connect(t)

	conn.lose()
	f.requireState(t, realtime.StateReconnecting)

	f.tokens.Set("")
	f.scheduler.Fire(0)

	require.Equal(t, realtime.StateDisconnected, f.client.Status().State)
	require.Equal(t, 1, f.dialer.Dials())
	require.Equal(t, 1, f.scheduler.Count())
}

func TestDisconnect_CancelsPendingRetry(t *testing.T) {
	f := setupTestFixture(t, testToken)
	conn := f.connect(t)

	conn.lose()
	f.requireState(t, realtime.StateReconnecting)

	f.client.Disconnect()
	require.Equal(t, realtime.Status{State: realtime.StateDisconnected}, f.client.Status())
	require.True(t, f.scheduler.Stopped(0))

	// A timer that had already fired must not resurrect the connection.
	f.scheduler.Fire(0)
	require.Equal(t, realtime.StateDisconnected, f.client.Status().State)
	require.Equal(t, 1, f.dialer.Dials())
}

func TestDisconnect_ClosesTransport(t *testing.T) {
	f := setupTestFixture(t, testToken)
	conn := f.connect(t)

	f.client.Disconnect()

	require.Equal(t, realtime.StateDisconnected, f.client.Status().State)
	require.Eventually(t, conn.IsClosed, waitTimeout, waitTick)
	require.Zero(t, f.scheduler.Count(), "a requested disconnect is not a loss")
}

func TestDisconnect_DuringDialDiscardsResult(t *testing.T) {
	f := setupTestFixture(t, testToken)
	gate := make(chan struct{})
	f.dialer.SetGate(gate)

	f.client.Connect()
	require.Equal(t, realtime.StateConnecting, f.client.Status().State)
	f.client.Disconnect()
	close(gate)

	require.Eventually(t, func() bool {
		conns := f.dialer.Conns()
		return len(conns) == 1 && conns[0].IsClosed()
	}, waitTimeout, waitTick)
	require.Equal(t, realtime.StateDisconnected, f.client.Status().State)
}

func TestDisconnect_SafeWhenIdle(t *testing.T) {
	f := setupTestFixture(t, testToken)

	f.client.Disconnect()
	f.client.Disconnect()

	require.Equal(t, realtime.StateDisconnected, f.client.Status().State)
}

func TestLiveness_CorrectsSilentLoss(t *testing.T) {
	f := setupTestFixture(t, testToken)
	conn := f.connect(t)

	conn.alive.Store(false)
	f.client.CheckLiveness()

	require.Equal(t, realtime.Status{State: realtime.StateReconnecting, Attempts: 1}, f.client.Status())
	require.Eventually(t, conn.IsClosed, waitTimeout, waitTick)

	// The read loop failing on the closed transport does not schedule a second retry.
	f.client.CheckLiveness()
	require.Never(t, func() bool { return f.scheduler.Count() > 1 }, 100*time.Millisecond, waitTick)
}

func TestLiveness_LeavesHealthyConnectionAlone(t *testing.T) {
	f := setupTestFixture(t, testToken)
	conn := f.connect(t)

	f.client.CheckLiveness()

	require.Equal(t, realtime.StateConnected, f.client.Status().State)
	require.False(t, conn.IsClosed())
	require.Zero(t, f.scheduler.Count())
}

func TestLiveness_MonitorFollowsConnection(t *testing.T) {
	var starts atomic.Int32
	client, err := realtime.New(config.Realtime{}, newFakeTokens(testToken), &fakeDialer{}, discardNotifier,
		realtime.WithAfterFunc((&fakeScheduler{}).AfterFunc),
		realtime.WithMonitorStartHook(func() { starts.Add(1) }))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.False(t, client.MonitorRunning())

	for i := 1; i <= 3; i++ {
		client.Connect()
		require.Eventually(t, func() bool { return client.Status().State == realtime.StateConnected }, waitTimeout, waitTick)
		client.Connect()
		require.True(t, client.MonitorRunning())
		require.Equal(t, int32(i), starts.Load(), "one monitor per connected period")

		client.Disconnect()
		require.False(t, client.MonitorRunning())
	}

	client.Connect()
	client.Close()
	require.False(t, client.MonitorRunning())
}

func TestClose_PreventsReconnect(t *testing.T) {
	f := setupTestFixture(t, testToken)
	f.connect(t)

	f.client.Close()
	f.client.Connect()

	require.Equal(t, realtime.StateDisconnected, f.client.Status().State)
	require.Equal(t, 1, f.dialer.Dials())
}

func TestSessionListener_FollowsSessionLifecycle(t *testing.T) {
	f := setupTestFixture(t, testToken)
	var listener session.Listener = f.client

	listener.SessionStarted(session.Principal{ID: 1, Username: "alice"})
	f.requireState(t, realtime.StateConnected)

	listener.SessionEnded()
	require.Equal(t, realtime.StateDisconnected, f.client.Status().State)
}

func TestDelivery_BuiltinNoticeBeforeSubscribers(t *testing.T) {
	f := setupTestFixture(t, testToken)

	seen := make(chan []notify.Notification, 1)
	f.client.Subscribe(realtime.TypeDetectionTaskCompleted, func(realtime.Message) error {
		seen <- f.notifier.All()
		return nil
	})

	conn := f.connect(t)
	conn.push(`{"type":"push_message","data":{"type":"detection_task_completed","data":{"message":"scan finished"},"timestamp":1700000000000}}`)

	var atDispatch []notify.Notification
	require.Eventually(t, func() bool {
		select {
		case atDispatch = <-seen:
			return true
		default:
			return false
		}
	}, waitTimeout, waitTick)
	require.Equal(t, []notify.Notification{{Level: notify.LevelSuccess, Message: "scan finished", Duration: 5 * time.Second}}, atDispatch)
}

func TestDelivery_HandlerFailureIsolated(t *testing.T) {
	f := setupTestFixture(t, testToken)

	var mu sync.Mutex
	var received []realtime.Message
	f.client.Subscribe(realtime.TypeDetectionTaskCompleted, func(realtime.Message) error {
		panic("boom")
	})
	f.client.Subscribe(realtime.TypeDetectionTaskCompleted, func(m realtime.Message) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, m)
		return nil
	})

	conn := f.connect(t)
	conn.push(`{"type":"push_message","data":{"type":"detection_task_completed","data":{"task_id":7},"timestamp":1700000000000}}`)
	conn.push(`{"type":"push_message","data":{"type":"detection_task_completed","data":{"task_id":8}}}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, waitTimeout, waitTick)

	mu.Lock()
	defer mu.Unlock()
	var payload struct {
		TaskID int `json:"task_id"`
	}
	require.NoError(t, received[0].Decode(&payload))
	require.Equal(t, 7, payload.TaskID)
	require.Equal(t, time.UnixMilli(1700000000000), received[0].Timestamp)
	require.Equal(t, realtime.StateConnected, f.client.Status().State)
}

func TestDelivery_DiscreteNamedFrames(t *testing.T) {
	f := setupTestFixture(t, testToken)

	got := make(chan realtime.Message, 1)
	f.client.Subscribe(realtime.TypeNewEmails, func(m realtime.Message) error {
		got <- m
		return nil
	})

	conn := f.connect(t)
	conn.push(`not json`)
	conn.push(`{"type":"connected","data":"welcome"}`)
	conn.push(`{"type":"new_emails","data":{"email_count":3}}`)

	var m realtime.Message
	require.Eventually(t, func() bool {
		select {
		case m = <-got:
			return true
		default:
			return false
		}
	}, waitTimeout, waitTick)
	require.Equal(t, realtime.TypeNewEmails, m.Type)

	last, ok := f.notifier.Last()
	require.True(t, ok)
	require.Equal(t, notify.LevelInfo, last.Level)
	require.Equal(t, "3 new emails detected", last.Message)
	require.Equal(t, realtime.StateConnected, f.client.Status().State, "bad frames do not drop the connection")
}

func TestDelivery_FrameReadBeforeDisconnectDropped(t *testing.T) {
	conn := newHeldFrameConn(`{"type":"push_message","data":{"type":"detection_task_completed","data":{"message":"scan finished"},"timestamp":1700000000000}}`)
	dialer := realtime.DialerFunc(func(context.Context, string) (realtime.Conn, error) { return conn, nil })
	notifier := notifyfake.NewRecorder()
	client, err := realtime.New(config.Realtime{}, newFakeTokens(testToken), dialer, notifier,
		realtime.WithAfterFunc((&fakeScheduler{}).AfterFunc))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	var handled atomic.Int32
	client.Subscribe(realtime.TypeDetectionTaskCompleted, func(realtime.Message) error {
		handled.Add(1)
		return nil
	})

	client.Connect()
	require.Eventually(t, func() bool {
		select {
		case <-conn.reading:
			return true
		default:
			return false
		}
	}, waitTimeout, waitTick)

	client.Disconnect()
	close(conn.release)

	require.Never(t, func() bool { return handled.Load() > 0 || len(notifier.All()) > 0 }, 100*time.Millisecond, waitTick)
	require.Equal(t, realtime.StateDisconnected, client.Status().State)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	f := setupTestFixture(t, testToken)

	var mu sync.Mutex
	calls := 0
	sub := f.client.Subscribe(realtime.TypeNewEmailNotification, func(realtime.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})
	require.True(t, f.client.Unsubscribe(sub))
	require.False(t, f.client.Unsubscribe(sub))

	conn := f.connect(t)
	conn.push(`{"type":"push_message","data":{"type":"new_email_notification","data":{"message":"2 new emails"}}}`)

	require.Eventually(t, func() bool { return len(f.notifier.All()) == 1 }, waitTimeout, waitTick)
	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, calls)
}
