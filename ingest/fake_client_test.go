package ingest

import (
	"sync"
	"sync/atomic"

	"github.com/shardcore/bulkload/client"
)

// fakeCall records one CallProcedure invocation for assertions.
type fakeCall struct {
	procName string
	args     []interface{}
}

// fakeResponder decides how a fake client reacts to one call: it
// either returns a submission error (simulating CallProcedure itself
// failing, e.g. the VoltDB client's IOException case) or a Response to
// deliver to the callback.
type fakeResponder func(call fakeCall) (client.Response, error)

// fakeClient is an in-memory client.ProcedureClient double. Responses
// are delivered on a separate goroutine by default, matching a real
// async database client and exercising the ingest package's
// no-affinity-required response handling.
type fakeClient struct {
	mu        sync.Mutex
	calls     []fakeCall
	respond   fakeResponder
	sync      bool // deliver callbacks on the calling goroutine instead
	healthy   bool
	healthSet bool

	// submitFailures is decremented on each CallProcedure invocation
	// while positive; those calls return submitErr instead of
	// delivering a response, simulating the database connection itself
	// being unreachable (the VoltDB client's IOException case).
	submitFailures int32
	submitErr      error
}

func newFakeClient(respond fakeResponder) *fakeClient {
	return &fakeClient{respond: respond, healthy: true, healthSet: true}
}

// alwaysSucceed is the default responder most tests want.
func alwaysSucceed(fakeCall) (client.Response, error) {
	return client.Response{Status: client.StatusSuccess}, nil
}

func (f *fakeClient) CallProcedure(procName string, callback client.ResponseCallback, args ...interface{}) error {
	call := fakeCall{procName: procName, args: args}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	respond := f.respond
	synchronous := f.sync
	f.mu.Unlock()

	if atomic.AddInt32(&f.submitFailures, -1) >= 0 {
		return f.submitErr
	}
	atomic.AddInt32(&f.submitFailures, 1)

	resp, err := respond(call)
	if err != nil {
		return err
	}
	if synchronous {
		callback(resp)
	} else {
		go callback(resp)
	}
	return nil
}

func (f *fakeClient) Healthy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.healthy {
		return nil
	}
	return client.Response{Status: client.StatusConnectionLost}
}

func (f *fakeClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeClient) setRespond(r fakeResponder) {
	f.mu.Lock()
	f.respond = r
	f.mu.Unlock()
}
