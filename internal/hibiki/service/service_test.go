package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Hibiki/common/spec/catalog"
	"github.com/bdobrica/Hibiki/common/trace"
	"github.com/bdobrica/Hibiki/internal/hibiki/commands"
	"github.com/bdobrica/Hibiki/internal/hibiki/correlation"
	"github.com/bdobrica/Hibiki/internal/hibiki/dispatch"
	"github.com/bdobrica/Hibiki/internal/hibiki/gateway"
	"github.com/bdobrica/Hibiki/internal/hibiki/ratelimit"
	"github.com/bdobrica/Hibiki/internal/hibiki/service"
	"github.com/bdobrica/Hibiki/internal/hibiki/store"
)

type fakeProvider struct {
	supported bool
	err       error
	calls     []gateway.Payload
	contexts  []gateway.Context
}

func (p *fakeProvider) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{Name: "fake", SupportedCommands: []string{"*"}}
}

func (p *fakeProvider) Supports(string) bool { return p.supported }

func (p *fakeProvider) Execute(_ context.Context, payload gateway.Payload, pc gateway.Context) (*gateway.Result, error) {
	p.calls = append(p.calls, payload)
	p.contexts = append(p.contexts, pc)
	if p.err != nil {
		return nil, p.err
	}
	return &gateway.Result{
		Messages: []gateway.Message{{ID: "m1", Author: gateway.AuthorProvider, Body: "Lima: 18C", Timestamp: time.Now()}},
		Meta:     gateway.Meta{CommandID: "caller_1_1", State: correlation.StateSettled, Fragments: 2, Dropped: 1},
	}, nil
}

// failingHistory accepts nothing.
type failingHistory struct{ store.History }

func (failingHistory) SaveExecution(context.Context, *store.Execution) error {
	return errors.New("disk full")
}

type fixture struct {
	svc      *service.Service
	provider *fakeProvider
	store    *store.Store
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter, history store.History) *fixture {
	t.Helper()
	doc, err := catalog.Parse(catalog.Example())
	if err != nil {
		t.Fatal(err)
	}
	cat, err := commands.NewCatalog(doc)
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.New(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if history == nil {
		history = st
	}

	p := &fakeProvider{supported: true}
	return &fixture{
		svc: service.New(service.Deps{
			Catalog: cat, Provider: p, Limiter: limiter, History: history, Audit: st,
		}),
		provider: p,
		store:    st,
	}
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := trace.WithTraceID(context.Background(), "t_fixed")

	exec, err := f.svc.Execute(ctx, service.Request{UserID: "u1", Input: "/WEATHER Lima"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(f.provider.calls) != 1 {
		t.Fatalf("provider called %d times", len(f.provider.calls))
	}
	sent := f.provider.calls[0]
	if sent.Raw != "/w Lima" || sent.Command != "/weather" {
		t.Errorf("provider payload = %+v", sent)
	}
	if exec.Payload.Raw != "/WEATHER Lima" {
		t.Errorf("execution keeps the user input, got %q", exec.Payload.Raw)
	}
	if exec.SessionID == "" || f.provider.contexts[0].SessionID != exec.SessionID {
		t.Errorf("session id not generated and forwarded: %+v", f.provider.contexts[0])
	}
	if exec.TraceID != "t_fixed" {
		t.Errorf("TraceID = %q", exec.TraceID)
	}

	got, err := f.svc.Get(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Result.Messages) != 1 || got.Result.Messages[0].Body != "Lima: 18C" {
		t.Errorf("stored result = %+v", got.Result)
	}

	audit, err := f.store.GetAuditByTrace(context.Background(), "t_fixed")
	if err != nil || len(audit) != 1 || audit[0].Result != store.AuditSuccess {
		t.Errorf("audit = %+v, %v", audit, err)
	}
}

func TestExecute_KeepsGivenSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	exec, err := f.svc.Execute(context.Background(), service.Request{SessionID: "s-42", UserID: "u1", Input: "/forecast lima"})
	if err != nil {
		t.Fatal(err)
	}
	if exec.SessionID != "s-42" {
		t.Errorf("SessionID = %q", exec.SessionID)
	}
}

func TestExecute_RateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.New(ratelimit.DefaultConfig()), nil)
	ctx := context.Background()

	if _, err := f.svc.Execute(ctx, service.Request{UserID: "u1", Input: "/weather lima"}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Execute(ctx, service.Request{UserID: "u1", Input: "/weather lima"})
	var rl *ratelimit.Error
	if !errors.As(err, &rl) {
		t.Fatalf("got %v, want *ratelimit.Error", err)
	}
	if rl.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %s", rl.RetryAfter)
	}
	if len(f.provider.calls) != 1 {
		t.Errorf("provider called %d times, want 1", len(f.provider.calls))
	}
}

func TestExecute_InvalidCommand(t *testing.T) {
	f := newFixture(t, nil, nil)

	for input, want := range map[string]commands.Code{
		"weather lima":     commands.CodeInvalidFormat,
		"/track 123":       commands.CodeInvalidArguments,
		"/weather":         commands.CodeInvalidArguments,
		"/":                commands.CodeEmpty,
		"/weather a b c d": commands.CodeInvalidArguments,
	} {
		_, err := f.svc.Execute(context.Background(), service.Request{UserID: "u1", Input: input})
		if code, _ := commands.CodeOf(err); code != want {
			t.Errorf("Execute(%q) = %v, want %s", input, err, want)
		}
	}
	if len(f.provider.calls) != 0 {
		t.Errorf("provider should not be called for invalid commands")
	}
}

func TestExecute_Unsupported(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.provider.supported = false

	_, err := f.svc.Execute(context.Background(), service.Request{UserID: "u1", Input: "/weather lima"})
	if !errors.Is(err, service.ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}

func TestExecute_ProviderErrorIsReturnedAndAudited(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.provider.err = dispatch.ErrTransportDisconnected
	ctx := trace.WithTraceID(context.Background(), "t_err")

	_, err := f.svc.Execute(ctx, service.Request{UserID: "u1", Input: "/weather lima"})
	if !errors.Is(err, dispatch.ErrTransportDisconnected) {
		t.Fatalf("got %v", err)
	}
	audit, _ := f.store.GetAuditByTrace(context.Background(), "t_err")
	if len(audit) != 1 || audit[0].Result != store.AuditError {
		t.Errorf("audit = %+v", audit)
	}
}

func TestExecute_PersistenceFailureIsNotReturned(t *testing.T) {
	f := newFixture(t, nil, failingHistory{})
	ctx := trace.WithTraceID(context.Background(), "t_persist")

	exec, err := f.svc.Execute(ctx, service.Request{UserID: "u1", Input: "/weather lima"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec == nil || len(exec.Result.Messages) != 1 {
		t.Fatalf("user should still get the result, got %+v", exec)
	}

	audit, _ := f.store.GetAuditByTrace(context.Background(), "t_persist")
	if len(audit) != 2 || audit[1].Action != "command.persist" || audit[1].ErrorMessage != "disk full" {
		t.Errorf("audit = %+v", audit)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	for _, in := range []string{"/weather lima", "/forecast cusco"} {
		if _, err := f.svc.Execute(ctx, service.Request{UserID: "u1", Input: in}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.Execute(ctx, service.Request{UserID: "u2", Input: "/weather quito"}); err != nil {
		t.Fatal(err)
	}

	list, err := f.svc.History(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d executions, want 2", len(list))
	}
	for _, e := range list {
		if e.UserID != "u1" || e.Result == nil || len(e.Result.Messages) != 1 {
			t.Errorf("unexpected execution %+v", e)
		}
	}
}
