package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

// Function names
const (
	SendNotification      = "send-notification"
	CreateCheckoutSession = "create-checkout-session"
	RunAutomatedTask      = "run-automated-task"
)

// Call is one invocation
type Call struct {
	UserID  string
	Email   string
	Payload json.RawMessage
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (c *Call) Decode(v any) error {
	if len(c.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// Func runs a function and returns its JSON-serialisable result
type Func func(ctx context.Context, call *Call) (any, error)

// Authorizer re-checks the caller's role before privileged functions run
type Authorizer interface {
	Authorize(ctx context.Context, userID string, allowed func(domain.Role) bool) (domain.Role, error)
}

type registration struct {
	fn      Func
	allowed func(domain.Role) bool
}

// Registry maps function names to implementations
type Registry struct {
	auth Authorizer
	log  *logger.Logger

	mu    sync.RWMutex
	funcs map[string]registration
}

// NewRegistry creates an empty registry
func NewRegistry(auth Authorizer, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Get()
	}
	return &Registry{auth: auth, log: log, funcs: make(map[string]registration)}
}

// Register adds fn under name. allowed restricts callers by role; nil lets
// any signed-in user call it.
func (r *Registry) Register(name string, fn Func, allowed func(domain.Role) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = registration{fn: fn, allowed: allowed}
}

// Names lists registered functions
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named function. A panic inside the function is returned
// as an error.
func (r *Registry) Invoke(ctx context.Context, name string, call *Call) (result any, err error) {
	ctx, span := telemetry.StartSpan(ctx, "functions.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("function", name), attribute.String("user_id", call.UserID))

	r.mu.RLock()
	reg, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		span.SetStatus(codes.Error, "function not found")
		return nil, domain.ErrFunctionNotFound
	}

	if reg.allowed != nil {
		if r.auth == nil {
			return nil, domain.ErrForbidden
		}
		if _, err := r.auth.Authorize(ctx, call.UserID, reg.allowed); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.ErrorContext(ctx, "function panicked", zap.String("function", name), zap.Any("panic", p))
			result, err = nil, fmt.Errorf("function %s failed unexpectedly", name)
			telemetry.RecordError(span, err)
		}
	}()

	result, err = reg.fn(ctx, call)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}
