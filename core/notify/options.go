package notify

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/notify-go/core/state"
)

// DeliverPolicy decides whether a subscription sees changes that happened
// before it was registered.
type DeliverPolicy int

const (
	// DeliverNew only delivers changes made after the subscription was
	// registered.
	DeliverNew DeliverPolicy = iota
	// DeliverLast delivers the current stamp once right away if it differs
	// from the baseline (see WithBaseline), then every later change.
	DeliverLast
)

func (p DeliverPolicy) String() string {
	switch p {
	case DeliverNew:
		return "new"
	case DeliverLast:
		return "last"
	default:
		return "unknown"
	}
}

type (
	RegistryOption interface {
		applyToRegistry(*registryOpts)
	}
	SubscribeOption interface {
		applyToSubscribe(*subscribeOpts)
	}

	registryOpts struct {
		log     *slog.Logger
		metrics Metrics
		tracer  trace.Tracer
		onError func(*CallbackError)
	}

	subscribeOpts struct {
		log      *slog.Logger
		policy   DeliverPolicy
		baseline state.Stamp
		force    bool
		name     string
	}
)

type (
	valueOption[T any]  struct{ v T }
	LogOption           valueOption[*slog.Logger]
	MetricsOption       valueOption[Metrics]
	TracerOption        valueOption[trace.Tracer]
	ErrorHandlerOption  valueOption[func(*CallbackError)]
	DeliverPolicyOption valueOption[DeliverPolicy]
	BaselineOption      valueOption[state.Stamp]
	ForceDeliveryOption struct{}
	NameOption          valueOption[string]
)

func WithLog(l *slog.Logger) LogOption          { return LogOption{v: l} }
func WithMetrics(m Metrics) MetricsOption       { return MetricsOption{v: m} }
func WithTracer(t trace.Tracer) TracerOption    { return TracerOption{v: t} }
func WithName(name string) NameOption           { return NameOption{v: name} }
func WithForceDelivery() ForceDeliveryOption    { return ForceDeliveryOption{} }
func WithBaseline(s state.Stamp) BaselineOption { return BaselineOption{v: s} }

// WithErrorHandler receives failed and panicked deliveries. The handler runs
// on the delivery goroutine.
func WithErrorHandler(fn func(*CallbackError)) ErrorHandlerOption {
	return ErrorHandlerOption{v: fn}
}

func WithDeliverPolicy(p DeliverPolicy) DeliverPolicyOption { return DeliverPolicyOption{v: p} }

func (o LogOption) applyToRegistry(r *registryOpts)          { r.log = o.v }
func (o MetricsOption) applyToRegistry(r *registryOpts)      { r.metrics = o.v }
func (o TracerOption) applyToRegistry(r *registryOpts)       { r.tracer = o.v }
func (o ErrorHandlerOption) applyToRegistry(r *registryOpts) { r.onError = o.v }

func (o LogOption) applyToSubscribe(s *subscribeOpts)           { s.log = o.v }
func (o DeliverPolicyOption) applyToSubscribe(s *subscribeOpts) { s.policy = o.v }
func (o BaselineOption) applyToSubscribe(s *subscribeOpts)      { s.baseline = o.v }
func (o ForceDeliveryOption) applyToSubscribe(s *subscribeOpts) { s.force = true }
func (o NameOption) applyToSubscribe(s *subscribeOpts)          { s.name = o.v }
